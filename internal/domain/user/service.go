package user

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/noosi159/Hospital1-backend/internal/platform/apperr"
	"github.com/noosi159/Hospital1-backend/internal/platform/auth"
)

const (
	minPasswordLen = 6
	bcryptCost     = 10
)

var ErrInvalidCredentials = apperr.Validation("invalid username or password")

type Service struct {
	repo   Repository
	jwt    auth.JWTConfig
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(repo Repository, jwt auth.JWTConfig, logger zerolog.Logger) *Service {
	return &Service{repo: repo, jwt: jwt, logger: logger, now: time.Now}
}

func (s *Service) Create(ctx context.Context, in CreateInput) (*User, error) {
	username := strings.TrimSpace(in.Username)
	fullName := strings.TrimSpace(in.FullName)
	if username == "" || in.Password == "" || fullName == "" || in.Role == "" {
		return nil, apperr.Validation("username, password, full_name, role are required")
	}
	role, ok := NormalizeRole(in.Role)
	if !ok {
		return nil, apperr.Validation("invalid role %q", in.Role)
	}
	hash, err := hashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	u := &User{Username: username, PasswordHash: hash, FullName: fullName, Role: role, IsActive: true}
	if in.IsActive != nil {
		u.IsActive = *in.IsActive
	}
	if err := s.repo.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Service) GetByID(ctx context.Context, id int64) (*User, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, f ListFilter) ([]*User, error) {
	f.Search = strings.TrimSpace(f.Search)
	if f.Role != "" {
		role, ok := NormalizeRole(f.Role)
		if !ok {
			return nil, apperr.Validation("invalid role %q", f.Role)
		}
		f.Role = role
	}
	return s.repo.List(ctx, f)
}

func (s *Service) Update(ctx context.Context, id int64, in UpdateInput) (*User, error) {
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.Username != nil {
		if u.Username = strings.TrimSpace(*in.Username); u.Username == "" {
			return nil, apperr.Validation("username must not be empty")
		}
	}
	if in.FullName != nil {
		u.FullName = strings.TrimSpace(*in.FullName)
	}
	if in.Role != nil {
		role, ok := NormalizeRole(*in.Role)
		if !ok {
			return nil, apperr.Validation("invalid role %q", *in.Role)
		}
		u.Role = role
	}
	if in.IsActive != nil {
		u.IsActive = *in.IsActive
	}
	if err := s.repo.Update(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Service) ResetPassword(ctx context.Context, id int64, password string) error {
	hash, err := hashPassword(password)
	if err != nil {
		return err
	}
	return s.repo.SetPassword(ctx, id, hash)
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	return s.repo.Delete(ctx, id)
}

// Login checks the credentials and issues an access token. Unknown users,
// wrong passwords and inactive accounts all yield ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	u, err := s.repo.GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if !apperr.IsNotFound(err) {
			return nil, err
		}
		// Spend the same bcrypt time as a real comparison.
		_, _ = bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		s.logger.Warn().Str("username", u.Username).Msg("failed login attempt")
		return nil, ErrInvalidCredentials
	}
	if !u.IsActive {
		return nil, ErrInvalidCredentials
	}

	now := s.now()
	token, err := auth.IssueToken(s.jwt, u.ID, u.Username, u.Role, now)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	s.logger.Info().Int64("user_id", u.ID).Str("role", u.Role).Msg("user logged in")
	return &LoginResult{Token: token, ExpiresAt: now.Add(s.jwt.TTL), User: u}, nil
}

func hashPassword(pw string) (string, error) {
	if len(pw) < minPasswordLen {
		return "", apperr.Validation("password must be at least %d characters", minPasswordLen)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pw), bcryptCost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return "", apperr.Validation("password is too long")
	}
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}
