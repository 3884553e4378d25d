package user

import (
	"strings"
	"time"

	"github.com/noosi159/Hospital1-backend/internal/platform/auth"
)

type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	FullName     string    `json:"full_name"`
	Role         string    `json:"role"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

var validRoles = map[string]bool{
	auth.RoleAdmin:   true,
	auth.RoleAuditor: true,
	auth.RoleCoder:   true,
}

// NormalizeRole upper-cases r and reports whether it is a known role.
func NormalizeRole(r string) (string, bool) {
	r = strings.ToUpper(strings.TrimSpace(r))
	return r, validRoles[r]
}

type ListFilter struct {
	Search   string
	Role     string
	IsActive *bool
}

type CreateInput struct {
	Username string `json:"username"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
	IsActive *bool  `json:"is_active"`
}

type UpdateInput struct {
	Username *string `json:"username"`
	FullName *string `json:"full_name"`
	Role     *string `json:"role"`
	IsActive *bool   `json:"is_active"`
}

type LoginResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      *User     `json:"user"`
}
