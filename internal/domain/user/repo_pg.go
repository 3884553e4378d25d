package user

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noosi159/Hospital1-backend/internal/platform/apperr"
	"github.com/noosi159/Hospital1-backend/internal/platform/db"
)

const uniqueViolation = "23505"

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const userCols = `id, username, password_hash, full_name, role, is_active, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, u *User) error {
	err := db.Pick(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO users (username, password_hash, full_name, role, is_active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`,
		u.Username, u.PasswordHash, u.FullName, u.Role, u.IsActive,
	).Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	if isUniqueViolation(err) {
		return apperr.Conflict("username %q already exists", u.Username)
	}
	return apperr.Store("create user", err)
}

func (r *repoPG) GetByID(ctx context.Context, id int64) (*User, error) {
	u, err := scanUser(db.Pick(ctx, r.pool).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("user %d not found", id)
	}
	if err != nil {
		return nil, apperr.Store("get user", err)
	}
	return u, nil
}

func (r *repoPG) GetByUsername(ctx context.Context, username string) (*User, error) {
	u, err := scanUser(db.Pick(ctx, r.pool).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE username = $1`, username))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("user %q not found", username)
	}
	if err != nil {
		return nil, apperr.Store("get user", err)
	}
	return u, nil
}

func (r *repoPG) List(ctx context.Context, f ListFilter) ([]*User, error) {
	rows, err := db.Pick(ctx, r.pool).Query(ctx, `
		SELECT `+userCols+` FROM users
		WHERE ($1 = '' OR username ILIKE '%' || $1 || '%' OR full_name ILIKE '%' || $1 || '%')
			AND ($2 = '' OR role = $2)
			AND ($3::boolean IS NULL OR is_active = $3)
		ORDER BY id`, f.Search, f.Role, f.IsActive)
	if err != nil {
		return nil, apperr.Store("list users", err)
	}
	defer rows.Close()
	var out []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, apperr.Store("scan user", err)
		}
		out = append(out, u)
	}
	return out, apperr.Store("list users", rows.Err())
}

func (r *repoPG) Update(ctx context.Context, u *User) error {
	err := db.Pick(ctx, r.pool).QueryRow(ctx, `
		UPDATE users SET username=$2, full_name=$3, role=$4, is_active=$5, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		u.ID, u.Username, u.FullName, u.Role, u.IsActive,
	).Scan(&u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound("user %d not found", u.ID)
	}
	if isUniqueViolation(err) {
		return apperr.Conflict("username %q already exists", u.Username)
	}
	return apperr.Store("update user", err)
}

func (r *repoPG) SetPassword(ctx context.Context, id int64, hash string) error {
	tag, err := db.Pick(ctx, r.pool).Exec(ctx,
		`UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`, id, hash)
	if err != nil {
		return apperr.Store("set password", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("user %d not found", id)
	}
	return nil
}

func (r *repoPG) Delete(ctx context.Context, id int64) error {
	tag, err := db.Pick(ctx, r.pool).Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return apperr.Store("delete user", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("user %d not found", id)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.FullName, &u.Role, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}
