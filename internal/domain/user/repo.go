package user

import "context"

type Repository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	List(ctx context.Context, f ListFilter) ([]*User, error)
	Update(ctx context.Context, u *User) error
	SetPassword(ctx context.Context, id int64, hash string) error
	Delete(ctx context.Context, id int64) error
}
