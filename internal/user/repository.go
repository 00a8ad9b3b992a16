package user

import (
	"context"
	"database/sql"
	"errors"

	"whisker/infrastructure"
)

type Repository interface {
	Create(ctx context.Context, user *User) (*User, error)
	ByID(ctx context.Context, id int64) (*User, error)
	ByUsername(ctx context.Context, username string) (*User, error)
	UpdatePreferences(ctx context.Context, userID int64, description, imageFile string) error
}

type repository struct {
	tx    infrastructure.Transactor
	store Storage
}

func NewRepository(tx infrastructure.Transactor, store Storage) Repository {
	return &repository{tx: tx, store: store}
}

func (r *repository) Create(ctx context.Context, user *User) (*User, error) {
	err := r.tx.WithinTransaction(ctx, func(tx *sql.Tx) error {
		return r.store.SaveUser(tx, user)
	})
	if err != nil {
		if infrastructure.IsUniqueViolation(err) {
			return nil, infrastructure.ErrUserAlreadyExists
		}
		return nil, err
	}
	return user, nil
}

func (r *repository) ByID(ctx context.Context, id int64) (*User, error) {
	u, err := r.store.UserByID(id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, infrastructure.ErrUserNotFound
	}
	return u, err
}

func (r *repository) ByUsername(ctx context.Context, username string) (*User, error) {
	u, err := r.store.UserByUsername(username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, infrastructure.ErrUserNotFound
	}
	return u, err
}

func (r *repository) UpdatePreferences(ctx context.Context, userID int64, description, imageFile string) error {
	return r.tx.WithinTransaction(ctx, func(tx *sql.Tx) error {
		return r.store.UpdatePreferences(tx, userID, description, imageFile)
	})
}
