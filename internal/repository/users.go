package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"pharmaledger/m/domain"
	"pharmaledger/m/internal/ledger"
)

func InsertUser(ctx context.Context, q sqlx.ExtContext, u *domain.User) error {
	u.CreatedAt = now()
	id, err := insertReturningID(ctx, q,
		`INSERT INTO users (username, email, password, role, created_at) VALUES (?, ?, ?, ?, ?)`,
		u.Username, u.Email, u.Password, u.Role, u.CreatedAt)
	if err != nil {
		return uniqueConflict(err, "user "+u.Username)
	}
	u.ID = id
	return nil
}

func GetUserByUsername(ctx context.Context, q sqlx.ExtContext, username string) (domain.User, error) {
	var u domain.User
	err := sqlx.GetContext(ctx, q, &u, q.Rebind(`SELECT id, username, email, password, role, created_at FROM users WHERE username = ?`), username)
	if errors.Is(err, sql.ErrNoRows) {
		return u, ledger.ErrNotFound
	}
	return u, err
}

func GetUser(ctx context.Context, q sqlx.ExtContext, id int64) (domain.User, error) {
	var u domain.User
	err := get(ctx, q, &u, "user", id, `SELECT id, username, email, password, role, created_at FROM users WHERE id = ?`, id)
	return u, err
}
