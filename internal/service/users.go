package service

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"pharmaledger/m/domain"
	"pharmaledger/m/internal/ledger"
	"pharmaledger/m/internal/repository"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

type Users struct {
	*Core
}

func NewUsers(core *Core) *Users {
	return &Users{Core: core}
}

func (s *Users) Create(ctx context.Context, username, email, password string, role domain.Role) (domain.User, error) {
	v := &ledger.ValidationError{}
	username = strings.TrimSpace(username)
	if username == "" {
		v.Add("username", "is required")
	}
	if password == "" {
		v.Add("password", "is required")
	}
	if !role.Valid() {
		v.Add("role", "must be admin, pharmacist or cashier")
	}
	if err := v.Err(); err != nil {
		return domain.User{}, err
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return domain.User{}, err
	}
	u := domain.User{Username: username, Email: strings.ToLower(strings.TrimSpace(email)), Password: string(hashed), Role: role}
	if err := repository.InsertUser(ctx, s.db, &u); err != nil {
		return domain.User{}, err
	}
	u.Password = ""
	return u, nil
}

// Authenticate checks a username and password pair.
func (s *Users) Authenticate(ctx context.Context, username, password string) (domain.User, error) {
	u, err := repository.GetUserByUsername(ctx, s.db, strings.TrimSpace(username))
	if errors.Is(err, ledger.ErrNotFound) {
		return domain.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return domain.User{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(password)) != nil {
		return domain.User{}, ErrInvalidCredentials
	}
	u.Password = ""
	return u, nil
}
