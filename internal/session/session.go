package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	AdminHashKey   = "pg_admin_hash"
	CurrentUserKey = "pg_current_user"

	AdminUsername = "admin"
)

type Role string

const (
	RoleAdmin Role = "ADMIN"
	RoleGuest Role = "GUEST"
)

var (
	ErrAlreadyInitialized = errors.New("admin already initialized")
	ErrEmptyPassword      = errors.New("password must not be empty")
)

type User struct {
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Store persists the admin password hash and the signed-in user marker. It
// decides nothing about who may sign in.
type Store struct {
	kv   KV
	cost int
}

func New(kv KV) *Store {
	return &Store{kv: kv, cost: bcrypt.DefaultCost}
}

func (s *Store) AdminInitialized(ctx context.Context) (bool, error) {
	_, ok, err := s.kv.Get(ctx, AdminHashKey)
	if err != nil {
		return false, fmt.Errorf("failed to read admin hash: %w", err)
	}
	return ok, nil
}

// InitializeAdmin stores the admin password hash and signs the admin in. It
// fails once an admin exists.
func (s *Store) InitializeAdmin(ctx context.Context, password string) error {
	if password == "" {
		return ErrEmptyPassword
	}
	initialized, err := s.AdminInitialized(ctx)
	if err != nil {
		return err
	}
	if initialized {
		return ErrAlreadyInitialized
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if err := s.kv.Set(ctx, AdminHashKey, string(hash)); err != nil {
		return fmt.Errorf("failed to store admin hash: %w", err)
	}
	return s.SetCurrentUser(ctx, User{Username: AdminUsername, Role: RoleAdmin})
}

// VerifyAdmin reports whether password matches the stored admin hash. It is
// false when no admin has been initialized.
func (s *Store) VerifyAdmin(ctx context.Context, password string) (bool, error) {
	hash, ok, err := s.kv.Get(ctx, AdminHashKey)
	if err != nil {
		return false, fmt.Errorf("failed to read admin hash: %w", err)
	}
	if !ok {
		return false, nil
	}

	err = bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to compare password: %w", err)
	}
	return true, nil
}

// CurrentUser returns the signed-in user. An unreadable marker counts as
// nobody signed in.
func (s *Store) CurrentUser(ctx context.Context) (User, bool, error) {
	raw, ok, err := s.kv.Get(ctx, CurrentUserKey)
	if err != nil {
		return User{}, false, fmt.Errorf("failed to read current user: %w", err)
	}
	if !ok {
		return User{}, false, nil
	}

	var u User
	if err := json.Unmarshal([]byte(raw), &u); err != nil || u.Username == "" {
		return User{}, false, nil
	}
	return u, true, nil
}

func (s *Store) SetCurrentUser(ctx context.Context, u User) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("failed to encode user: %w", err)
	}
	if err := s.kv.Set(ctx, CurrentUserKey, string(data)); err != nil {
		return fmt.Errorf("failed to store current user: %w", err)
	}
	return nil
}

func (s *Store) ClearCurrentUser(ctx context.Context) error {
	if err := s.kv.Delete(ctx, CurrentUserKey); err != nil {
		return fmt.Errorf("failed to clear current user: %w", err)
	}
	return nil
}
