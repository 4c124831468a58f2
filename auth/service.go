// Package auth implements username/password and Google sign-in on top of the
// session middleware. The only state it keeps per visitor is the user id in
// SessionData.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"storefront/session"
	"storefront/store"
)

var (
	ErrNotFound        = errors.New("user not found")
	ErrUnauthorized    = errors.New("invalid credentials")
	ErrConflict        = errors.New("user already exists")
	ErrUnauthenticated = errors.New("not authenticated")
	ErrInvalidInput    = errors.New("invalid input")
)

type SessionData struct {
	UserID *int64 `json:"userId,omitempty"`
}

type Session = session.Session[SessionData]

var SessionSchema = &session.Schema[SessionData]{
	Name: "auth.SessionData",
	Validate: func(d SessionData) error {
		if d.UserID != nil && *d.UserID <= 0 {
			return fmt.Errorf("userId must be positive, got %d", *d.UserID)
		}
		return nil
	},
}

type Hasher interface {
	Hash(password string) (string, error)
	Verify(password string, encodedHash string) (bool, error)
}

type Service struct {
	users  store.UserStore
	hasher Hasher
}

func NewService(users store.UserStore, hasher Hasher) *Service {
	return &Service{users: users, hasher: hasher}
}

// Login checks the credentials and stores the user id in the session, which
// moves to a fresh id when the request ends.
func (s *Service) Login(ctx context.Context, sess *Session, username, password string) (int64, error) {
	username = strings.TrimSpace(username)
	user, err := s.users.UserByUsername(ctx, username)
	if errors.Is(err, store.ErrUserNotFound) {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, username)
	}
	if err != nil {
		return 0, err
	}

	// Accounts created through Google have no password.
	if user.PasswordHash == nil {
		return 0, fmt.Errorf("%w: no password set", ErrUnauthorized)
	}

	ok, err := s.hasher.Verify(password, *user.PasswordHash)
	if err != nil {
		return 0, fmt.Errorf("error verifying password for user %d: %w", user.ID, err)
	}
	if !ok {
		return 0, ErrUnauthorized
	}

	setUser(sess, user.ID)
	return user.ID, nil
}

type RegisterInput struct {
	Username string
	Password string
	Fullname string
	Email    string
}

func (in *RegisterInput) normalize() {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	in.Fullname = strings.TrimSpace(in.Fullname)
}

func (in RegisterInput) validate() error {
	var missing []string
	if in.Username == "" {
		missing = append(missing, "username")
	}
	if in.Password == "" {
		missing = append(missing, "password")
	}
	if in.Email == "" {
		missing = append(missing, "email")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidInput, strings.Join(missing, ", "))
	}
	return nil
}

// Register creates a password account. It does not log the new user in.
func (s *Service) Register(ctx context.Context, in RegisterInput) (int64, error) {
	in.normalize()
	if err := in.validate(); err != nil {
		return 0, err
	}

	_, err := s.users.UserByUsername(ctx, in.Username)
	if err == nil {
		return 0, fmt.Errorf("%w: %s", ErrConflict, in.Username)
	}
	if !errors.Is(err, store.ErrUserNotFound) {
		return 0, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return 0, fmt.Errorf("error hashing password: %w", err)
	}

	id, err := s.users.CreateUser(ctx, &store.User{
		Username:     in.Username,
		Email:        in.Email,
		Fullname:     in.Fullname,
		PasswordHash: &hash,
	})
	if errors.Is(err, store.ErrUserExists) {
		return 0, fmt.Errorf("%w: %v", ErrConflict, err)
	}
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Service) Me(sess *Session) (int64, error) {
	data := sess.Get()
	if data.UserID == nil {
		return 0, ErrUnauthenticated
	}
	return *data.UserID, nil
}

// Logout drops the session row and cookie; the next request starts a fresh
// anonymous session.
func (s *Service) Logout(sess *Session) error {
	if _, err := s.Me(sess); err != nil {
		return err
	}
	sess.Destroy()
	return nil
}

func setUser(sess *Session, userID int64) {
	sess.Update(func(d *SessionData) {
		d.UserID = &userID
	})
	sess.RenewID()
}
