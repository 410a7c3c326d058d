package users

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gobox/gobox/internal/utils"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS users (
	username TEXT PRIMARY KEY,
	email TEXT NOT NULL,
	salt TEXT NOT NULL,
	password_hash TEXT NOT NULL,
	activation_code TEXT NOT NULL,
	active INTEGER NOT NULL DEFAULT 0
);
`

const activationCodeLength = 6

var (
	ErrUserExists         = errors.New("user already exists")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCode        = errors.New("invalid activation code")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotActive      = errors.New("user not active")
)

type User struct {
	Username       string `db:"username"`
	Email          string `db:"email"`
	Salt           string `db:"salt"`
	PasswordHash   string `db:"password_hash"`
	ActivationCode string `db:"activation_code"`
	Active         bool   `db:"active"`
}

// UserService keeps dev server accounts. There is no mail delivery: the
// activation code is written to the log.
type UserService struct {
	db *sqlx.DB
}

func NewUserService(db *sqlx.DB) (*UserService, error) {
	if _, err := db.Exec(schemaSQL); err != nil {
		return nil, fmt.Errorf("failed to initialize users: %w", err)
	}
	return &UserService{db: db}, nil
}

// Register creates an inactive user and returns its activation code.
func (s *UserService) Register(ctx context.Context, username, password, email string) (string, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return "", ErrInvalidCredentials
	}
	if err := utils.ValidateEmail(email); err != nil {
		return "", err
	}

	code, err := utils.RandBase34(activationCodeLength)
	if err != nil {
		return "", err
	}

	salt := uuid.NewString()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users (username, email, salt, password_hash, activation_code) VALUES (?, ?, ?, ?, ?)`,
		username, email, salt, hashPassword(salt, password), code,
	)
	if err != nil {
		if _, found := s.get(ctx, username); found {
			return "", ErrUserExists
		}
		return "", fmt.Errorf("failed to register %s: %w", username, err)
	}

	slog.Info("user registered", "username", username, "email", email, "activationCode", code)
	return code, nil
}

// Activate marks the user active if code matches.
func (s *UserService) Activate(ctx context.Context, username, code string) (*User, error) {
	user, found := s.get(ctx, username)
	if !found {
		return nil, ErrUserNotFound
	}
	if user.Active {
		return user, nil
	}
	if subtle.ConstantTimeCompare([]byte(strings.ToUpper(code)), []byte(user.ActivationCode)) != 1 {
		return nil, ErrInvalidCode
	}

	if _, err := s.db.ExecContext(ctx, "UPDATE users SET active = 1 WHERE username = ?", username); err != nil {
		return nil, fmt.Errorf("failed to activate %s: %w", username, err)
	}
	user.Active = true
	slog.Info("user activated", "username", username)
	return user, nil
}

// Authenticate checks a username and password pair of an active user.
func (s *UserService) Authenticate(ctx context.Context, username, password string) (*User, error) {
	user, found := s.get(ctx, username)
	if !found {
		return nil, ErrInvalidCredentials
	}
	want := []byte(user.PasswordHash)
	got := []byte(hashPassword(user.Salt, password))
	if subtle.ConstantTimeCompare(want, got) != 1 {
		return nil, ErrInvalidCredentials
	}
	if !user.Active {
		return nil, ErrUserNotActive
	}
	return user, nil
}

func (s *UserService) get(ctx context.Context, username string) (*User, bool) {
	var user User
	err := s.db.GetContext(ctx, &user, "SELECT * FROM users WHERE username = ?", username)
	if errors.Is(err, sql.ErrNoRows) || err != nil {
		return nil, false
	}
	return &user, true
}

func hashPassword(salt, password string) string {
	sum := sha256.Sum256([]byte(salt + ":" + password))
	return hex.EncodeToString(sum[:])
}
