// Package users stores account records. Email uniqueness is enforced with a
// conditional insert into the users_by_email lookup table, which also serves
// login's query-by-email.
package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/mahaj/chat-relay/pkg/db"
)

var (
	// ErrEmailTaken is returned by Create when the email is already registered.
	ErrEmailTaken = errors.New("users: email already registered")
	// ErrInvalidCredentials is returned by Authenticate for an unknown email
	// or a wrong password; callers must not distinguish the two.
	ErrInvalidCredentials = errors.New("users: invalid email or password")
)

type User struct {
	UserID    string
	Email     string
	Username  string
	CreatedAt time.Time
}

type Users struct {
	db *db.Session
}

func New(session *db.Session) *Users {
	return &Users{db: session}
}

// Create registers a new account. The email claim is taken first: if the
// conditional insert into users_by_email loses, no user row is written.
func (u *Users) Create(ctx context.Context, email, username, password string) (User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, fmt.Errorf("users: hash password: %w", err)
	}

	userID := uuid.NewString()
	now := time.Now()

	applied, err := u.db.Query(
		`INSERT INTO users_by_email (email, user_id, username, password_hash, created_at)
		 VALUES (?, ?, ?, ?, ?) IF NOT EXISTS`,
		email, userID, username, string(hash), now,
	).WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return User{}, fmt.Errorf("users: reserve email: %w", err)
	}
	if !applied {
		return User{}, ErrEmailTaken
	}

	if err := u.db.Query(
		`INSERT INTO users (user_id, email, username, password_hash, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		userID, email, username, string(hash), now,
	).WithContext(ctx).Exec(); err != nil {
		return User{}, fmt.Errorf("users: create %s: %w", userID, err)
	}

	return User{UserID: userID, Email: email, Username: username, CreatedAt: now}, nil
}

// Authenticate checks the password for the account registered under email.
func (u *Users) Authenticate(ctx context.Context, email, password string) (User, error) {
	var (
		userID, username, hash string
		createdAt              time.Time
	)
	err := u.db.Query(
		`SELECT user_id, username, password_hash, created_at FROM users_by_email WHERE email = ?`,
		email,
	).WithContext(ctx).Scan(&userID, &username, &hash, &createdAt)
	if err == gocql.ErrNotFound {
		return User{}, ErrInvalidCredentials
	}
	if err != nil {
		return User{}, fmt.Errorf("users: lookup %s: %w", email, err)
	}

	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return User{}, ErrInvalidCredentials
	}

	return User{UserID: userID, Email: email, Username: username, CreatedAt: createdAt}, nil
}
