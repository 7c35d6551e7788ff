// Package auth implements account registration and login. It issues the
// bearer tokens the identity and ledger surfaces require.
package auth

import (
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	id "dbis/pkg/domain"
	dErrors "dbis/pkg/domain-errors"
)

// User is an account on the API surface. Roles gate the admin endpoints.
type User struct {
	ID           id.UserID `json:"id"`
	Email        string    `json:"email"`
	PasswordHash []byte    `json:"-"`
	Roles        []string  `json:"roles,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

const minPasswordLength = 8

// NewUser validates credentials and hashes the password.
func NewUser(email, password string, now time.Time) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "a valid email is required")
	}
	if len(password) < minPasswordLength {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "password must be at least %d characters", minPasswordLength)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash password")
	}
	return &User{
		ID:           id.NewUserID(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    now,
	}, nil
}

// CheckPassword verifies a login attempt against the stored hash.
func (u *User) CheckPassword(password string) bool {
	return bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)) == nil
}
