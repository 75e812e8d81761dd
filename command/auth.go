package command

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrUnauthorized is returned for requests from users not on the allow-list.
	ErrUnauthorized = errors.New("you are not authorized")

	// ErrWrongPassword is returned when a login password does not match.
	ErrWrongPassword = errors.New("wrong password")

	// ErrLoginDisabled is returned when no password hash is configured.
	ErrLoginDisabled = errors.New("login is disabled: no password configured")
)

// Authorizer checks who may use the bot and guards session creation with a
// shared password.
type Authorizer struct {
	allowed map[string]bool
	hash    []byte
}

// NewAuthorizer builds an authorizer. An empty allow-list admits nobody.
func NewAuthorizer(allowList []string, passwordHash string) *Authorizer {
	allowed := make(map[string]bool, len(allowList))
	for _, id := range allowList {
		allowed[id] = true
	}
	return &Authorizer{allowed: allowed, hash: []byte(passwordHash)}
}

// Allowed reports whether user is on the allow-list.
func (a *Authorizer) Allowed(user string) bool {
	return a.allowed[user]
}

// CheckPassword compares password against the configured hash.
func (a *Authorizer) CheckPassword(password string) error {
	if len(a.hash) == 0 {
		return ErrLoginDisabled
	}
	err := bcrypt.CompareHashAndPassword(a.hash, []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrWrongPassword
	}
	if err != nil {
		return fmt.Errorf("check password: %w", err)
	}
	return nil
}

// HashPassword returns the bcrypt hash to put in the config.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}
