package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/matthewhartstonge/argon2"
	"golang.org/x/crypto/bcrypt"
)

// PasswordHasher hashes new passwords. Verification is format-driven so
// stored hashes keep working after the configured algorithm changes.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, encoded string) (bool, error)
}

// NewPasswordHasher returns the hasher for algorithm ("bcrypt" or "argon2id").
func NewPasswordHasher(algorithm string) (PasswordHasher, error) {
	switch algorithm {
	case "", "bcrypt":
		return BcryptHasher{Cost: bcrypt.DefaultCost}, nil
	case "argon2id":
		return Argon2Hasher{config: argon2.DefaultConfig()}, nil
	}
	return nil, fmt.Errorf("unsupported password hasher %q", algorithm)
}

type BcryptHasher struct {
	Cost int
}

func (h BcryptHasher) Hash(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), h.Cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

func (h BcryptHasher) Verify(password, encoded string) (bool, error) {
	return verifyPassword(password, encoded)
}

type Argon2Hasher struct {
	config argon2.Config
}

func (h Argon2Hasher) Hash(password string) (string, error) {
	encoded, err := h.config.HashEncoded([]byte(password))
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

func (h Argon2Hasher) Verify(password, encoded string) (bool, error) {
	return verifyPassword(password, encoded)
}

func verifyPassword(password, encoded string) (bool, error) {
	switch {
	case strings.HasPrefix(encoded, "$argon2"):
		return argon2.VerifyEncoded([]byte(password), []byte(encoded))
	case strings.HasPrefix(encoded, "$2"):
		err := bcrypt.CompareHashAndPassword([]byte(encoded), []byte(password))
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		return err == nil, err
	}
	return false, errors.New("unrecognized password hash format")
}
