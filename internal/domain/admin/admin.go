package admin

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const minKeyLength = 16

var (
	ErrKeyRequired = errors.New("admin key is required")
	ErrKeyTooShort = errors.New("admin key must be at least 16 characters")
	ErrInvalidHash = errors.New("admin key hash is not a bcrypt hash")
)

// HashKey derives the bcrypt hash stored in configuration.
func HashKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", ErrKeyRequired
	}
	if len(key) < minKeyLength {
		return "", ErrKeyTooShort
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Verifier checks presented admin keys against a configured hash.
type Verifier struct {
	hash []byte
}

func NewVerifier(hash string) (*Verifier, error) {
	hash = strings.TrimSpace(hash)
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return nil, ErrInvalidHash
	}
	return &Verifier{hash: []byte(hash)}, nil
}

func (v *Verifier) Verify(key string) bool {
	if v == nil || key == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword(v.hash, []byte(key)) == nil
}
