package social

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// digestPrefixBcryptV1 versions stored digests so the scheme or cost can change later.
const digestPrefixBcryptV1 = "bcrypt-v1$"

var errUnknownDigestScheme = errors.New("social: unknown credential digest scheme")

// PasswordHasher turns passwords into stored digests and checks them.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, digest string) (bool, error)
	// NeedsRehash reports whether digest was produced with outdated parameters.
	NeedsRehash(digest string) bool
}

// BcryptHasher produces versioned bcrypt digests.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher clamps cost into bcrypt's accepted range; zero selects bcrypt.DefaultCost.
func NewBcryptHasher(cost int) *BcryptHasher {
	switch {
	case cost == 0:
		cost = bcrypt.DefaultCost
	case cost < bcrypt.MinCost:
		cost = bcrypt.MinCost
	case cost > bcrypt.MaxCost:
		cost = bcrypt.MaxCost
	}
	return &BcryptHasher{cost: cost}
}

func (h *BcryptHasher) Hash(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
		}
		return "", err
	}
	return digestPrefixBcryptV1 + string(hashed), nil
}

func (h *BcryptHasher) Verify(password, digest string) (bool, error) {
	hashed, err := bcryptPayload(digest)
	if err != nil {
		return false, err
	}
	err = bcrypt.CompareHashAndPassword([]byte(hashed), []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (h *BcryptHasher) NeedsRehash(digest string) bool {
	if !strings.HasPrefix(digest, digestPrefixBcryptV1) {
		return true
	}
	cost, err := bcrypt.Cost([]byte(strings.TrimPrefix(digest, digestPrefixBcryptV1)))
	if err != nil {
		return true
	}
	return cost != h.cost
}

// bcryptPayload accepts versioned digests and legacy bare bcrypt hashes.
func bcryptPayload(digest string) (string, error) {
	switch {
	case strings.HasPrefix(digest, digestPrefixBcryptV1):
		return strings.TrimPrefix(digest, digestPrefixBcryptV1), nil
	case strings.HasPrefix(digest, "$2a$"), strings.HasPrefix(digest, "$2b$"), strings.HasPrefix(digest, "$2y$"):
		return digest, nil
	default:
		return "", errUnknownDigestScheme
	}
}
