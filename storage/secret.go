package storage

import (
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// dummySecretHash is compared when no candidate secret exists so that
// unknown and known principals take the same time to reject.
const dummySecretHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// HashSecret returns a Secret holding the bcrypt hash of plaintext.
func HashSecret(plaintext string) (Secret, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return Secret{}, fmt.Errorf("failed to hash secret: %w", err)
	}
	return Secret{Value: string(hash)}, nil
}

// MustHashSecret is HashSecret for static setup code and tests. It panics on error.
func MustHashSecret(plaintext string) Secret {
	s, err := HashSecret(plaintext)
	if err != nil {
		panic(err)
	}
	return s
}

// VerifySecret reports whether plaintext matches any unexpired secret.
// SECURITY: Always performs at least one bcrypt comparison, even with no candidates.
func VerifySecret(secrets []Secret, plaintext string, now time.Time) bool {
	compared := false
	matched := false
	for _, s := range secrets {
		if !s.Expiration.IsZero() && now.After(s.Expiration) {
			continue
		}
		compared = true
		if bcrypt.CompareHashAndPassword([]byte(s.Value), []byte(plaintext)) == nil {
			matched = true
			break
		}
	}
	if !compared {
		_ = bcrypt.CompareHashAndPassword([]byte(dummySecretHash), []byte(plaintext))
	}
	return matched
}
