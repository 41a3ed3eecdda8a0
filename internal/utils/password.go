package utils

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"

	"golang.org/x/crypto/bcrypt"
)

// PasswordHasher hashes passwords with bcrypt over an HMAC-SHA256 pre-hash.
// The pre-hash keeps input under bcrypt's 72 byte limit and mixes in the
// install-wide pepper when one is configured.
type PasswordHasher struct {
	cost   int
	pepper []byte
}

// NewPasswordHasher returns a hasher using the given bcrypt cost.  Costs
// outside bcrypt's accepted range fall back to bcrypt.DefaultCost.
func NewPasswordHasher(cost int, pepper string) *PasswordHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &PasswordHasher{cost: cost, pepper: []byte(pepper)}
}

// Hash returns a bcrypt hash of plain.  Every call uses a fresh salt.
func (h *PasswordHasher) Hash(plain string) (string, error) {
	b, err := bcrypt.GenerateFromPassword(h.prehash(plain), h.cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Verify safely compares a stored hash and a plain password.
func (h *PasswordHasher) Verify(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), h.prehash(plain)) == nil
}

func (h *PasswordHasher) prehash(plain string) []byte {
	mac := hmac.New(sha256.New, h.pepper)
	mac.Write([]byte(plain))
	sum := mac.Sum(nil)
	out := make([]byte, base64.StdEncoding.EncodedLen(len(sum)))
	base64.StdEncoding.Encode(out, sum)
	return out
}
