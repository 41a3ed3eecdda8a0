package utils // package utils provides helper functions for token creation and hashing

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenIssuer is written to the iss claim and required on verification.
const TokenIssuer = "habit-tracker-api"

// MinSecretLen is the shortest signing secret NewTokenService accepts.
const MinSecretLen = 32

// ErrInvalidToken is returned by Verify for every rejected token.  Callers
// only need to know the token is unusable, not why.
var ErrInvalidToken = errors.New("invalid or expired token")

// AccessToken represents a signed JWT along with its expiry.  The Token field
// is sent back to the client, which presents it in the Authorization header
// when calling protected endpoints.
type AccessToken struct {
	Token string    // the serialized JWT string
	Exp   time.Time // the UTC expiration time
}

// sessionClaims are the claims carried by a session token.  sub holds the
// account id; email is informational only.
type sessionClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// TokenService issues and verifies HS512 session tokens.  The secret is
// fixed for the lifetime of the service, so rotating it invalidates every
// token issued before.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenService builds a TokenService.  The secret must be at least
// MinSecretLen bytes and the ttl positive.
func NewTokenService(secret []byte, ttl time.Duration) (*TokenService, error) {
	if len(secret) < MinSecretLen {
		return nil, fmt.Errorf("jwt secret must be at least %d bytes", MinSecretLen)
	}
	if ttl <= 0 {
		return nil, errors.New("token ttl must be positive")
	}
	return &TokenService{secret: secret, ttl: ttl, now: time.Now}, nil
}

// TTL reports how long issued tokens stay valid.
func (s *TokenService) TTL() time.Duration { return s.ttl }

// Issue signs a token for the account.  The token expires TTL after now.
func (s *TokenService) Issue(accountID, email string) (AccessToken, error) {
	if accountID == "" {
		return AccessToken{}, errors.New("account id is required")
	}
	now := s.now().UTC()
	exp := now.Add(s.ttl)
	claims := sessionClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			Issuer:    TokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS512, claims)
	signed, err := t.SignedString(s.secret)
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Token: signed, Exp: exp.Truncate(time.Second)}, nil
}

// Verify parses raw and returns the account id it was issued for.  Any
// malformed, tampered, expired or foreign token yields ErrInvalidToken.
func (s *TokenService) Verify(raw string) (string, error) {
	if raw == "" {
		return "", ErrInvalidToken
	}
	claims := &sessionClaims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS512.Alg()}),
		jwt.WithIssuer(TokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// NewSigningSecret returns 64 bytes of cryptographically secure random data.
// It is used when no secret is configured, which means tokens do not survive
// a restart.
func NewSigningSecret() ([]byte, error) {
	buf := make([]byte, 64)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	return buf, nil
}
