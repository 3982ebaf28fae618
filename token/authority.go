package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/kasuganosora/moviemaster/clock"
)

// DefaultTTL is the validity window used when none is configured.
const DefaultTTL = 5 * time.Hour

var (
	// ErrInvalidToken covers malformed, unsigned and tampered tokens.
	ErrInvalidToken = errors.New("token: invalid token")
	// ErrExpiredToken is returned by Verify for a well-signed token past its exp.
	ErrExpiredToken = errors.New("token: token expired")
)

// Authority mints and checks HS256 session tokens. It keeps no state
// besides its configuration and is safe for concurrent use.
type Authority struct {
	secrets SecretProvider
	clock   clock.Clock
	ttl     time.Duration
}

// Option customises an Authority.
type Option func(*Authority)

// WithClock replaces the time source.
func WithClock(c clock.Clock) Option {
	return func(a *Authority) { a.clock = c }
}

// New creates an Authority that signs with keys derived from secrets.
// A non-positive ttl falls back to DefaultTTL.
func New(secrets SecretProvider, ttl time.Duration, opts ...Option) *Authority {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	a := &Authority{secrets: secrets, clock: clock.Real(), ttl: ttl}
	for _, o := range opts {
		o(a)
	}
	return a
}

// TTL returns the default validity window.
func (a *Authority) TTL() time.Duration { return a.ttl }

// Issue signs a token carrying every entry of claims plus sub, iat and exp.
// The reserved claims always overwrite caller-supplied values.
func (a *Authority) Issue(ctx context.Context, claims map[string]interface{}, subject string) (string, error) {
	return a.IssueWithTTL(ctx, claims, subject, a.ttl)
}

// IssueWithTTL is Issue with an explicit validity window.
func (a *Authority) IssueWithTTL(ctx context.Context, claims map[string]interface{}, subject string, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", errors.New("token: empty subject")
	}
	key, err := a.key(ctx)
	if err != nil {
		return "", err
	}
	now := a.clock.Now()
	mc := make(jwt.MapClaims, len(claims)+3)
	for k, v := range claims {
		mc[k] = v
	}
	mc[ClaimSubject] = subject
	mc[ClaimIssuedAt] = jwt.NewNumericDate(now)
	mc[ClaimExpiresAt] = jwt.NewNumericDate(now.Add(ttl))

	return jwt.NewWithClaims(jwt.SigningMethodHS256, mc).SignedString(key)
}

// ExtractClaims verifies the signature and shape of tokenStr and returns its
// claims. It does not look at exp; use IsValid or Verify for that.
func (a *Authority) ExtractClaims(ctx context.Context, tokenStr string) (Claims, error) {
	key, err := a.key(ctx)
	if err != nil {
		return nil, err
	}
	tok, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		return key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithStrictDecoding(),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	mc, ok := tok.Claims.(jwt.MapClaims)
	if !ok || !tok.Valid {
		return nil, ErrInvalidToken
	}
	claims := Claims(mc)
	if claims.Subject() == "" {
		return nil, fmt.Errorf("%w: missing sub", ErrInvalidToken)
	}
	if exp, err := mc.GetExpirationTime(); err != nil || exp == nil {
		return nil, fmt.Errorf("%w: missing exp", ErrInvalidToken)
	}
	return claims, nil
}

// IsValid reports whether tokenStr is signed by us, belongs to
// expectedSubject and has not expired. A token is valid strictly before its
// exp instant. Only an unverifiable token produces an error.
func (a *Authority) IsValid(ctx context.Context, tokenStr, expectedSubject string) (bool, error) {
	claims, err := a.ExtractClaims(ctx, tokenStr)
	if err != nil {
		return false, err
	}
	if claims.Subject() != expectedSubject {
		return false, nil
	}
	return a.clock.Now().Before(claims.ExpiresAt()), nil
}

// Verify returns the claims of a well-signed, unexpired token. Expired
// tokens yield their claims together with ErrExpiredToken.
func (a *Authority) Verify(ctx context.Context, tokenStr string) (Claims, error) {
	claims, err := a.ExtractClaims(ctx, tokenStr)
	if err != nil {
		return nil, err
	}
	if !a.clock.Now().Before(claims.ExpiresAt()) {
		return claims, ErrExpiredToken
	}
	return claims, nil
}

func (a *Authority) key(ctx context.Context) ([]byte, error) {
	secret, err := a.secrets.SigningSecret(ctx)
	if err != nil {
		return nil, err
	}
	return deriveKey(secret)
}
