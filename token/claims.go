package token

import (
	"encoding/json"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claim names carried by every session token.
const (
	ClaimSubject   = "sub"
	ClaimIssuedAt  = "iat"
	ClaimExpiresAt = "exp"
	ClaimAccountID = "uid"
	ClaimRoles     = "roles"
	ClaimKind      = "typ"
	ClaimTokenID   = "jti"
)

// Token kinds stored in the typ claim.
const (
	KindAccess  = "access"
	KindRefresh = "refresh"
)

// SessionClaims builds the claim set for a login session token. The jti
// keeps two tokens minted in the same second distinct.
func SessionClaims(accountID int64, roles []string, kind string) map[string]interface{} {
	return map[string]interface{}{
		ClaimAccountID: accountID,
		ClaimRoles:     roles,
		ClaimKind:      kind,
		ClaimTokenID:   uuid.NewString(),
	}
}

// Claims is the verified payload of a session token.
type Claims jwt.MapClaims

// Subject returns the sub claim (the username).
func (c Claims) Subject() string {
	s, _ := c[ClaimSubject].(string)
	return s
}

// AccountID returns the uid claim, or 0 when absent.
func (c Claims) AccountID() int64 {
	switch v := c[ClaimAccountID].(type) {
	case float64:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	case int64:
		return v
	case int:
		return int64(v)
	}
	return 0
}

// Roles returns the roles claim.
func (c Claims) Roles() []string {
	switch v := c[ClaimRoles].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, r := range v {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Kind returns the typ claim.
func (c Claims) Kind() string {
	s, _ := c[ClaimKind].(string)
	return s
}

// IssuedAt returns the iat claim.
func (c Claims) IssuedAt() time.Time {
	d, err := jwt.MapClaims(c).GetIssuedAt()
	if err != nil || d == nil {
		return time.Time{}
	}
	return d.Time
}

// ExpiresAt returns the exp claim.
func (c Claims) ExpiresAt() time.Time {
	d, err := jwt.MapClaims(c).GetExpirationTime()
	if err != nil || d == nil {
		return time.Time{}
	}
	return d.Time
}
