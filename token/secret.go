package token

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// MinSecretLen is the shortest signing secret accepted.
const MinSecretLen = 32

// ErrWeakSecret is returned when the configured secret is too short.
var ErrWeakSecret = errors.New("token: signing secret must be at least 32 bytes")

// keyInfo binds derived keys to this token format so the same secret
// reused elsewhere never yields the same HMAC key.
var keyInfo = []byte("moviemaster/session-token/hs256/v1")

// SecretProvider supplies the current signing secret.
type SecretProvider interface {
	SigningSecret(ctx context.Context) ([]byte, error)
}

// StaticSecret is a SecretProvider for a secret read from configuration.
type StaticSecret string

// SigningSecret implements SecretProvider.
func (s StaticSecret) SigningSecret(_ context.Context) ([]byte, error) {
	if len(s) < MinSecretLen {
		return nil, ErrWeakSecret
	}
	return []byte(s), nil
}

// deriveKey expands secret into a 32-byte HS256 key with HKDF-SHA256.
func deriveKey(secret []byte) ([]byte, error) {
	if len(secret) < MinSecretLen {
		return nil, ErrWeakSecret
	}
	key := make([]byte, sha256.Size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, keyInfo), key); err != nil {
		return nil, fmt.Errorf("token: derive key: %w", err)
	}
	return key, nil
}
