// Package session tracks issued tokens in the cache so they can be revoked
// before their exp: logout, refresh rotation and account bans.
package session

import (
	"context"
	"strconv"
	"time"

	"github.com/kasuganosora/moviemaster/cache"
)

const (
	sessionPrefix  = "session:"
	accountPrefix  = "sessions:"
	consumedPrefix = "refresh_used:"
)

// Store records live access and refresh tokens.
type Store struct {
	c cache.Cache
}

// NewStore wraps c.
func NewStore(c cache.Cache) *Store {
	return &Store{c: c}
}

// Add registers token for accountID until ttl elapses. The per-account
// index lives as long as the token just added; refresh tokens are added
// after access tokens and outlive them.
func (s *Store) Add(ctx context.Context, accountID int64, token string, ttl time.Duration) error {
	if err := s.c.Set(ctx, sessionPrefix+token, strconv.FormatInt(accountID, 10), ttl); err != nil {
		return err
	}
	if err := s.c.SAdd(ctx, accountKey(accountID), token); err != nil {
		return err
	}
	return s.c.Expire(ctx, accountKey(accountID), ttl)
}

// Active reports whether token is registered and not revoked.
func (s *Store) Active(ctx context.Context, token string) (bool, error) {
	return s.c.Exists(ctx, sessionPrefix+token)
}

// Revoke removes a single token.
func (s *Store) Revoke(ctx context.Context, accountID int64, token string) error {
	if err := s.c.Del(ctx, sessionPrefix+token); err != nil {
		return err
	}
	return s.c.SRem(ctx, accountKey(accountID), token)
}

// RevokeAll removes every token registered for accountID and returns how
// many were still live.
func (s *Store) RevokeAll(ctx context.Context, accountID int64) (int, error) {
	tokens, err := s.c.SMembers(ctx, accountKey(accountID))
	if err != nil {
		return 0, err
	}
	if len(tokens) == 0 {
		return 0, nil
	}
	live := 0
	keys := make([]string, 0, len(tokens)+1)
	for _, t := range tokens {
		ok, err := s.c.Exists(ctx, sessionPrefix+t)
		if err != nil {
			return 0, err
		}
		if ok {
			live++
		}
		keys = append(keys, sessionPrefix+t)
	}
	keys = append(keys, accountKey(accountID))
	return live, s.c.Del(ctx, keys...)
}

// Consume marks a refresh token as spent. Only the first caller for a given
// token gets true, so a replayed refresh token cannot mint a second pair.
func (s *Store) Consume(ctx context.Context, token string, ttl time.Duration) (bool, error) {
	return s.c.SetNX(ctx, consumedPrefix+token, "1", ttl)
}

func accountKey(accountID int64) string {
	return accountPrefix + strconv.FormatInt(accountID, 10)
}
