// Package presence records which users hold at least one live connection, in Redis, so
// the REST layer can answer "is this user online" without asking the realtime process.
package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fathima-sithara/realtime-service/internal/apperr"
)

// Keys used:
//   - <prefix>:conn:<userID>      set of connection ids
//   - <prefix>:presence:<userID>  JSON {status,last_seen}

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

type Presence struct {
	Status   string `json:"status"`
	LastSeen int64  `json:"last_seen"`
}

type Store struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

func NewStore(client redis.Cmdable, prefix string, ttl time.Duration) *Store {
	if prefix == "" {
		prefix = "ws"
	}
	return &Store{client: client, prefix: prefix, ttl: ttl}
}

func (s *Store) connKey(userID int64) string {
	return fmt.Sprintf("%s:conn:%d", s.prefix, userID)
}

func (s *Store) presenceKey(userID int64) string {
	return fmt.Sprintf("%s:presence:%d", s.prefix, userID)
}

// AddConnection records connID for userID and marks the user online.
func (s *Store) AddConnection(ctx context.Context, userID int64, connID string) error {
	pb, err := json.Marshal(Presence{Status: StatusOnline, LastSeen: time.Now().Unix()})
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SAdd(ctx, s.connKey(userID), connID)
		if s.ttl > 0 {
			p.Expire(ctx, s.connKey(userID), s.ttl)
		}
		p.Set(ctx, s.presenceKey(userID), pb, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("presence add %d: %w", userID, err)
	}
	return nil
}

// RemoveConnection forgets connID. The user goes offline once no connection remains.
func (s *Store) RemoveConnection(ctx context.Context, userID int64, connID string) error {
	key := s.connKey(userID)
	if err := s.client.SRem(ctx, key, connID).Err(); err != nil {
		return fmt.Errorf("presence remove %d: %w", userID, err)
	}
	left, err := s.client.SCard(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("presence count %d: %w", userID, err)
	}
	if left > 0 {
		return nil
	}
	pb, err := json.Marshal(Presence{Status: StatusOffline, LastSeen: time.Now().Unix()})
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.presenceKey(userID), pb, 0).Err(); err != nil {
		return fmt.Errorf("presence offline %d: %w", userID, err)
	}
	return nil
}

// Refresh extends the TTL of a connected user's keys. Keys that have already expired or
// been written offline are left alone.
func (s *Store) Refresh(ctx context.Context, userID int64) error {
	if s.ttl <= 0 {
		return nil
	}
	n, err := s.client.SCard(ctx, s.connKey(userID)).Result()
	if err != nil {
		return fmt.Errorf("presence refresh %d: %w", userID, err)
	}
	if n == 0 {
		return nil
	}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Expire(ctx, s.connKey(userID), s.ttl)
		p.Expire(ctx, s.presenceKey(userID), s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("presence refresh %d: %w", userID, err)
	}
	return nil
}

// Get returns the last recorded presence, or apperr.ErrNotFound for an unseen user.
func (s *Store) Get(ctx context.Context, userID int64) (Presence, error) {
	b, err := s.client.Get(ctx, s.presenceKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Presence{}, apperr.ErrNotFound
	}
	if err != nil {
		return Presence{}, fmt.Errorf("presence get %d: %w", userID, err)
	}
	var p Presence
	if err := json.Unmarshal(b, &p); err != nil {
		return Presence{}, fmt.Errorf("presence decode %d: %w", userID, err)
	}
	return p, nil
}

func (p Presence) Online() bool { return p.Status == StatusOnline }
