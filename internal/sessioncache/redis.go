// Package sessioncache is the Session Cache (C3): a key->JSON store with
// TTL, holding in-flight UploadSession state between chunk arrivals.
// Grounded on SirClappington-enq and luluxxu-distributed-task-queue's
// go-redis/v9 usage.
package sessioncache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mac-lisowski/mysmarthotel-task/internal/models"
)

// ErrSessionNotFound is returned when a session key has expired or was
// never created — spec.md's "missing session on non-zero chunk" case.
var ErrSessionNotFound = errors.New("upload session not found")

// Store wraps a redis.Client for UploadSession persistence.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

// New constructs a Store dialed at addr, with sessions expiring after ttl
// (spec.md default: 24h / 86400s).
func New(addr string, ttl time.Duration) *Store {
	return &Store{rdb: redis.NewClient(parseOrAddr(addr)), ttl: ttl}
}

// parseOrAddr accepts either a bare host:port or a redis:// URL, since
// config.Config carries a single REDIS_URL string.
func parseOrAddr(addr string) *redis.Options {
	if opts, err := redis.ParseURL(addr); err == nil {
		return opts
	}
	return &redis.Options{Addr: addr}
}

func sessionKey(uploadID string) string { return "upload:" + uploadID }

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.rdb.Close() }

// Ping verifies connectivity for the healthz endpoint.
func (s *Store) Ping(ctx context.Context) error { return s.rdb.Ping(ctx).Err() }

// Save persists sess, refreshing the TTL on every write (idempotent
// overwrite, per spec.md §4.1 step 3: "persist (idempotent overwrite)").
func (s *Store) Save(ctx context.Context, sess models.UploadSession) error {
	b, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal upload session: %w", err)
	}
	if err := s.rdb.Set(ctx, sessionKey(sess.UploadID), b, s.ttl).Err(); err != nil {
		return fmt.Errorf("save upload session: %w", err)
	}
	return nil
}

// Get fetches and deserializes a session by uploadId. Returns
// ErrSessionNotFound if the key is absent or expired.
func (s *Store) Get(ctx context.Context, uploadID string) (models.UploadSession, error) {
	b, err := s.rdb.Get(ctx, sessionKey(uploadID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.UploadSession{}, ErrSessionNotFound
	}
	if err != nil {
		return models.UploadSession{}, fmt.Errorf("get upload session: %w", err)
	}
	var sess models.UploadSession
	if err := json.Unmarshal(b, &sess); err != nil {
		return models.UploadSession{}, fmt.Errorf("unmarshal upload session: %w", err)
	}
	return sess, nil
}

// Delete removes a session, e.g. on successful completion or explicit
// abort. Best-effort per I5: the assembler discards a failure here and
// the TTL bounds the leak.
func (s *Store) Delete(ctx context.Context, uploadID string) error {
	return s.rdb.Del(ctx, sessionKey(uploadID)).Err()
}
