// Package session provides the durable per-session store backed by Redis
// and the context manager that derives prompt/decision context from it.
//
// Each session is one opaque JSON value under "session:{id}" with a TTL
// refreshed on every save, plus membership in the "sessions:active" set.
// The store exclusively owns Session records; every other component reads
// and mutates them only through this interface.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/forgemcp/concierge/pkg/models"
)

const (
	sessionKeyPrefix = "session:"
	activeSetKey     = "sessions:active"
)

// DefaultTTL is the inactivity window after which a session is evicted.
const DefaultTTL = 24 * time.Hour

var (
	// ErrNotFound is returned when the requested session does not exist
	// or has expired.
	ErrNotFound = errors.New("session not found")

	// ErrStoreUnavailable wraps Redis failures. Callers must decide how to
	// react — the store never swallows backend errors on a read.
	ErrStoreUnavailable = errors.New("session store unavailable")
)

// Store persists sessions in Redis.
type Store struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewStore creates a session store. A non-positive ttl selects DefaultTTL.
func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		rdb:    rdb,
		ttl:    ttl,
		logger: slog.Default(),
	}
}

// TTL returns the configured inactivity window.
func (s *Store) TTL() time.Duration { return s.ttl }

// Ping checks Redis connectivity. Used by health probes.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func sessionKey(id string) string { return sessionKeyPrefix + id }

// Create creates and persists a new session. An empty id generates one.
func (s *Store) Create(ctx context.Context, id string) (*models.Session, error) {
	if id == "" {
		id = uuid.New().String()
	}
	now := time.Now().UTC()
	sess := &models.Session{
		ID:                id,
		CreatedAt:         now,
		LastActivity:      now,
		Messages:          []models.Message{},
		Context:           map[string]any{},
		Metadata:          map[string]any{},
		ConversationState: models.ConversationInitial,
	}
	if err := s.Save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Get loads a session. The last-activity touch is written back with a fresh
// TTL — every read-or-write touch extends the eviction window, and the
// cleanup sweep compares against the stored timestamp. The write-back is
// best effort; a failure only shortens the session's remaining window.
func (s *Store) Get(ctx context.Context, id string) (*models.Session, error) {
	data, err := s.rdb.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	var sess models.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("%w: corrupt session %s: %v", ErrStoreUnavailable, id, err)
	}

	sess.LastActivity = time.Now().UTC()
	if touched, err := json.Marshal(&sess); err == nil {
		if err := s.rdb.Set(ctx, sessionKey(id), touched, s.ttl).Err(); err != nil {
			s.logger.Warn("Failed to persist session activity touch", "session_id", id, "error", err)
		}
	}
	return &sess, nil
}

// GetOrCreate loads the session when it exists, otherwise creates it.
// Store failures other than a miss are surfaced to the caller.
func (s *Store) GetOrCreate(ctx context.Context, id string) (*models.Session, error) {
	if id == "" {
		return s.Create(ctx, "")
	}
	sess, err := s.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return s.Create(ctx, id)
	}
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// Save persists the session as one JSON value, advances last-activity, and
// extends the TTL to the full window. Also maintains the active-id set.
func (s *Store) Save(ctx context.Context, sess *models.Session) error {
	sess.LastActivity = time.Now().UTC()

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session %s: %w", sess.ID, err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, sessionKey(sess.ID), data, s.ttl)
	pipe.SAdd(ctx, activeSetKey, sess.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Delete purges a session and removes it from the active set.
// Deleting an absent session is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, sessionKey(id))
	pipe.SRem(ctx, activeSetKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// ListActive returns the ids in the live-session set. Ids whose blobs have
// expired are pruned lazily by Cleanup, so the set may briefly over-report.
func (s *Store) ListActive(ctx context.Context) ([]string, error) {
	ids, err := s.rdb.SMembers(ctx, activeSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return ids, nil
}

// AppendMessage appends a message to the session. Idempotent with respect
// to the message id: appending the same id twice leaves exactly one copy.
// Messages are never rewritten or reordered.
func (s *Store) AppendMessage(ctx context.Context, id string, msg models.Message) error {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	for _, m := range sess.Messages {
		if m.ID == msg.ID {
			return nil // already appended
		}
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	sess.Messages = append(sess.Messages, msg)
	return s.Save(ctx, sess)
}

// UpdateContext shallow-merges the patch into the session's context map.
func (s *Store) UpdateContext(ctx context.Context, id string, patch map[string]any) error {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if sess.Context == nil {
		sess.Context = map[string]any{}
	}
	for k, v := range patch {
		sess.Context[k] = v
	}
	return s.Save(ctx, sess)
}

// History returns the session's messages in append order. A positive limit
// returns only the most recent limit messages.
func (s *Store) History(ctx context.Context, id string, limit int) ([]models.Message, error) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	msgs := sess.Messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]models.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// Cleanup iterates the active set and deletes sessions whose last activity
// predates the cutoff. Expired blobs are pruned from the set as a side
// effect. Returns the number of sessions deleted.
func (s *Store) Cleanup(ctx context.Context, olderThan time.Time) (int, error) {
	ids, err := s.ListActive(ctx)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, id := range ids {
		data, err := s.rdb.Get(ctx, sessionKey(id)).Bytes()
		if errors.Is(err, redis.Nil) {
			// Blob expired under Redis TTL — drop the stale set entry.
			if err := s.rdb.SRem(ctx, activeSetKey, id).Err(); err != nil {
				s.logger.Warn("Failed to prune expired session id", "session_id", id, "error", err)
			}
			continue
		}
		if err != nil {
			return deleted, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}

		var sess models.Session
		if err := json.Unmarshal(data, &sess); err != nil {
			s.logger.Warn("Skipping corrupt session during cleanup", "session_id", id, "error", err)
			continue
		}
		if sess.LastActivity.Before(olderThan) {
			if err := s.Delete(ctx, id); err != nil {
				return deleted, err
			}
			deleted++
		}
	}
	return deleted, nil
}
