package session

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgemcp/concierge/pkg/models"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewStore(rdb, time.Hour), mr
}

func TestCreateAndGet(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sess, err := store.Create(ctx, "")
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, models.ConversationInitial, sess.ConversationState)

	loaded, err := store.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, loaded.ID)
	assert.Empty(t, loaded.Messages)
}

func TestGetMissingSession(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetRefreshesTTL(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	sess, err := store.Create(ctx, "ttl-session")
	require.NoError(t, err)

	// Let half the window elapse, then touch the session.
	mr.FastForward(30 * time.Minute)
	_, err = store.Get(ctx, sess.ID)
	require.NoError(t, err)

	// The touch reset the window: 40 more minutes stays under it.
	mr.FastForward(40 * time.Minute)
	_, err = store.Get(ctx, sess.ID)
	assert.NoError(t, err)
}

func TestReadTouchSurvivesCleanup(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	sess, err := store.Create(ctx, "read-only")
	require.NoError(t, err)

	// Rewrite the blob with a stale last-activity, bypassing Save which
	// would refresh it.
	sess.LastActivity = time.Now().UTC().Add(-2 * time.Hour)
	data, err := json.Marshal(sess)
	require.NoError(t, err)
	require.NoError(t, mr.Set("session:read-only", string(data)))

	// A read-only touch persists the advanced timestamp, so the sweep
	// keeps the session.
	_, err = store.Get(ctx, "read-only")
	require.NoError(t, err)

	deleted, err := store.Cleanup(ctx, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)

	_, err = store.Get(ctx, "read-only")
	assert.NoError(t, err)
}

func TestSessionExpiresWithoutActivity(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	sess, err := store.Create(ctx, "idle-session")
	require.NoError(t, err)

	mr.FastForward(61 * time.Minute)
	_, err = store.Get(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetOrCreate(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	created, err := store.GetOrCreate(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", created.ID)

	again, err := store.GetOrCreate(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, created.CreatedAt.Unix(), again.CreatedAt.Unix())
}

func TestSaveMaintainsActiveSet(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.Create(ctx, "a")
	require.NoError(t, err)
	_, err = store.Create(ctx, "b")
	require.NoError(t, err)

	ids, err := store.ListActive(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, ids)

	require.NoError(t, store.Delete(ctx, "a"))
	ids, err = store.ListActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids)
}

func TestAppendMessageOrderAndIdempotency(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.Create(ctx, "s1")
	require.NoError(t, err)

	first := models.Message{ID: "m1", Role: models.RoleUser, Content: "hello"}
	second := models.Message{ID: "m2", Role: models.RoleAssistant, Content: "hi"}

	require.NoError(t, store.AppendMessage(ctx, "s1", first))
	require.NoError(t, store.AppendMessage(ctx, "s1", second))
	// Retried append of the same id must not duplicate.
	require.NoError(t, store.AppendMessage(ctx, "s1", first))

	sess, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, sess.Messages, 2)
	assert.Equal(t, "m1", sess.Messages[0].ID)
	assert.Equal(t, "m2", sess.Messages[1].ID)
}

func TestAppendMessageMissingSession(t *testing.T) {
	store, _ := newTestStore(t)

	err := store.AppendMessage(context.Background(), "nope", models.Message{Content: "x"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateContextMerges(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.Create(ctx, "s1")
	require.NoError(t, err)

	require.NoError(t, store.UpdateContext(ctx, "s1", map[string]any{"locale": "en", "tz": "UTC"}))
	require.NoError(t, store.UpdateContext(ctx, "s1", map[string]any{"tz": "CET"}))

	sess, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "en", sess.Context["locale"])
	assert.Equal(t, "CET", sess.Context["tz"])
}

func TestHistoryLimit(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.Create(ctx, "s1")
	require.NoError(t, err)
	for _, id := range []string{"m1", "m2", "m3"} {
		require.NoError(t, store.AppendMessage(ctx, "s1", models.Message{ID: id, Role: models.RoleUser, Content: id}))
	}

	all, err := store.History(ctx, "s1", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	last, err := store.History(ctx, "s1", 2)
	require.NoError(t, err)
	require.Len(t, last, 2)
	assert.Equal(t, "m2", last[0].ID)
	assert.Equal(t, "m3", last[1].ID)
}

func TestCleanupRemovesStaleSessions(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	_, err := store.Create(ctx, "stale")
	require.NoError(t, err)

	cutoff := time.Now().UTC().Add(time.Minute)
	deleted, err := store.Cleanup(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = store.Get(ctx, "stale")
	assert.ErrorIs(t, err, ErrNotFound)

	// Expired blobs leave stale set entries; cleanup prunes them.
	_, err = store.Create(ctx, "expired")
	require.NoError(t, err)
	mr.FastForward(2 * time.Hour)

	deleted, err = store.Cleanup(ctx, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)

	ids, err := store.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}
