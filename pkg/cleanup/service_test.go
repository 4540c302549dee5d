package cleanup

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
	"github.com/forgemcp/concierge/pkg/session"
)

func newTestStore(t *testing.T) (*session.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return session.NewStore(rdb, time.Hour), mr
}

// backdate rewrites the persisted session blob with an old last-activity,
// bypassing Save which would refresh it.
func backdate(t *testing.T, mr *miniredis.Miniredis, sess *models.Session, age time.Duration) {
	t.Helper()
	sess.LastActivity = time.Now().UTC().Add(-age)
	data, err := json.Marshal(sess)
	require.NoError(t, err)
	require.NoError(t, mr.Set("session:"+sess.ID, string(data)))
}

func TestSweepRemovesStaleSessions(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	stale, err := store.Create(ctx, "stale")
	require.NoError(t, err)
	backdate(t, mr, stale, 2*time.Hour)

	_, err = store.Create(ctx, "fresh")
	require.NoError(t, err)

	svc := NewService(store, time.Hour)
	svc.sweep(ctx)

	ids, err := store.ListActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"fresh"}, ids)
}

func TestStartRunsInitialSweep(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	stale, err := store.Create(ctx, "stale")
	require.NoError(t, err)
	backdate(t, mr, stale, 2*time.Hour)

	svc := NewService(store, time.Hour)
	svc.Start(ctx)
	defer svc.Stop()

	require.Eventually(t, func() bool {
		ids, err := store.ListActive(ctx)
		return err == nil && len(ids) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestStartIsIdempotent(t *testing.T) {
	store, _ := newTestStore(t)

	svc := NewService(store, time.Hour)
	svc.Start(context.Background())
	svc.Start(context.Background())
	svc.Stop()
	svc.Stop()
}

func TestDefaultInterval(t *testing.T) {
	store, _ := newTestStore(t)

	svc := NewService(store, 0)
	assert.Equal(t, DefaultInterval, svc.interval)

	svc = NewService(store, time.Minute)
	assert.Equal(t, time.Minute, svc.interval)
}
