package maintenance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"netmon/internal/storage"
	"netmon/pkg/logx"
)

type fakeStore struct {
	storage.Store

	mu        sync.Mutex
	calls     int
	olderThan time.Time
	pruned    int64
	err       error
}

func (f *fakeStore) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.olderThan = olderThan
	return f.pruned, f.err
}

func TestPruneOnceCutoff(t *testing.T) {
	t.Parallel()

	store := &fakeStore{pruned: 12}
	svc := New(Config{Days: 30, At: "04:30"}, store, logx.Nop())

	now := time.Date(2025, 6, 1, 4, 30, 0, 0, time.UTC)
	svc.pruneOnce(context.Background(), now)

	require.Equal(t, 1, store.calls)
	require.Equal(t, now.Add(-30*24*time.Hour), store.olderThan)
}

func TestPruneOnceSurvivesStoreError(t *testing.T) {
	t.Parallel()

	store := &fakeStore{err: errors.New("locked")}
	svc := New(Config{Days: 7, At: "04:30"}, store, logx.Nop())

	svc.pruneOnce(context.Background(), time.Now())
	require.Equal(t, 1, store.calls)
}

func TestStartDisabledWithoutRetention(t *testing.T) {
	t.Parallel()

	svc := New(Config{Days: 0}, &fakeStore{}, logx.Nop())
	require.NoError(t, svc.Start(context.Background()))
	require.Nil(t, svc.c)
	svc.Stop(context.Background()) // no-op
}

func TestStartRejectsBadTime(t *testing.T) {
	t.Parallel()

	svc := New(Config{Days: 7, At: "25:00"}, &fakeStore{}, logx.Nop())
	require.ErrorContains(t, svc.Start(context.Background()), "retention time")
}

func TestStartAndStop(t *testing.T) {
	t.Parallel()

	svc := New(Config{Days: 7, At: "03:30", Location: time.UTC}, &fakeStore{}, logx.Nop())
	require.NoError(t, svc.Start(context.Background()))
	require.NotNil(t, svc.c)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	svc.Stop(ctx)
	require.Nil(t, svc.c)
}
