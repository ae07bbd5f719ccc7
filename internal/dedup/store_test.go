package dedup

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/nexus/internal/database"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "queue.sqlite"), fixedClock{now: time.Unix(1700000000, 0)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestHasChangedLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openTestStore(t)
	url := "https://www.youtube.com/watch?v=abc123def45"

	_, ok, err := store.GetStoredHash(ctx, url)
	require.NoError(t, err)
	require.False(t, ok)

	changed, err := store.HasChanged(ctx, url, "h1")
	require.NoError(t, err)
	require.True(t, changed)

	require.NoError(t, store.MarkProcessed(ctx, url, "h1"))
	for range 3 {
		changed, err = store.HasChanged(ctx, url, "h1")
		require.NoError(t, err)
		require.False(t, changed)
	}

	require.NoError(t, store.MarkProcessed(ctx, url, "h2"))
	changed, err = store.HasChanged(ctx, url, "h1")
	require.NoError(t, err)
	require.True(t, changed)

	hash, ok, err := store.GetStoredHash(ctx, url)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "h2", hash)
}

func TestMarkProcessedKeepsOneRowPerURL(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openTestStore(t)
	for i := range 5 {
		require.NoError(t, store.MarkProcessed(ctx, "https://x/1", fmt.Sprintf("h%d", i)))
	}
	var n int
	require.NoError(t, store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM seen_hashes").Scan(&n))
	require.Equal(t, 1, n)
}

func TestConcurrentWritersDoNotCorrupt(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openTestStore(t)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			url := fmt.Sprintf("https://x/%d", i%5)
			if err := store.MarkProcessed(ctx, url, fmt.Sprintf("h%d", i)); err != nil {
				t.Errorf("mark processed: %v", err)
			}
			if _, err := store.HasChanged(ctx, url, "other"); err != nil {
				t.Errorf("has changed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	var n int
	require.NoError(t, store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM seen_hashes").Scan(&n))
	require.Equal(t, 5, n)
}

func TestStoreUsesWALAndCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	mode, err := database.JournalMode(context.Background(), store.db)
	require.NoError(t, err)
	require.Equal(t, "wal", mode)

	require.NoError(t, store.Close())
	require.NoError(t, store.Close())
}
