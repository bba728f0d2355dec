package storage

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/bookfetch/pkg/models"
	"github.com/Sriram-PR/bookfetch/pkg/utils"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func newTestIndex(t *testing.T) *BadgerIndex {
	t.Helper()
	idx, err := NewBadgerIndex(t.TempDir(), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func sampleEntry(key string) *models.IndexEntry {
	return &models.IndexEntry{
		Key:        models.CacheKey(key),
		EntryID:    "1342",
		Title:      "Pride and Prejudice",
		Path:       "/cache/" + key + ".pdf",
		SizeBytes:  2048,
		Strategy:   models.StrategyDirect,
		SourceURL:  "https://example.org/1342.pdf",
		AcquiredAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestNewBadgerIndex(t *testing.T) {
	t.Run("fresh index is empty", func(t *testing.T) {
		idx := newTestIndex(t)
		assert.Equal(t, 0, idx.Count())
		entries, err := idx.List()
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("reopen preserves records", func(t *testing.T) {
		dir := t.TempDir()
		idx1, err := NewBadgerIndex(dir, testLogger())
		require.NoError(t, err)
		require.NoError(t, idx1.Put(sampleEntry("a")))
		require.NoError(t, idx1.Put(sampleEntry("b")))
		require.NoError(t, idx1.Close())

		idx2, err := NewBadgerIndex(dir, testLogger())
		require.NoError(t, err)
		t.Cleanup(func() { idx2.Close() })

		assert.Equal(t, 2, idx2.Count())
		got, err := idx2.Get("a")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, models.StrategyDirect, got.Strategy)
	})
}

func TestPutGet(t *testing.T) {
	idx := newTestIndex(t)

	missing, err := idx.Get("nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	want := sampleEntry("1342_Pride_and_Prejudice")
	require.NoError(t, idx.Put(want))

	got, err := idx.Get(want.Key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want.EntryID, got.EntryID)
	assert.Equal(t, want.SourceURL, got.SourceURL)
	assert.True(t, want.AcquiredAt.Equal(got.AcquiredAt))
	assert.Equal(t, 1, idx.Count())

	// Overwrite keeps the count
	want.Strategy = models.StrategyPageRender
	require.NoError(t, idx.Put(want))
	got, err = idx.Get(want.Key)
	require.NoError(t, err)
	assert.Equal(t, models.StrategyPageRender, got.Strategy)
	assert.Equal(t, 1, idx.Count())
}

func TestPut_RequiresKey(t *testing.T) {
	idx := newTestIndex(t)
	assert.ErrorIs(t, idx.Put(&models.IndexEntry{}), utils.ErrDatabase)
	assert.ErrorIs(t, idx.Put(nil), utils.ErrDatabase)
}

func TestDelete(t *testing.T) {
	idx := newTestIndex(t)
	require.NoError(t, idx.Put(sampleEntry("a")))

	require.NoError(t, idx.Delete("a"))
	got, err := idx.Get("a")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, 0, idx.Count())

	// Missing key is fine and does not skew the count
	require.NoError(t, idx.Delete("a"))
	assert.Equal(t, 0, idx.Count())
}

func TestList_KeyOrder(t *testing.T) {
	idx := newTestIndex(t)
	for _, k := range []string{"c", "a", "b"} {
		require.NoError(t, idx.Put(sampleEntry(k)))
	}

	entries, err := idx.List()
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, models.CacheKey("a"), entries[0].Key)
	assert.Equal(t, models.CacheKey("b"), entries[1].Key)
	assert.Equal(t, models.CacheKey("c"), entries[2].Key)
}

func TestList_SkipsUndecodable(t *testing.T) {
	idx := newTestIndex(t)
	require.NoError(t, idx.Put(sampleEntry("good")))
	require.NoError(t, idx.db.Update(func(txn *badger.Txn) error {
		return txn.Set(dbKey("bad"), []byte("{not json"))
	}))

	entries, err := idx.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.CacheKey("good"), entries[0].Key)

	got, err := idx.Get("bad")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRunGC(t *testing.T) {
	t.Run("respects context cancellation", func(t *testing.T) {
		idx := newTestIndex(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel() // cancel immediately

		done := make(chan struct{})
		go func() {
			idx.RunGC(ctx, 50*time.Millisecond)
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("RunGC did not respect context cancellation")
		}
	})
}

func TestClose(t *testing.T) {
	t.Run("double close does not panic", func(t *testing.T) {
		idx, err := NewBadgerIndex(t.TempDir(), testLogger())
		require.NoError(t, err)
		assert.NoError(t, idx.Close())
		assert.NoError(t, idx.Close())
	})
}

func TestDBUpdateConflictRetry(t *testing.T) {
	t.Run("succeeds after transient conflicts", func(t *testing.T) {
		idx := newTestIndex(t)
		attempts := 0
		err := idx.dbUpdate(func(txn *badger.Txn) error {
			attempts++
			if attempts <= 3 {
				return badger.ErrConflict
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 4, attempts)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		idx := newTestIndex(t)
		attempts := 0
		err := idx.dbUpdate(func(txn *badger.Txn) error {
			attempts++
			return badger.ErrConflict
		})
		require.Error(t, err)
		require.ErrorIs(t, err, utils.ErrDatabase)
		assert.Contains(t, err.Error(), "transaction conflict not resolved")
		assert.Equal(t, maxConflictRetries, attempts)
	})

	t.Run("non-conflict error returned immediately", func(t *testing.T) {
		idx := newTestIndex(t)
		attempts := 0
		sentinel := errors.New("some other error")
		err := idx.dbUpdate(func(txn *badger.Txn) error {
			attempts++
			return sentinel
		})
		require.Error(t, err)
		require.ErrorIs(t, err, sentinel)
		assert.Equal(t, 1, attempts)
	})
}
