package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/bookfetch/pkg/config"
	"github.com/Sriram-PR/bookfetch/pkg/models"
)

// gatedAcquirer blocks every acquisition until release is closed or ctx ends
type gatedAcquirer struct {
	release   chan struct{}
	started   atomic.Int32
	cancelled atomic.Int32
	mu        sync.Mutex
	entries   []models.CatalogEntry
}

func newGatedAcquirer() *gatedAcquirer {
	return &gatedAcquirer{release: make(chan struct{})}
}

func (a *gatedAcquirer) Acquire(ctx context.Context, entry models.CatalogEntry) models.Outcome {
	a.started.Add(1)
	a.mu.Lock()
	a.entries = append(a.entries, entry)
	a.mu.Unlock()

	select {
	case <-a.release:
		return models.Ready("/cache/"+entry.Key().Filename(), models.StrategyDirect)
	case <-ctx.Done():
		a.cancelled.Add(1)
		return models.Failed("acquisition cancelled", ctx.Err())
	}
}

type fakeCache struct {
	entries []models.IndexEntry
	err     error
}

func (c *fakeCache) List() ([]models.IndexEntry, error) { return c.entries, c.err }

func newTestServer(t *testing.T, acq Acquirer, cache CacheLister, slots int) *Server {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	s, err := NewServer(&ServerConfig{
		AppConfig: &config.AppConfig{MaxConcurrentAcquisitions: slots},
		Transport: "stdio",
		Logger:    logger,
	}, acq, cache)
	require.NoError(t, err)
	t.Cleanup(func() { s.Shutdown(context.Background()) })
	return s
}

func toolRequest(args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func resultJSON(t *testing.T, res *mcp.CallToolResult) map[string]interface{} {
	t.Helper()
	require.NotNil(t, res)
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content")
	require.False(t, res.IsError, text.Text)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(text.Text), &out))
	return out
}

func jobStatus(t *testing.T, s *Server, jobID string) string {
	t.Helper()
	res, err := s.handleGetJobStatus(context.Background(), toolRequest(map[string]interface{}{"job_id": jobID}))
	require.NoError(t, err)
	return resultJSON(t, res)["status"].(string)
}

func TestNewServer_RequiresDependencies(t *testing.T) {
	_, err := NewServer(&ServerConfig{}, newGatedAcquirer(), &fakeCache{})
	assert.Error(t, err)

	_, err = NewServer(&ServerConfig{AppConfig: &config.AppConfig{}}, nil, &fakeCache{})
	assert.Error(t, err)
}

func TestHandleAcquireBook_Wait(t *testing.T) {
	acq := newGatedAcquirer()
	close(acq.release)
	s := newTestServer(t, acq, &fakeCache{}, 2)

	res, err := s.handleAcquireBook(context.Background(), toolRequest(map[string]interface{}{
		"id":              "1342",
		"title":           "Pride and Prejudice",
		"direct_document": "https://example.org/1342.pdf",
		"wait":            true,
	}))
	require.NoError(t, err)

	out := resultJSON(t, res)
	assert.Equal(t, "ready", out["status"])
	assert.Equal(t, "/cache/1342_Pride_and_Prejudice.pdf", out["path"])
	assert.Equal(t, "direct", out["strategy"])
	assert.Equal(t, false, out["degraded"])

	require.Len(t, acq.entries, 1)
	assert.Equal(t, "https://example.org/1342.pdf", acq.entries[0].Links.DirectDocument)
}

func TestHandleAcquireBook_MissingParams(t *testing.T) {
	s := newTestServer(t, newGatedAcquirer(), &fakeCache{}, 1)

	for _, args := range []map[string]interface{}{
		{"title": "No id"},
		{"id": "1"},
		{"id": "  ", "title": "Blank id"},
	} {
		res, err := s.handleAcquireBook(context.Background(), toolRequest(args))
		require.NoError(t, err)
		assert.True(t, res.IsError, "args %v", args)
	}
}

func TestHandleAcquireBook_BackgroundJob(t *testing.T) {
	acq := newGatedAcquirer()
	s := newTestServer(t, acq, &fakeCache{}, 2)
	args := map[string]interface{}{"id": "84", "title": "Frankenstein"}

	res, err := s.handleAcquireBook(context.Background(), toolRequest(args))
	require.NoError(t, err)
	started := resultJSON(t, res)
	assert.Equal(t, "started", started["status"])
	assert.Equal(t, "84_Frankenstein", started["cache_key"])
	jobID := started["job_id"].(string)

	// Same book while the first job is active
	res, err = s.handleAcquireBook(context.Background(), toolRequest(args))
	require.NoError(t, err)
	again := resultJSON(t, res)
	assert.Equal(t, "already_running", again["status"])
	assert.Equal(t, jobID, again["job_id"])

	require.Eventually(t, func() bool { return jobStatus(t, s, jobID) == "running" }, time.Second, 5*time.Millisecond)
	close(acq.release)
	require.Eventually(t, func() bool { return jobStatus(t, s, jobID) == "completed" }, time.Second, 5*time.Millisecond)

	res, err = s.handleGetJobStatus(context.Background(), toolRequest(map[string]interface{}{"job_id": jobID}))
	require.NoError(t, err)
	status := resultJSON(t, res)
	assert.Equal(t, "/cache/84_Frankenstein.pdf", status["path"])
	assert.Equal(t, "direct", status["strategy"])
	assert.Contains(t, status, "completed_at")
	assert.Equal(t, int32(1), acq.started.Load())
}

func TestHandleCancelJob(t *testing.T) {
	acq := newGatedAcquirer()
	s := newTestServer(t, acq, &fakeCache{}, 1)

	res, err := s.handleAcquireBook(context.Background(), toolRequest(map[string]interface{}{"id": "1", "title": "Slow"}))
	require.NoError(t, err)
	jobID := resultJSON(t, res)["job_id"].(string)
	require.Eventually(t, func() bool { return acq.started.Load() == 1 }, time.Second, 5*time.Millisecond)

	res, err = s.handleCancelJob(context.Background(), toolRequest(map[string]interface{}{"job_id": jobID}))
	require.NoError(t, err)
	out := resultJSON(t, res)
	assert.Equal(t, true, out["cancelled"])
	assert.Equal(t, "cancelled", out["status"])

	require.Eventually(t, func() bool { return acq.cancelled.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "cancelled", jobStatus(t, s, jobID))

	// Second cancel is a no-op
	res, err = s.handleCancelJob(context.Background(), toolRequest(map[string]interface{}{"job_id": jobID}))
	require.NoError(t, err)
	assert.Equal(t, false, resultJSON(t, res)["cancelled"])
}

func TestHandleAcquireBook_JobSlotsBoundParallelism(t *testing.T) {
	acq := newGatedAcquirer()
	s := newTestServer(t, acq, &fakeCache{}, 1)

	res, err := s.handleAcquireBook(context.Background(), toolRequest(map[string]interface{}{"id": "1", "title": "First"}))
	require.NoError(t, err)
	first := resultJSON(t, res)["job_id"].(string)
	require.Eventually(t, func() bool { return jobStatus(t, s, first) == "running" }, time.Second, 5*time.Millisecond)

	res, err = s.handleAcquireBook(context.Background(), toolRequest(map[string]interface{}{"id": "2", "title": "Second"}))
	require.NoError(t, err)
	second := resultJSON(t, res)["job_id"].(string)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, "pending", jobStatus(t, s, second), "waits for a free slot")
	assert.Equal(t, int32(1), acq.started.Load())

	// Cancelling a queued job never starts it
	s.jobManager.CancelJob(second)
	close(acq.release)
	require.Eventually(t, func() bool { return jobStatus(t, s, first) == "completed" }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), acq.started.Load())
	assert.Equal(t, "cancelled", jobStatus(t, s, second))
}

func TestHandleGetJobStatus_Errors(t *testing.T) {
	s := newTestServer(t, newGatedAcquirer(), &fakeCache{}, 1)

	res, err := s.handleGetJobStatus(context.Background(), toolRequest(map[string]interface{}{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = s.handleGetJobStatus(context.Background(), toolRequest(map[string]interface{}{"job_id": "missing"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = s.handleCancelJob(context.Background(), toolRequest(map[string]interface{}{"job_id": "missing"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestHandleListCached(t *testing.T) {
	acquired := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cache := &fakeCache{entries: []models.IndexEntry{
		{Key: "1342_Pride_and_Prejudice", EntryID: "1342", Title: "Pride and Prejudice", Path: "/c/1342.pdf",
			SizeBytes: 2048, Strategy: models.StrategyDirect, SourceURL: "https://example.org/1342.pdf", AcquiredAt: acquired},
		{Key: "84_Frankenstein", EntryID: "84", Title: "Frankenstein", Path: "/c/84.pdf",
			SizeBytes: 4096, Strategy: models.StrategyAlternateFormat, AcquiredAt: acquired},
		{Key: "11_Alice", EntryID: "11", Title: "Alice", Path: "/c/11.pdf",
			SizeBytes: 1500, Strategy: models.StrategyPageRender, AcquiredAt: acquired},
	}}
	s := newTestServer(t, newGatedAcquirer(), cache, 1)

	t.Run("all", func(t *testing.T) {
		res, err := s.handleListCached(context.Background(), toolRequest(map[string]interface{}{}))
		require.NoError(t, err)
		out := resultJSON(t, res)
		assert.Equal(t, float64(3), out["total_matches"])
		docs := out["documents"].([]interface{})
		require.Len(t, docs, 3)
		first := docs[0].(map[string]interface{})
		assert.Equal(t, "1342_Pride_and_Prejudice", first["cache_key"])
		assert.Equal(t, "https://example.org/1342.pdf", first["source_url"])
		assert.Equal(t, "2026-03-01T12:00:00Z", first["acquired_at"])
	})

	t.Run("query matches title or key", func(t *testing.T) {
		res, err := s.handleListCached(context.Background(), toolRequest(map[string]interface{}{"query": "PRIDE"}))
		require.NoError(t, err)
		out := resultJSON(t, res)
		assert.Equal(t, float64(1), out["total_matches"])

		res, err = s.handleListCached(context.Background(), toolRequest(map[string]interface{}{"query": "84_"}))
		require.NoError(t, err)
		assert.Equal(t, float64(1), resultJSON(t, res)["total_matches"])
	})

	t.Run("max results caps documents not matches", func(t *testing.T) {
		res, err := s.handleListCached(context.Background(), toolRequest(map[string]interface{}{"max_results": 1}))
		require.NoError(t, err)
		out := resultJSON(t, res)
		assert.Equal(t, float64(3), out["total_matches"])
		assert.Len(t, out["documents"].([]interface{}), 1)
	})

	t.Run("cache error", func(t *testing.T) {
		broken := newTestServer(t, newGatedAcquirer(), &fakeCache{err: errors.New("index closed")}, 1)
		res, err := broken.handleListCached(context.Background(), toolRequest(map[string]interface{}{}))
		require.NoError(t, err)
		assert.True(t, res.IsError)
	})
}

func TestRun_UnknownTransport(t *testing.T) {
	s := newTestServer(t, newGatedAcquirer(), &fakeCache{}, 1)
	s.cfg.Transport = "carrier-pigeon"
	assert.Error(t, s.Run())
}
