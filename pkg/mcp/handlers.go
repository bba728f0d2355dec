package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/bookfetch/pkg/models"
)

const (
	defaultListResults = 50
	maxListResults     = 500
)

// handleAcquireBook handles the acquire_book tool
func (s *Server) handleAcquireBook(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entry := models.CatalogEntry{
		ID:     strings.TrimSpace(request.GetString("id", "")),
		Title:  strings.TrimSpace(request.GetString("title", "")),
		Author: request.GetString("author", ""),
		Links: models.CandidateLinks{
			DirectDocument:  request.GetString("direct_document", ""),
			LandingPage:     request.GetString("landing_page", ""),
			AlternateFormat: request.GetString("alternate_format", ""),
		},
	}
	if entry.ID == "" {
		return mcp.NewToolResultError("id parameter is required"), nil
	}
	if entry.Title == "" {
		return mcp.NewToolResultError("title parameter is required"), nil
	}

	if request.GetBool("wait", false) {
		outcome := s.acquirer.Acquire(ctx, entry)
		return mcp.NewToolResultText(formatJSON(outcomeResult(entry, outcome))), nil
	}

	job, created, err := s.jobManager.CreateJob(entry)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to create job: %v", err)), nil
	}
	if !created {
		result := map[string]interface{}{
			"status":    "already_running",
			"message":   "An acquisition is already in progress for this book",
			"job_id":    job.ID,
			"cache_key": job.CacheKey,
		}
		return mcp.NewToolResultText(formatJSON(result)), nil
	}

	go s.runAcquireJob(job.ID, entry)

	result := map[string]interface{}{
		"status":    "started",
		"message":   "Acquisition started",
		"job_id":    job.ID,
		"cache_key": job.CacheKey,
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleGetJobStatus handles the get_job_status tool
func (s *Server) handleGetJobStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID := request.GetString("job_id", "")
	if jobID == "" {
		return mcp.NewToolResultError("job_id parameter is required"), nil
	}

	job := s.jobManager.GetJob(jobID)
	if job == nil {
		return mcp.NewToolResultError(fmt.Sprintf("job '%s' not found", jobID)), nil
	}

	result := map[string]interface{}{
		"job_id":     job.ID,
		"entry_id":   job.EntryID,
		"title":      job.Title,
		"cache_key":  job.CacheKey,
		"status":     job.Status,
		"started_at": job.StartedAt.Format(time.RFC3339),
	}

	if !job.CompletedAt.IsZero() {
		result["completed_at"] = job.CompletedAt.Format(time.RFC3339)
		result["duration_seconds"] = job.CompletedAt.Sub(job.StartedAt).Seconds()
	}
	if job.Path != "" {
		result["path"] = job.Path
		result["strategy"] = job.Strategy
		result["degraded"] = job.Strategy.IsDegraded()
	}
	if job.ErrorMessage != "" {
		result["error_message"] = job.ErrorMessage
	}

	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleCancelJob handles the cancel_job tool
func (s *Server) handleCancelJob(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID := request.GetString("job_id", "")
	if jobID == "" {
		return mcp.NewToolResultError("job_id parameter is required"), nil
	}

	job := s.jobManager.GetJob(jobID)
	if job == nil {
		return mcp.NewToolResultError(fmt.Sprintf("job '%s' not found", jobID)), nil
	}

	cancelled := s.jobManager.CancelJob(jobID)
	if cancelled {
		s.log.WithField("cache_key", job.CacheKey).Infof("Cancelled job %s", jobID)
	}

	result := map[string]interface{}{
		"job_id":    jobID,
		"cancelled": cancelled,
		"status":    s.jobManager.GetJob(jobID).Status,
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleListCached handles the list_cached tool
func (s *Server) handleListCached(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := strings.ToLower(strings.TrimSpace(request.GetString("query", "")))
	maxResults := request.GetInt("max_results", defaultListResults)
	if maxResults <= 0 {
		maxResults = defaultListResults
	}
	if maxResults > maxListResults {
		maxResults = maxListResults
	}

	entries, err := s.cache.List()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list cache: %v", err)), nil
	}

	documents := make([]map[string]interface{}, 0)
	matches := 0
	for _, e := range entries {
		if query != "" && !matchesQuery(e, query) {
			continue
		}
		matches++
		if len(documents) >= maxResults {
			continue
		}
		doc := map[string]interface{}{
			"cache_key":   e.Key,
			"entry_id":    e.EntryID,
			"title":       e.Title,
			"path":        e.Path,
			"size_bytes":  e.SizeBytes,
			"sha256":      e.SHA256,
			"strategy":    e.Strategy,
			"acquired_at": e.AcquiredAt.Format(time.RFC3339),
		}
		if e.SourceURL != "" {
			doc["source_url"] = e.SourceURL
		}
		documents = append(documents, doc)
	}

	result := map[string]interface{}{
		"documents":     documents,
		"total_matches": matches,
	}
	if query != "" {
		result["query"] = query
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// runAcquireJob runs an acquisition job in the background
func (s *Server) runAcquireJob(jobID string, entry models.CatalogEntry) {
	jobCtx := s.jobManager.GetContext(jobID)
	jobLog := s.log.WithFields(logrus.Fields{"job_id": jobID, "cache_key": entry.Key()})

	if err := s.jobSlots.Acquire(jobCtx, 1); err != nil {
		jobLog.Debugf("Job ended before a slot was free: %v", err)
		s.jobManager.UpdateStatus(jobID, JobStatusCancelled, "")
		return
	}
	defer s.jobSlots.Release(1)

	s.jobManager.UpdateStatus(jobID, JobStatusRunning, "")
	outcome := s.acquirer.Acquire(jobCtx, entry)
	s.jobManager.Complete(jobID, outcome)
	jobLog.Infof("Job finished: %s", outcome)
}

func outcomeResult(entry models.CatalogEntry, outcome models.Outcome) map[string]interface{} {
	result := map[string]interface{}{
		"entry_id":  entry.ID,
		"cache_key": entry.Key(),
		"status":    outcome.Status.String(),
	}
	if outcome.IsReady() {
		result["path"] = outcome.Path
		result["strategy"] = outcome.Strategy
		result["degraded"] = outcome.Strategy.IsDegraded()
	} else {
		result["reason"] = outcome.Reason
		if outcome.Err != nil {
			result["error_message"] = outcome.Err.Error()
		}
	}
	return result
}

func matchesQuery(e models.IndexEntry, query string) bool {
	return strings.Contains(strings.ToLower(e.Title), query) ||
		strings.Contains(strings.ToLower(string(e.Key)), query)
}

// formatJSON formats data as an indented JSON string
func formatJSON(data map[string]interface{}) string {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("{\"error\": %q}", err.Error())
	}
	return string(b)
}
