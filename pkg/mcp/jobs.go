package mcp

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Sriram-PR/bookfetch/pkg/models"
)

// JobStatus represents the current state of an acquisition job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsActive reports whether the job has not finished yet
func (s JobStatus) IsActive() bool {
	return s == JobStatusPending || s == JobStatusRunning
}

// Job represents a background acquisition
type Job struct {
	ID           string          `json:"id"`
	EntryID      string          `json:"entry_id"`
	Title        string          `json:"title"`
	CacheKey     models.CacheKey `json:"cache_key"`
	Status       JobStatus       `json:"status"`
	StartedAt    time.Time       `json:"started_at"`
	CompletedAt  time.Time       `json:"completed_at,omitempty"`
	Path         string          `json:"path,omitempty"`
	Strategy     models.Strategy `json:"strategy,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`

	// Internal fields
	ctx    context.Context
	cancel context.CancelFunc
}

// JobManager manages background acquisition jobs
type JobManager struct {
	jobs  map[string]*Job
	mu    sync.RWMutex
	byKey map[models.CacheKey]string // cacheKey -> jobID for active jobs
}

// NewJobManager creates a new job manager
func NewJobManager() *JobManager {
	return &JobManager{
		jobs:  make(map[string]*Job),
		byKey: make(map[models.CacheKey]string),
	}
}

// CreateJob creates a job for an entry. If a job for the same cache key is
// still active it is returned instead and created is false.
func (m *JobManager) CreateJob(entry models.CatalogEntry) (*Job, bool, error) {
	if strings.TrimSpace(entry.ID) == "" {
		return nil, false, fmt.Errorf("entry id is required")
	}
	key := entry.Key()

	m.mu.Lock()
	defer m.mu.Unlock()

	if existingID, exists := m.byKey[key]; exists {
		if existing := m.jobs[existingID]; existing != nil && existing.Status.IsActive() {
			snapshot := *existing
			return &snapshot, false, nil
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	job := &Job{
		ID:        uuid.New().String(),
		EntryID:   entry.ID,
		Title:     entry.Title,
		CacheKey:  key,
		Status:    JobStatusPending,
		StartedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}

	m.jobs[job.ID] = job
	m.byKey[key] = job.ID

	snapshot := *job
	return &snapshot, true, nil
}

// GetJob returns a snapshot of a job, or nil
func (m *JobManager) GetJob(jobID string) *Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if job, exists := m.jobs[jobID]; exists {
		snapshot := *job
		return &snapshot
	}
	return nil
}

// GetJobByKey returns a snapshot of the active job for a cache key, or nil
func (m *JobManager) GetJobByKey(key models.CacheKey) *Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if jobID, exists := m.byKey[key]; exists {
		if job := m.jobs[jobID]; job != nil {
			snapshot := *job
			return &snapshot
		}
	}
	return nil
}

// IsRunning checks if a job is active for a cache key
func (m *JobManager) IsRunning(key models.CacheKey) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if jobID, exists := m.byKey[key]; exists {
		job := m.jobs[jobID]
		return job != nil && job.Status.IsActive()
	}
	return false
}

// UpdateStatus updates the status of an active job. Finished jobs are left alone.
func (m *JobManager) UpdateStatus(jobID string, status JobStatus, errorMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if job, exists := m.jobs[jobID]; exists && job.Status.IsActive() {
		job.Status = status
		if !status.IsActive() {
			m.finish(job)
		}
		if errorMsg != "" {
			job.ErrorMessage = errorMsg
		}
	}
}

// Complete records the outcome of an active job
func (m *JobManager) Complete(jobID string, outcome models.Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, exists := m.jobs[jobID]
	if !exists || !job.Status.IsActive() {
		return
	}
	if outcome.IsReady() {
		job.Status = JobStatusCompleted
		job.Path = outcome.Path
		job.Strategy = outcome.Strategy
	} else {
		job.Status = JobStatusFailed
		job.ErrorMessage = outcome.Reason
		if outcome.Err != nil {
			job.ErrorMessage = outcome.Err.Error()
		}
	}
	m.finish(job)
}

// CancelJob cancels an active job
func (m *JobManager) CancelJob(jobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if job, exists := m.jobs[jobID]; exists && job.Status.IsActive() {
		job.Status = JobStatusCancelled
		m.finish(job)
		return true
	}
	return false
}

// CancelAll cancels all active jobs
func (m *JobManager) CancelAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, job := range m.jobs {
		if job.Status.IsActive() {
			job.Status = JobStatusCancelled
			m.finish(job)
		}
	}
}

// ListJobs returns snapshots of all jobs, most recent first
func (m *JobManager) ListJobs() []*Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		snapshot := *job
		jobs = append(jobs, &snapshot)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].StartedAt.After(jobs[j].StartedAt) })
	return jobs
}

// GetContext returns the context an acquisition for the job should run under
func (m *JobManager) GetContext(jobID string) context.Context {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if job, exists := m.jobs[jobID]; exists {
		return job.ctx
	}
	return context.Background()
}

// finish must be called with m.mu held
func (m *JobManager) finish(job *Job) {
	job.CompletedAt = time.Now()
	job.cancel()
	if m.byKey[job.CacheKey] == job.ID {
		delete(m.byKey, job.CacheKey)
	}
}
