package mcp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/bookfetch/pkg/models"
)

func book(id, title string) models.CatalogEntry {
	return models.CatalogEntry{ID: id, Title: title}
}

func createTestJob(t *testing.T, jm *JobManager, id string) *Job {
	t.Helper()
	job, created, err := jm.CreateJob(book(id, "Title"))
	require.NoError(t, err)
	require.True(t, created)
	require.NotNil(t, job)
	return job
}

func TestNewJobManager(t *testing.T) {
	jm := NewJobManager()
	require.NotNil(t, jm)
	assert.Empty(t, jm.ListJobs())
}

func TestCreateJob(t *testing.T) {
	t.Run("new job fields correct", func(t *testing.T) {
		jm := NewJobManager()
		job := createTestJob(t, jm, "1342")

		assert.NotEmpty(t, job.ID)
		assert.Equal(t, "1342", job.EntryID)
		assert.Equal(t, models.CacheKey("1342_Title"), job.CacheKey)
		assert.Equal(t, JobStatusPending, job.Status)
		assert.False(t, job.StartedAt.IsZero())
		assert.True(t, job.CompletedAt.IsZero())
		assert.Empty(t, job.Path)
		assert.Empty(t, job.ErrorMessage)
	})

	t.Run("duplicate active key returns same job", func(t *testing.T) {
		jm := NewJobManager()
		job1 := createTestJob(t, jm, "1")
		job2, created, err := jm.CreateJob(book("1", "Title"))
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, job1.ID, job2.ID)
	})

	t.Run("new job allowed after completion", func(t *testing.T) {
		jm := NewJobManager()
		job1 := createTestJob(t, jm, "1")
		jm.UpdateStatus(job1.ID, JobStatusCompleted, "")

		job2 := createTestJob(t, jm, "1")
		assert.NotEqual(t, job1.ID, job2.ID)
	})

	t.Run("different keys independent", func(t *testing.T) {
		jm := NewJobManager()
		job1 := createTestJob(t, jm, "a")
		job2 := createTestJob(t, jm, "b")
		assert.NotEqual(t, job1.ID, job2.ID)
	})

	t.Run("missing id rejected", func(t *testing.T) {
		jm := NewJobManager()
		_, _, err := jm.CreateJob(book("  ", "Title"))
		assert.Error(t, err)
	})
}

func TestGetJob(t *testing.T) {
	jm := NewJobManager()

	t.Run("exists returns job", func(t *testing.T) {
		job := createTestJob(t, jm, "1")
		got := jm.GetJob(job.ID)
		require.NotNil(t, got)
		assert.Equal(t, job.ID, got.ID)
	})

	t.Run("missing returns nil", func(t *testing.T) {
		assert.Nil(t, jm.GetJob("nonexistent-id"))
	})

	t.Run("snapshot is detached", func(t *testing.T) {
		job := createTestJob(t, jm, "2")
		got := jm.GetJob(job.ID)
		got.Status = JobStatusFailed
		assert.Equal(t, JobStatusPending, jm.GetJob(job.ID).Status)
	})
}

func TestGetJobByKey(t *testing.T) {
	jm := NewJobManager()

	t.Run("exists returns job", func(t *testing.T) {
		job := createTestJob(t, jm, "1")
		got := jm.GetJobByKey(job.CacheKey)
		require.NotNil(t, got)
		assert.Equal(t, job.ID, got.ID)
	})

	t.Run("missing returns nil", func(t *testing.T) {
		assert.Nil(t, jm.GetJobByKey("nonexistent"))
	})

	t.Run("returns nil after completion", func(t *testing.T) {
		job := createTestJob(t, jm, "finished")
		jm.UpdateStatus(job.ID, JobStatusCompleted, "")
		assert.Nil(t, jm.GetJobByKey(job.CacheKey))
	})
}

func TestIsRunning(t *testing.T) {
	jm := NewJobManager()

	t.Run("true for pending", func(t *testing.T) {
		job := createTestJob(t, jm, "pending")
		assert.True(t, jm.IsRunning(job.CacheKey))
	})

	t.Run("true for running", func(t *testing.T) {
		job := createTestJob(t, jm, "running")
		jm.UpdateStatus(job.ID, JobStatusRunning, "")
		assert.True(t, jm.IsRunning(job.CacheKey))
	})

	t.Run("false for completed", func(t *testing.T) {
		job := createTestJob(t, jm, "completed")
		jm.UpdateStatus(job.ID, JobStatusCompleted, "")
		assert.False(t, jm.IsRunning(job.CacheKey))
	})

	t.Run("false for failed", func(t *testing.T) {
		job := createTestJob(t, jm, "failed")
		jm.UpdateStatus(job.ID, JobStatusFailed, "something broke")
		assert.False(t, jm.IsRunning(job.CacheKey))
	})

	t.Run("false for cancelled", func(t *testing.T) {
		job := createTestJob(t, jm, "cancelled")
		jm.CancelJob(job.ID)
		assert.False(t, jm.IsRunning(job.CacheKey))
	})

	t.Run("false for nonexistent", func(t *testing.T) {
		assert.False(t, jm.IsRunning("ghost"))
	})
}

func TestUpdateStatus(t *testing.T) {
	t.Run("to running", func(t *testing.T) {
		jm := NewJobManager()
		job := createTestJob(t, jm, "1")
		jm.UpdateStatus(job.ID, JobStatusRunning, "")
		assert.Equal(t, JobStatusRunning, jm.GetJob(job.ID).Status)
	})

	t.Run("to failed sets ErrorMessage and CompletedAt", func(t *testing.T) {
		jm := NewJobManager()
		job := createTestJob(t, jm, "1")
		jm.UpdateStatus(job.ID, JobStatusFailed, "out of disk")

		got := jm.GetJob(job.ID)
		assert.Equal(t, JobStatusFailed, got.Status)
		assert.Equal(t, "out of disk", got.ErrorMessage)
		assert.False(t, got.CompletedAt.IsZero())
	})

	t.Run("finished job is not reopened", func(t *testing.T) {
		jm := NewJobManager()
		job := createTestJob(t, jm, "1")
		jm.CancelJob(job.ID)
		jm.UpdateStatus(job.ID, JobStatusRunning, "")
		assert.Equal(t, JobStatusCancelled, jm.GetJob(job.ID).Status)
	})

	t.Run("nonexistent is no-op", func(t *testing.T) {
		jm := NewJobManager()
		jm.UpdateStatus("fake-id", JobStatusRunning, "")
	})
}

func TestComplete(t *testing.T) {
	t.Run("ready outcome", func(t *testing.T) {
		jm := NewJobManager()
		job := createTestJob(t, jm, "1")
		jm.Complete(job.ID, models.Ready("/cache/1_Title.pdf", models.StrategyLandingPage))

		got := jm.GetJob(job.ID)
		assert.Equal(t, JobStatusCompleted, got.Status)
		assert.Equal(t, "/cache/1_Title.pdf", got.Path)
		assert.Equal(t, models.StrategyLandingPage, got.Strategy)
		assert.False(t, jm.IsRunning(job.CacheKey))
	})

	t.Run("failed outcome", func(t *testing.T) {
		jm := NewJobManager()
		job := createTestJob(t, jm, "1")
		jm.Complete(job.ID, models.Failed("bundled fallback document missing", errors.New("no fallback")))

		got := jm.GetJob(job.ID)
		assert.Equal(t, JobStatusFailed, got.Status)
		assert.Equal(t, "no fallback", got.ErrorMessage)
		assert.Empty(t, got.Path)
	})

	t.Run("cancelled job keeps its status", func(t *testing.T) {
		jm := NewJobManager()
		job := createTestJob(t, jm, "1")
		jm.CancelJob(job.ID)
		jm.Complete(job.ID, models.Failed("acquisition cancelled", context.Canceled))
		assert.Equal(t, JobStatusCancelled, jm.GetJob(job.ID).Status)
	})
}

func TestCancelJob(t *testing.T) {
	t.Run("running job cancelled", func(t *testing.T) {
		jm := NewJobManager()
		job := createTestJob(t, jm, "1")
		jm.UpdateStatus(job.ID, JobStatusRunning, "")

		assert.True(t, jm.CancelJob(job.ID))

		got := jm.GetJob(job.ID)
		assert.Equal(t, JobStatusCancelled, got.Status)
		assert.False(t, got.CompletedAt.IsZero())
		assert.Error(t, jm.GetContext(job.ID).Err())
	})

	t.Run("completed job not cancellable", func(t *testing.T) {
		jm := NewJobManager()
		job := createTestJob(t, jm, "1")
		jm.UpdateStatus(job.ID, JobStatusCompleted, "")
		assert.False(t, jm.CancelJob(job.ID))
	})

	t.Run("nonexistent returns false", func(t *testing.T) {
		jm := NewJobManager()
		assert.False(t, jm.CancelJob("nope"))
	})
}

func TestCancelAll(t *testing.T) {
	jm := NewJobManager()
	job1 := createTestJob(t, jm, "a")
	job2 := createTestJob(t, jm, "b")
	job3 := createTestJob(t, jm, "c")
	jm.UpdateStatus(job3.ID, JobStatusCompleted, "")

	jm.CancelAll()

	assert.Equal(t, JobStatusCancelled, jm.GetJob(job1.ID).Status)
	assert.Equal(t, JobStatusCancelled, jm.GetJob(job2.ID).Status)
	assert.Equal(t, JobStatusCompleted, jm.GetJob(job3.ID).Status)

	newJob := createTestJob(t, jm, "a")
	assert.NotEqual(t, job1.ID, newJob.ID)
}

func TestListJobs(t *testing.T) {
	jm := NewJobManager()
	job1 := createTestJob(t, jm, "a")
	time.Sleep(2 * time.Millisecond)
	job2 := createTestJob(t, jm, "b")
	time.Sleep(2 * time.Millisecond)
	job3 := createTestJob(t, jm, "c")

	jobs := jm.ListJobs()
	require.Len(t, jobs, 3)
	assert.Equal(t, job3.ID, jobs[0].ID, "most recent first")
	assert.Equal(t, job2.ID, jobs[1].ID)
	assert.Equal(t, job1.ID, jobs[2].ID)
}

func TestGetContext(t *testing.T) {
	t.Run("active job returns live context", func(t *testing.T) {
		jm := NewJobManager()
		job := createTestJob(t, jm, "1")
		assert.NoError(t, jm.GetContext(job.ID).Err())
	})

	t.Run("finished job context is done", func(t *testing.T) {
		jm := NewJobManager()
		job := createTestJob(t, jm, "1")
		jm.Complete(job.ID, models.Ready("/p.pdf", models.StrategyDirect))
		assert.Error(t, jm.GetContext(job.ID).Err())
	})

	t.Run("nonexistent returns background context", func(t *testing.T) {
		jm := NewJobManager()
		assert.Equal(t, context.Background(), jm.GetContext("nope"))
	})
}
