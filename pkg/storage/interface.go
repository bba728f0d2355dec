package storage

import (
	"context"
	"time"

	"github.com/Sriram-PR/bookfetch/pkg/models"
)

// Index persists provenance records for cached documents, keyed by CacheKey
type Index interface {
	// Get returns the record for key, or nil if none exists
	Get(key models.CacheKey) (*models.IndexEntry, error)

	// Put inserts or replaces the record for entry.Key
	Put(entry *models.IndexEntry) error

	// Delete removes the record for key. Deleting a missing key is not an error.
	Delete(key models.CacheKey) error

	// List returns every record in key order
	List() ([]models.IndexEntry, error)

	// Count returns the number of records
	Count() int

	// RunGC runs periodic garbage collection. Should be run in a goroutine
	RunGC(ctx context.Context, interval time.Duration)

	// Close cleanly closes the database connection
	Close() error
}
