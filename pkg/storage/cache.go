// Package storage owns the local document cache: one directory of validated
// documents plus a badger index recording where each one came from.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/bookfetch/pkg/models"
	"github.com/Sriram-PR/bookfetch/pkg/utils"
)

// DocumentValidator accepts or rejects (and removes) a document
type DocumentValidator interface {
	Validate(path string) bool
}

// CacheStore maps cache keys to validated documents in a single directory.
// At most one document exists per key.
type CacheStore struct {
	dir       string
	validator DocumentValidator
	index     Index // nil disables provenance tracking
	log       *logrus.Entry
}

// NewCacheStore creates the cache directory if needed. index may be nil.
func NewCacheStore(dir string, validator DocumentValidator, index Index, log *logrus.Entry) (*CacheStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: cannot create cache directory %s: %w", utils.ErrFilesystem, dir, err)
	}
	return &CacheStore{dir: dir, validator: validator, index: index, log: log}, nil
}

// Dir returns the cache directory
func (c *CacheStore) Dir() string { return c.dir }

// PathFor returns where the document for key lives (or would live)
func (c *CacheStore) PathFor(key models.CacheKey) string {
	return filepath.Join(c.dir, key.Filename())
}

// Lookup returns the cached document for key if it exists and validates.
// A file that fails validation is deleted along with its index record,
// and the key is reported absent.
func (c *CacheStore) Lookup(key models.CacheKey) (*models.CachedFile, bool) {
	path := c.PathFor(key)
	log := c.log.WithField("cache_key", key)

	info, err := os.Stat(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warnf("Cannot stat cached document: %v", err)
		}
		c.dropRecord(key)
		return nil, false
	}

	if !c.validator.Validate(path) {
		log.Warn("Cached document failed validation, removed")
		c.dropRecord(key)
		return nil, false
	}

	c.touch(key)
	return &models.CachedFile{Path: path, SizeBytes: info.Size(), Validated: true}, true
}

// Invalidate removes the document for key and its index record
func (c *CacheStore) Invalidate(key models.CacheKey) error {
	path := c.PathFor(key)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: remove '%s': %w", utils.ErrFilesystem, path, err)
	}
	if c.index != nil {
		if err := c.index.Delete(key); err != nil {
			return err
		}
	}
	c.log.WithField("cache_key", key).Debug("Cache entry invalidated")
	return nil
}

// Record stores the provenance of the document now cached under entry.Key.
// Path, size and digest are filled in from the file.
func (c *CacheStore) Record(entry models.IndexEntry) error {
	if c.index == nil {
		return nil
	}
	entry.Path = c.PathFor(entry.Key)
	sum, size, err := utils.FileDigest(entry.Path)
	if err != nil {
		return fmt.Errorf("%w: digest '%s': %w", utils.ErrFilesystem, entry.Path, err)
	}
	entry.SHA256 = sum
	entry.SizeBytes = size
	now := time.Now().UTC()
	if entry.AcquiredAt.IsZero() {
		entry.AcquiredAt = now
	}
	entry.LastValidatedAt = now
	return c.index.Put(&entry)
}

// List returns every index record
func (c *CacheStore) List() ([]models.IndexEntry, error) {
	if c.index == nil {
		return nil, nil
	}
	return c.index.List()
}

// Prune drops index records whose document no longer exists.
// Returns the number of records dropped.
func (c *CacheStore) Prune() (int, error) {
	entries, err := c.List()
	if err != nil {
		return 0, err
	}
	dropped := 0
	for _, e := range entries {
		if _, statErr := os.Stat(c.PathFor(e.Key)); errors.Is(statErr, os.ErrNotExist) {
			if err := c.index.Delete(e.Key); err != nil {
				return dropped, err
			}
			dropped++
		}
	}
	if dropped > 0 {
		c.log.Infof("Pruned %d stale index records", dropped)
	}
	return dropped, nil
}

// Purge removes every cached document and index record.
// Returns the number of documents removed.
func (c *CacheStore) Purge() (int, error) {
	dirEntries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0, fmt.Errorf("%w: read cache directory: %w", utils.ErrFilesystem, err)
	}
	removed := 0
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || !strings.HasSuffix(name, models.DocumentExtension) {
			continue
		}
		if err := c.Invalidate(models.CacheKey(strings.TrimSuffix(name, models.DocumentExtension))); err != nil {
			return removed, err
		}
		removed++
	}
	if _, err := c.Prune(); err != nil {
		return removed, err
	}
	return removed, nil
}

func (c *CacheStore) dropRecord(key models.CacheKey) {
	if c.index == nil {
		return
	}
	if err := c.index.Delete(key); err != nil {
		c.log.WithField("cache_key", key).Warnf("Failed to drop index record: %v", err)
	}
}

// touch refreshes LastValidatedAt on an existing record
func (c *CacheStore) touch(key models.CacheKey) {
	if c.index == nil {
		return
	}
	entry, err := c.index.Get(key)
	if err != nil || entry == nil {
		return
	}
	entry.LastValidatedAt = time.Now().UTC()
	if err := c.index.Put(entry); err != nil {
		c.log.WithField("cache_key", key).Debugf("Failed to refresh index record: %v", err)
	}
}
