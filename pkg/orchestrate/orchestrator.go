// Package orchestrate acquires a batch of catalog entries in parallel,
// bounded by a shared semaphore.
package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
	"gopkg.in/yaml.v3"

	"github.com/Sriram-PR/bookfetch/pkg/models"
	"github.com/Sriram-PR/bookfetch/pkg/utils"
)

// Acquirer produces a document for one entry
type Acquirer interface {
	Acquire(ctx context.Context, entry models.CatalogEntry) models.Outcome
}

// EntryResult is the outcome of acquiring a single entry
type EntryResult struct {
	Entry    models.CatalogEntry
	Outcome  models.Outcome
	Duration time.Duration
}

// Orchestrator runs acquisitions for many entries with bounded parallelism
type Orchestrator struct {
	acquirer Acquirer
	sem      *semaphore.Weighted
	log      *logrus.Entry

	// Results
	results   []EntryResult
	resultsMu sync.Mutex

	// Coordination
	ctx    context.Context
	cancel context.CancelFunc
}

// NewOrchestrator creates an orchestrator running at most maxConcurrent acquisitions at once
func NewOrchestrator(ctx context.Context, acquirer Acquirer, maxConcurrent int, log *logrus.Entry) *Orchestrator {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Orchestrator{
		acquirer: acquirer,
		sem:      semaphore.NewWeighted(int64(maxConcurrent)),
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Run acquires every entry and waits for completion. Results are returned in input order.
func (o *Orchestrator) Run(entries []models.CatalogEntry) []EntryResult {
	startTime := time.Now()
	o.log.Infof("Starting acquisition of %d entries", len(entries))

	results := make([]EntryResult, len(entries))
	var wg sync.WaitGroup

	for i, entry := range entries {
		wg.Add(1)
		go func(i int, entry models.CatalogEntry) {
			defer wg.Done()
			results[i] = o.acquireEntry(entry)
			o.resultsMu.Lock()
			o.results = append(o.results, results[i])
			o.resultsMu.Unlock()
		}(i, entry)
	}

	wg.Wait()
	o.logSummary(results, time.Since(startTime))
	return results
}

func (o *Orchestrator) acquireEntry(entry models.CatalogEntry) EntryResult {
	startTime := time.Now()
	result := EntryResult{Entry: entry}

	if err := o.sem.Acquire(o.ctx, 1); err != nil {
		result.Outcome = models.Failed("acquisition cancelled", err)
		return result
	}
	defer o.sem.Release(1)

	result.Outcome = o.acquirer.Acquire(o.ctx, entry)
	result.Duration = time.Since(startTime)

	entryLog := o.log.WithFields(logrus.Fields{"entry_id": entry.ID, "cache_key": entry.Key()})
	if result.Outcome.IsReady() {
		entryLog.Infof("Acquired %s", result.Outcome)
	} else {
		entryLog.WithField("error_category", utils.CategorizeError(result.Outcome.Err)).Errorf("Acquisition failed: %s", result.Outcome)
	}
	return result
}

// Cancel cancels all running acquisitions
func (o *Orchestrator) Cancel() {
	o.log.Info("Cancelling all acquisitions...")
	o.cancel()
}

// Completed returns the results finished so far, in completion order
func (o *Orchestrator) Completed() []EntryResult {
	o.resultsMu.Lock()
	defer o.resultsMu.Unlock()
	out := make([]EntryResult, len(o.results))
	copy(out, o.results)
	return out
}

// logSummary logs a summary of all acquisition results
func (o *Orchestrator) logSummary(results []EntryResult, totalDuration time.Duration) {
	o.log.Info("============================================")
	o.log.Infof("Batch acquisition completed in %v", totalDuration)

	byStrategy := make(map[models.Strategy]int)
	failCount := 0
	for _, r := range results {
		if r.Outcome.IsReady() {
			byStrategy[r.Outcome.Strategy]++
		} else {
			failCount++
		}
	}
	for s, n := range byStrategy {
		o.log.Infof("  %s: %d", s, n)
	}
	if byStrategy[models.StrategyBundledFallback] > 0 {
		o.log.Warnf("%d entries fell back to the placeholder document", byStrategy[models.StrategyBundledFallback])
	}

	o.log.Info("--------------------------------------------")
	o.log.Infof("Total: %d entries (%d ready, %d failed)", len(results), len(results)-failCount, failCount)
	o.log.Info("============================================")
}

// LoadEntries reads catalog entries from a YAML (or JSON) file holding either
// a single entry or a list of entries.
func LoadEntries(path string) ([]models.CatalogEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read entries '%s': %w", utils.ErrFilesystem, path, err)
	}

	var entries []models.CatalogEntry
	if errList := yaml.Unmarshal(data, &entries); errList != nil {
		var single models.CatalogEntry
		if errOne := yaml.Unmarshal(data, &single); errOne != nil {
			return nil, fmt.Errorf("%w: parse entries '%s': %w", utils.ErrParsing, path, errOne)
		}
		entries = []models.CatalogEntry{single}
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: '%s' contains no entries", utils.ErrParsing, path)
	}
	return entries, ValidateEntries(entries)
}

// ValidateEntries checks that every entry has an id and that no two entries share a cache key
func ValidateEntries(entries []models.CatalogEntry) error {
	var errs []error
	seen := make(map[models.CacheKey]int, len(entries))
	for i, e := range entries {
		if strings.TrimSpace(e.ID) == "" {
			errs = append(errs, fmt.Errorf("entry %d has no id", i+1))
			continue
		}
		if prev, dup := seen[e.Key()]; dup {
			errs = append(errs, fmt.Errorf("entries %d and %d share cache key '%s'", prev, i+1, e.Key()))
			continue
		}
		seen[e.Key()] = i + 1
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", utils.ErrConfigValidation, errors.Join(errs...))
	}
	return nil
}
