// Package acquire turns a catalog entry into a validated local document by
// trying each source strategy in a fixed order until one succeeds.
package acquire

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/bookfetch/pkg/fetch"
	"github.com/Sriram-PR/bookfetch/pkg/models"
	"github.com/Sriram-PR/bookfetch/pkg/utils"
)

// Cache is the local document store
type Cache interface {
	Lookup(key models.CacheKey) (*models.CachedFile, bool)
	PathFor(key models.CacheKey) string
	Record(entry models.IndexEntry) error
}

// Downloader fetches remote documents and landing pages
type Downloader interface {
	Fetch(ctx context.Context, rawURL, destPath string) (string, error)
	FetchPage(ctx context.Context, rawURL string) (*fetch.Page, error)
}

// DocumentValidator accepts or rejects (and removes) a downloaded document
type DocumentValidator interface {
	Validate(path string) bool
}

// LinkExtractor finds a document link in landing page HTML
type LinkExtractor interface {
	Extract(html, baseURL string) (string, bool)
}

// Guesser derives conventional document URLs from a landing page URL
type Guesser interface {
	Guess(landingPageURL string) []string
}

// Prober checks that a remote resource exists
type Prober interface {
	Exists(ctx context.Context, rawURL string) bool
}

// Renderer rasterizes a landing page into a document
type Renderer interface {
	Render(ctx context.Context, url, destPath string) (string, error)
}

// Converter turns a downloaded EPUB into a document
type Converter interface {
	Convert(srcPath, destPath, title, author string) error
}

// Services are the collaborators a Pipeline drives. Renderer and Converter
// are optional; a nil value skips that strategy.
type Services struct {
	Cache      Cache
	Downloader Downloader
	Validator  DocumentValidator
	Extractor  LinkExtractor
	Guesser    Guesser
	Probe      Prober
	Renderer   Renderer
	Converter  Converter
}

// Pipeline runs acquisitions. Safe for concurrent use; concurrent requests
// for the same cache key share one attempt.
type Pipeline struct {
	svc          Services
	fallbackPath string
	log          *logrus.Entry
	flights      *flightGroup
}

// NewPipeline creates a Pipeline. fallbackPath is the bundled placeholder
// returned when every strategy fails.
func NewPipeline(svc Services, fallbackPath string, log *logrus.Entry) *Pipeline {
	return &Pipeline{
		svc:          svc,
		fallbackPath: fallbackPath,
		log:          log,
		flights:      newFlightGroup(),
	}
}

// Acquire returns a usable document for entry. It never returns a partial
// file: the outcome is Ready with a validated path, the bundled fallback, or
// Failed when the fallback itself is missing or ctx ended first.
func (p *Pipeline) Acquire(ctx context.Context, entry models.CatalogEntry) models.Outcome {
	if err := ctx.Err(); err != nil {
		return models.Failed("acquisition cancelled", err)
	}
	f, err := p.flights.join(ctx, entry.Key(), func(fctx context.Context) models.Outcome {
		return p.run(fctx, entry)
	})
	if err != nil {
		return models.Failed("acquisition cancelled", err)
	}
	defer p.flights.leave(f)

	select {
	case <-f.done:
		return f.outcome
	case <-ctx.Done():
		return models.Failed("acquisition cancelled", ctx.Err())
	}
}

// AcquireAsync runs Acquire in a goroutine. The channel yields exactly one outcome.
func (p *Pipeline) AcquireAsync(ctx context.Context, entry models.CatalogEntry) <-chan models.Outcome {
	ch := make(chan models.Outcome, 1)
	go func() {
		defer close(ch)
		ch <- p.Acquire(ctx, entry)
	}()
	return ch
}

// Cancel aborts the in-flight acquisition for key, if any. Every caller
// waiting on it receives a Failed outcome.
func (p *Pipeline) Cancel(key models.CacheKey) bool {
	return p.flights.cancel(key)
}

// attempt carries per-acquisition state shared between strategies
type attempt struct {
	entry models.CatalogEntry
	key   models.CacheKey
	dest  string
	log   *logrus.Entry

	page      *fetch.Page // landing page, fetched at most once
	pageErr   error
	pageFetch bool
}

type strategy struct {
	name models.Strategy
	run  func(ctx context.Context, a *attempt) (sourceURL string, err error)
}

func (p *Pipeline) strategies() []strategy {
	return []strategy{
		{models.StrategyDirect, p.tryDirect},
		{models.StrategyLandingPage, p.tryLandingPage},
		{models.StrategyProviderGuess, p.tryProviderGuess},
		{models.StrategyAlternateFormat, p.tryAlternateFormat},
		{models.StrategyPageRender, p.tryRender},
	}
}

func (p *Pipeline) run(ctx context.Context, entry models.CatalogEntry) models.Outcome {
	key := entry.Key()
	a := &attempt{
		entry: entry,
		key:   key,
		dest:  p.svc.Cache.PathFor(key),
		log: p.log.WithFields(logrus.Fields{
			"acquisition_id": uuid.NewString(),
			"cache_key":      key,
		}),
	}

	if cached, ok := p.svc.Cache.Lookup(key); ok {
		a.log.Debug("Serving from cache")
		return models.Ready(cached.Path, models.StrategyCache)
	}
	a.log.Info("Acquiring document")

	for _, s := range p.strategies() {
		if err := ctx.Err(); err != nil {
			a.log.Infof("Acquisition cancelled before %s: %v", s.name, err)
			return models.Failed("acquisition cancelled", err)
		}

		source, err := s.run(ctx, a)
		if err == nil {
			a.log.WithFields(logrus.Fields{"strategy": s.name, "source_url": source}).Info("Document acquired")
			p.record(a, s.name, source)
			return models.Ready(a.dest, s.name)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			a.log.Infof("Acquisition cancelled during %s: %v", s.name, ctxErr)
			return models.Failed("acquisition cancelled", ctxErr)
		}

		logFn := a.log.WithFields(logrus.Fields{
			"strategy":       s.name,
			"error_category": utils.CategorizeError(err),
		})
		if errors.Is(err, utils.ErrNotFound) {
			logFn.Debugf("Strategy not applicable: %v", err)
		} else {
			logFn.Warnf("Strategy failed: %v", err)
		}
	}

	return p.fallback(a)
}

// fallback returns the bundled placeholder; its absence is the one hard failure
func (p *Pipeline) fallback(a *attempt) models.Outcome {
	info, err := os.Stat(p.fallbackPath)
	if err == nil && !info.Mode().IsRegular() {
		err = fmt.Errorf("not a regular file")
	}
	if err != nil {
		wrapped := fmt.Errorf("%w: '%s': %w", utils.ErrFallbackMissing, p.fallbackPath, err)
		a.log.WithField("error_category", utils.CategorizeError(wrapped)).Error("Bundled fallback document missing")
		return models.Failed("bundled fallback document missing", wrapped)
	}
	a.log.Warn("All strategies failed, serving bundled fallback")
	return models.Ready(p.fallbackPath, models.StrategyBundledFallback)
}

func (p *Pipeline) record(a *attempt, s models.Strategy, source string) {
	err := p.svc.Cache.Record(models.IndexEntry{
		Key:       a.key,
		EntryID:   a.entry.ID,
		Title:     a.entry.Title,
		Strategy:  s,
		SourceURL: source,
	})
	if err != nil {
		a.log.WithField("error_category", utils.CategorizeError(err)).Warnf("Failed to record provenance: %v", err)
	}
}

// download fetches rawURL into the cache slot and validates it
func (p *Pipeline) download(ctx context.Context, a *attempt, rawURL string) error {
	if _, err := p.svc.Downloader.Fetch(ctx, rawURL, a.dest); err != nil {
		return err
	}
	if !p.svc.Validator.Validate(a.dest) {
		return fmt.Errorf("%w: '%s' did not validate", utils.ErrInvalidDocument, rawURL)
	}
	return nil
}

func (p *Pipeline) tryDirect(ctx context.Context, a *attempt) (string, error) {
	link := strings.TrimSpace(a.entry.Links.DirectDocument)
	if link == "" {
		return "", fmt.Errorf("%w: no direct link", utils.ErrNotFound)
	}
	if !hasExtension(link, models.DocumentExtension) {
		return "", fmt.Errorf("%w: direct link '%s' is not a %s document", utils.ErrNotFound, link, models.DocumentExtension)
	}
	return link, p.download(ctx, a, link)
}

// landingPage fetches the landing page once per attempt
func (p *Pipeline) landingPage(ctx context.Context, a *attempt) (*fetch.Page, error) {
	if !a.pageFetch {
		a.pageFetch = true
		a.page, a.pageErr = p.svc.Downloader.FetchPage(ctx, strings.TrimSpace(a.entry.Links.LandingPage))
	}
	return a.page, a.pageErr
}

func (p *Pipeline) tryLandingPage(ctx context.Context, a *attempt) (string, error) {
	if strings.TrimSpace(a.entry.Links.LandingPage) == "" {
		return "", fmt.Errorf("%w: no landing page", utils.ErrNotFound)
	}
	page, err := p.landingPage(ctx, a)
	if err != nil {
		return "", err
	}
	link, ok := p.svc.Extractor.Extract(page.HTML, page.URL)
	if !ok {
		return "", fmt.Errorf("%w: no document link on '%s'", utils.ErrNotFound, page.URL)
	}
	a.log.WithField("link", link).Debug("Document link found on landing page")
	return link, p.download(ctx, a, link)
}

func (p *Pipeline) tryProviderGuess(ctx context.Context, a *attempt) (string, error) {
	landing := strings.TrimSpace(a.entry.Links.LandingPage)
	if landing == "" {
		return "", fmt.Errorf("%w: no landing page", utils.ErrNotFound)
	}
	candidates := p.svc.Guesser.Guess(landing)
	if a.page != nil && a.page.URL != landing {
		candidates = append(candidates, p.svc.Guesser.Guess(a.page.URL)...)
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("%w: '%s' is not a known provider page", utils.ErrNotFound, landing)
	}

	var lastErr error
	for _, candidate := range candidates {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !p.svc.Probe.Exists(ctx, candidate) {
			a.log.WithField("candidate", candidate).Debug("Provider candidate unreachable")
			continue
		}
		err := p.download(ctx, a, candidate)
		if err == nil {
			return candidate, nil
		}
		a.log.WithFields(logrus.Fields{
			"candidate":      candidate,
			"error_category": utils.CategorizeError(err),
		}).Debugf("Reachable provider candidate failed: %v", err)
		lastErr = err
	}
	if lastErr != nil {
		return "", lastErr
	}
	return "", fmt.Errorf("%w: none of %d provider candidates reachable", utils.ErrNotFound, len(candidates))
}

func (p *Pipeline) tryAlternateFormat(ctx context.Context, a *attempt) (string, error) {
	link := strings.TrimSpace(a.entry.Links.AlternateFormat)
	if link == "" {
		return "", fmt.Errorf("%w: no alternate format link", utils.ErrNotFound)
	}
	if p.svc.Converter == nil {
		return "", fmt.Errorf("%w: EPUB conversion disabled", utils.ErrNotFound)
	}
	if !hasExtension(link, ".epub") {
		return "", fmt.Errorf("%w: alternate format '%s' is not an EPUB", utils.ErrNotFound, link)
	}

	src := filepath.Join(filepath.Dir(a.dest), "."+a.key.String()+".epub")
	defer os.Remove(src)
	if _, err := p.svc.Downloader.Fetch(ctx, link, src); err != nil {
		return "", err
	}
	if err := p.svc.Converter.Convert(src, a.dest, a.entry.Title, a.entry.Author); err != nil {
		return "", err
	}
	if !p.svc.Validator.Validate(a.dest) {
		return "", fmt.Errorf("%w: converted EPUB did not validate", utils.ErrInvalidDocument)
	}
	return link, nil
}

func (p *Pipeline) tryRender(ctx context.Context, a *attempt) (string, error) {
	landing := strings.TrimSpace(a.entry.Links.LandingPage)
	if landing == "" {
		return "", fmt.Errorf("%w: no landing page to render", utils.ErrNotFound)
	}
	if p.svc.Renderer == nil {
		return "", fmt.Errorf("%w: page rendering disabled", utils.ErrNotFound)
	}
	if _, err := p.svc.Renderer.Render(ctx, landing, a.dest); err != nil {
		return "", err
	}
	return landing, nil
}

// hasExtension reports whether the URL path ends in ext, ignoring case, query and fragment
func hasExtension(rawURL, ext string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.EqualFold(path.Ext(u.Path), ext)
}
