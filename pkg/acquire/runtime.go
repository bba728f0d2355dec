package acquire

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/bookfetch/pkg/config"
	"github.com/Sriram-PR/bookfetch/pkg/fetch"
	"github.com/Sriram-PR/bookfetch/pkg/parse"
	"github.com/Sriram-PR/bookfetch/pkg/provider"
	"github.com/Sriram-PR/bookfetch/pkg/render"
	"github.com/Sriram-PR/bookfetch/pkg/storage"
	"github.com/Sriram-PR/bookfetch/pkg/validate"
)

const (
	hostEvictionInterval = time.Minute
	indexGCInterval      = 10 * time.Minute
)

// Runtime is a Pipeline wired from configuration together with the resources it owns
type Runtime struct {
	Config    *config.AppConfig
	Pipeline  *Pipeline
	Cache     *storage.CacheStore
	Validator *validate.Validator

	index  *storage.BadgerIndex
	cancel context.CancelFunc
}

// NewRuntime builds every service from cfg, which must already be validated,
// and starts the background maintenance goroutines. Close releases them.
func NewRuntime(cfg *config.AppConfig, log *logrus.Entry) (*Runtime, error) {
	validator := validate.NewValidator(cfg.MinDocumentBytes, log.WithField("component", "validator"))

	index, err := storage.NewBadgerIndex(cfg.IndexDir, log.WithField("component", "index"))
	if err != nil {
		return nil, err
	}
	cache, err := storage.NewCacheStore(cfg.CacheDir, validator, index, log.WithField("component", "cache"))
	if err != nil {
		index.Close()
		return nil, err
	}

	extractor, err := parse.NewLinkExtractor(cfg.LinkPatterns, log.WithField("component", "extractor"))
	if err != nil {
		index.Close()
		return nil, err
	}
	guesser, err := provider.NewGuesser(cfg.Providers, log.WithField("component", "guesser"))
	if err != nil {
		index.Close()
		return nil, err
	}

	fetchLog := log.WithField("component", "fetch")
	client := fetch.NewClient(cfg.HTTPClientSettings, fetchLog)
	fetcher := fetch.NewFetcher(client, fetch.RetryPolicyFromConfig(cfg), fetchLog)
	gate := fetch.NewHostGate(cfg.MaxRequestsPerHost, cfg.DefaultDelayPerHost, cfg.SemaphoreTimeout, fetchLog)
	var robots *fetch.RobotsChecker
	if cfg.RespectRobots {
		robots = fetch.NewRobotsChecker(fetcher, gate, cfg.DefaultUserAgent, fetchLog)
	}
	downloader := fetch.NewDownloader(fetcher, gate, robots, cfg.DefaultUserAgent, cfg.MaxDocumentBytes, fetchLog)
	probe := fetch.NewProbe(client, gate, cfg.ProbeTimeout, cfg.DefaultUserAgent, fetchLog)

	svc := Services{
		Cache:      cache,
		Downloader: downloader,
		Validator:  validator,
		Extractor:  extractor,
		Guesser:    guesser,
		Probe:      probe,
	}
	if cfg.EPUB.IsEnabled() {
		svc.Converter = render.NewEPUBConverter(cfg.EPUB.MaxChapters, log.WithField("component", "epub"))
	}
	if cfg.Renderer.IsEnabled() {
		renderLog := log.WithField("component", "renderer")
		svc.Renderer = render.NewPageRenderer(render.NewChromeBrowser(cfg.Renderer, renderLog), validator, cfg.Renderer, renderLog)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go gate.RunEviction(ctx, hostEvictionInterval)
	go index.RunGC(ctx, indexGCInterval)

	return &Runtime{
		Config:    cfg,
		Pipeline:  NewPipeline(svc, cfg.FallbackDocument, log.WithField("component", "pipeline")),
		Cache:     cache,
		Validator: validator,
		index:     index,
		cancel:    cancel,
	}, nil
}

// Close stops background work and closes the index
func (r *Runtime) Close() error {
	r.cancel()
	return r.index.Close()
}
