package config

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/Sriram-PR/bookfetch/pkg/utils"
)

const (
	DefaultMinDocumentBytes = 1000
	defaultFallbackDocument = "./assets/fallback.pdf"
)

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	// CacheDir
	if c.CacheDir == "" {
		warnings = append(warnings, "cache_dir is empty, defaulting to './book_cache'")
		c.CacheDir = "./book_cache"
	}

	// IndexDir
	if c.IndexDir == "" {
		c.IndexDir = filepath.Join(c.CacheDir, "index")
	}

	// FallbackDocument
	if c.FallbackDocument == "" {
		warnings = append(warnings, fmt.Sprintf("fallback_document is empty, defaulting to '%s'", defaultFallbackDocument))
		c.FallbackDocument = defaultFallbackDocument
	}

	// Document size bounds
	if c.MinDocumentBytes <= 0 {
		c.MinDocumentBytes = DefaultMinDocumentBytes
	}
	if c.MaxDocumentBytes < 0 {
		warnings = append(warnings, "max_document_bytes cannot be negative, setting to 0 (unlimited)")
		c.MaxDocumentBytes = 0
	}
	if c.MaxDocumentBytes > 0 && c.MaxDocumentBytes <= c.MinDocumentBytes {
		return warnings, fmt.Errorf("%w: max_document_bytes (%d) must exceed min_document_bytes (%d)",
			utils.ErrConfigValidation, c.MaxDocumentBytes, c.MinDocumentBytes)
	}

	// DefaultUserAgent
	if c.DefaultUserAgent == "" {
		c.DefaultUserAgent = "bookfetch/1.0"
	}

	// DefaultDelayPerHost
	if c.DefaultDelayPerHost < 0 {
		warnings = append(warnings, "default_delay_per_host cannot be negative, setting to 0")
		c.DefaultDelayPerHost = 0
	}

	// MaxRequestsPerHost
	if c.MaxRequestsPerHost <= 0 {
		warnings = append(warnings, "max_requests_per_host should be > 0, defaulting to 2")
		c.MaxRequestsPerHost = 2
	}

	// MaxConcurrentAcquisitions
	if c.MaxConcurrentAcquisitions <= 0 {
		c.MaxConcurrentAcquisitions = 4
	}

	// MaxRetries
	if c.MaxRetries < 0 {
		warnings = append(warnings, "max_retries cannot be negative, setting to 0")
		c.MaxRetries = 0
	}
	if c.MaxRetries == 0 && c.InitialRetryDelay == 0 {
		c.MaxRetries = 3
	}

	// Retry delays (only if retries enabled)
	if c.MaxRetries > 0 {
		if c.InitialRetryDelay <= 0 {
			c.InitialRetryDelay = 1 * time.Second
		}
		if c.MaxRetryDelay <= 0 {
			c.MaxRetryDelay = 30 * time.Second
		}
	}

	// InitialRetryDelay > MaxRetryDelay check
	if c.InitialRetryDelay > c.MaxRetryDelay && c.MaxRetryDelay > 0 {
		warnings = append(warnings, fmt.Sprintf(
			"initial_retry_delay (%v) > max_retry_delay (%v), using max_retry_delay for initial",
			c.InitialRetryDelay, c.MaxRetryDelay))
		c.InitialRetryDelay = c.MaxRetryDelay
	}

	// SemaphoreTimeout
	if c.SemaphoreTimeout <= 0 {
		c.SemaphoreTimeout = 30 * time.Second
	}

	// ProbeTimeout
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 10 * time.Second
	}

	c.validateHTTPClientSettings()

	// Link patterns must compile; empty means built-in rules
	compiled, errRe := utils.CompileRegexPatterns(c.LinkPatterns)
	if errRe != nil {
		return warnings, fmt.Errorf("link_patterns: %w", errRe)
	}
	for _, re := range compiled {
		if re.NumSubexp() < 1 {
			return warnings, fmt.Errorf("%w: link pattern '%s' needs a capture group for the URL",
				utils.ErrConfigValidation, re.String())
		}
	}

	// Providers
	if len(c.Providers) == 0 {
		c.Providers = DefaultProviders()
	}
	for i := range c.Providers {
		if errP := c.Providers[i].validate(); errP != nil {
			return warnings, errP
		}
	}

	warnings = append(warnings, c.Renderer.applyDefaults()...)

	// EPUB
	if c.EPUB.MaxChapters < 0 {
		warnings = append(warnings, "epub.max_chapters cannot be negative, setting to 0 (all chapters)")
		c.EPUB.MaxChapters = 0
	}

	return warnings, nil
}

// validateHTTPClientSettings applies defaults to HTTP client settings.
func (c *AppConfig) validateHTTPClientSettings() {
	h := &c.HTTPClientSettings
	if h.Timeout <= 0 {
		h.Timeout = 60 * time.Second
	}
	if h.MaxIdleConns <= 0 {
		h.MaxIdleConns = 100
	}
	if h.MaxIdleConnsPerHost <= 0 {
		h.MaxIdleConnsPerHost = 2
	}
	if h.IdleConnTimeout <= 0 {
		h.IdleConnTimeout = 90 * time.Second
	}
	if h.TLSHandshakeTimeout <= 0 {
		h.TLSHandshakeTimeout = 10 * time.Second
	}
	if h.ExpectContinueTimeout <= 0 {
		h.ExpectContinueTimeout = 1 * time.Second
	}
	if h.DialerTimeout <= 0 {
		h.DialerTimeout = 15 * time.Second
	}
	if h.DialerKeepAlive <= 0 {
		h.DialerKeepAlive = 30 * time.Second
	}
}

// validate checks a provider definition. Hosts are lower-cased in place.
func (p *ProviderConfig) validate() error {
	if p.Name == "" {
		return fmt.Errorf("%w: provider needs a name", utils.ErrConfigValidation)
	}
	if len(p.Hosts) == 0 {
		return fmt.Errorf("%w: provider '%s' has no hosts", utils.ErrConfigValidation, p.Name)
	}
	for i, h := range p.Hosts {
		p.Hosts[i] = strings.ToLower(strings.TrimSpace(h))
	}
	re, err := regexp.Compile(p.IDPattern)
	if err != nil {
		return fmt.Errorf("%w: provider '%s' id_pattern: %w", utils.ErrConfigValidation, p.Name, err)
	}
	if re.NumSubexp() != 1 {
		return fmt.Errorf("%w: provider '%s' id_pattern must have exactly one capture group",
			utils.ErrConfigValidation, p.Name)
	}
	if len(p.Templates) == 0 {
		return fmt.Errorf("%w: provider '%s' has no templates", utils.ErrConfigValidation, p.Name)
	}
	for _, tpl := range p.Templates {
		if !strings.Contains(tpl, "{id}") {
			return fmt.Errorf("%w: provider '%s' template '%s' lacks {id}", utils.ErrConfigValidation, p.Name, tpl)
		}
	}
	return nil
}

// applyDefaults fills unset renderer settings and returns warnings for corrected values.
func (r *RendererConfig) applyDefaults() (warnings []string) {
	if r.SettleMin <= 0 {
		r.SettleMin = 2 * time.Second
	}
	if r.SettleMax <= 0 {
		r.SettleMax = 10 * time.Second
	}
	if r.SettleMax < r.SettleMin {
		warnings = append(warnings, fmt.Sprintf(
			"renderer.settle_max (%v) < renderer.settle_min (%v), using settle_min for both",
			r.SettleMax, r.SettleMin))
		r.SettleMax = r.SettleMin
	}
	if r.SettlePollInterval <= 0 {
		r.SettlePollInterval = 250 * time.Millisecond
	}
	if r.SettleStablePolls <= 0 {
		r.SettleStablePolls = 3
	}
	if r.ViewportWidth <= 0 {
		r.ViewportWidth = 1240
	}
	if r.NavigationTimeout <= 0 {
		r.NavigationTimeout = 30 * time.Second
	}
	return warnings
}
