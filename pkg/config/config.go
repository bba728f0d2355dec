package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Sriram-PR/bookfetch/pkg/utils"
)

// AppConfig holds the global application configuration
type AppConfig struct {
	CacheDir                  string           `yaml:"cache_dir"`
	IndexDir                  string           `yaml:"index_dir,omitempty"` // Defaults to <cache_dir>/index
	FallbackDocument          string           `yaml:"fallback_document"`
	MinDocumentBytes          int64            `yaml:"min_document_bytes,omitempty"` // Files at or below this size are never valid
	MaxDocumentBytes          int64            `yaml:"max_document_bytes,omitempty"` // 0 = unlimited
	DefaultUserAgent          string           `yaml:"default_user_agent"`
	DefaultDelayPerHost       time.Duration    `yaml:"default_delay_per_host"`
	MaxRequestsPerHost        int              `yaml:"max_requests_per_host"`
	MaxConcurrentAcquisitions int              `yaml:"max_concurrent_acquisitions,omitempty"` // Batch and MCP job parallelism
	MaxRetries                int              `yaml:"max_retries,omitempty"`
	InitialRetryDelay         time.Duration    `yaml:"initial_retry_delay,omitempty"`
	MaxRetryDelay             time.Duration    `yaml:"max_retry_delay,omitempty"`
	SemaphoreTimeout          time.Duration    `yaml:"semaphore_acquire_timeout,omitempty"`
	ProbeTimeout              time.Duration    `yaml:"probe_timeout,omitempty"`
	RespectRobots             bool             `yaml:"respect_robots,omitempty"`
	HTTPClientSettings        HTTPClientConfig `yaml:"http_client_settings,omitempty"`
	LinkPatterns              []string         `yaml:"link_patterns,omitempty"` // Ordered; first match wins
	Providers                 []ProviderConfig `yaml:"providers,omitempty"`
	Renderer                  RendererConfig   `yaml:"renderer,omitempty"`
	EPUB                      EPUBConfig       `yaml:"epub,omitempty"`
}

// HTTPClientConfig holds settings for the shared HTTP client
type HTTPClientConfig struct {
	Timeout               time.Duration `yaml:"timeout,omitempty"`                 // Overall request timeout
	MaxIdleConns          int           `yaml:"max_idle_conns,omitempty"`          // Max total idle connections
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host,omitempty"` // Max idle connections per host
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout,omitempty"`       // Timeout for idle connections
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout,omitempty"`   // Timeout for TLS handshake
	ExpectContinueTimeout time.Duration `yaml:"expect_continue_timeout,omitempty"` // Timeout for 100-continue
	ForceAttemptHTTP2     *bool         `yaml:"force_attempt_http2,omitempty"`     // nil=default, true=force, false=disable
	DialerTimeout         time.Duration `yaml:"dialer_timeout,omitempty"`          // Connection dial timeout
	DialerKeepAlive       time.Duration `yaml:"dialer_keep_alive,omitempty"`       // TCP keep-alive interval
}

// ProviderConfig describes how a known content provider lays out its download URLs.
// IDPattern is applied to the landing page path and must have exactly one capture group.
// Templates may use the {scheme}, {host} and {id} placeholders.
type ProviderConfig struct {
	Name      string   `yaml:"name"`
	Hosts     []string `yaml:"hosts"`
	IDPattern string   `yaml:"id_pattern"`
	Templates []string `yaml:"templates"`
}

// RendererConfig controls the off-screen page renderer
type RendererConfig struct {
	Enabled            *bool         `yaml:"enabled,omitempty"` // nil = enabled
	SettleMin          time.Duration `yaml:"settle_min,omitempty"`
	SettleMax          time.Duration `yaml:"settle_max,omitempty"`
	SettlePollInterval time.Duration `yaml:"settle_poll_interval,omitempty"`
	SettleStablePolls  int           `yaml:"settle_stable_polls,omitempty"`
	ViewportWidth      int           `yaml:"viewport_width,omitempty"`
	NavigationTimeout  time.Duration `yaml:"navigation_timeout,omitempty"`
	ChromePath         string        `yaml:"chrome_path,omitempty"` // Empty = let chromedp locate a browser
}

// IsEnabled reports whether the renderer strategy should run
func (r RendererConfig) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// EPUBConfig controls the alternate-format conversion strategy
type EPUBConfig struct {
	Enabled     *bool `yaml:"enabled,omitempty"`      // nil = enabled
	MaxChapters int   `yaml:"max_chapters,omitempty"` // 0 = all chapters
}

// IsEnabled reports whether EPUB conversion should run
func (e EPUBConfig) IsEnabled() bool {
	return e.Enabled == nil || *e.Enabled
}

// DefaultProviders returns the providers used when none are configured
func DefaultProviders() []ProviderConfig {
	return []ProviderConfig{
		{
			Name:      "gutenberg",
			Hosts:     []string{"gutenberg.org", "www.gutenberg.org"},
			IDPattern: `^/ebooks/(\d+)`,
			Templates: []string{
				"{scheme}://{host}/files/{id}/{id}-pdf.pdf",
				"{scheme}://{host}/ebooks/{id}.pdf",
				"{scheme}://{host}/cache/epub/{id}/pg{id}.pdf",
			},
		},
		{
			Name:      "internet_archive",
			Hosts:     []string{"archive.org", "www.archive.org"},
			IDPattern: `^/details/([^/]+)`,
			Templates: []string{
				"{scheme}://{host}/download/{id}/{id}.pdf",
				"{scheme}://{host}/download/{id}/{id}_text.pdf",
			},
		},
	}
}

// Load reads and parses a YAML config file. Defaults are not applied; call Validate.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read config '%s': %w", utils.ErrFilesystem, path, err)
	}

	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: parse config '%s': %w", utils.ErrConfigValidation, path, err)
	}
	return &cfg, nil
}
