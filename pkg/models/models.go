package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/Sriram-PR/bookfetch/pkg/utils"
)

// DocumentExtension is the extension of every cached document
const DocumentExtension = ".pdf"

// CandidateLinks holds the typed source links a catalog offers for one book.
// An empty string means the link is absent.
type CandidateLinks struct {
	DirectDocument  string `yaml:"direct_document,omitempty" json:"direct_document,omitempty"`
	LandingPage     string `yaml:"landing_page,omitempty" json:"landing_page,omitempty"`
	AlternateFormat string `yaml:"alternate_format,omitempty" json:"alternate_format,omitempty"`
}

// IsEmpty reports whether no candidate link is present at all
func (l CandidateLinks) IsEmpty() bool {
	return strings.TrimSpace(l.DirectDocument) == "" &&
		strings.TrimSpace(l.LandingPage) == "" &&
		strings.TrimSpace(l.AlternateFormat) == ""
}

// CatalogEntry is a book's metadata plus its candidate source links, as supplied by the catalog service.
// Treated as immutable once loaded.
type CatalogEntry struct {
	ID       string         `yaml:"id" json:"id"`
	Title    string         `yaml:"title" json:"title"`
	Author   string         `yaml:"author,omitempty" json:"author,omitempty"`
	CoverURL string         `yaml:"cover_url,omitempty" json:"cover_url,omitempty"` // Display-only
	Links    CandidateLinks `yaml:"links" json:"links"`
}

// Key returns the entry's cache key
func (e CatalogEntry) Key() CacheKey {
	return NewCacheKey(e.ID, e.Title)
}

// CacheKey locates a book's cached document on disk. Stable across runs.
type CacheKey string

// NewCacheKey derives a key from the catalog id and a sanitized title
func NewCacheKey(id, title string) CacheKey {
	return CacheKey(fmt.Sprintf("%s_%s", utils.SanitizeKeyComponent(id), utils.SanitizeKeyComponent(title)))
}

// Filename returns the on-disk file name for the key
func (k CacheKey) Filename() string {
	return string(k) + DocumentExtension
}

// String implements fmt.Stringer for logging
func (k CacheKey) String() string { return string(k) }

// CachedFile describes a document present in the cache directory
type CachedFile struct {
	Path      string
	SizeBytes int64
	Validated bool
}

// IndexEntry records the provenance of a cached document in the index database
type IndexEntry struct {
	Key             CacheKey  `json:"key"`
	EntryID         string    `json:"entry_id"`
	Title           string    `json:"title,omitempty"`
	Path            string    `json:"path"`
	SizeBytes       int64     `json:"size_bytes"`
	SHA256          string    `json:"sha256,omitempty"`
	Strategy        Strategy  `json:"strategy"`
	SourceURL       string    `json:"source_url,omitempty"`
	AcquiredAt      time.Time `json:"acquired_at"`
	LastValidatedAt time.Time `json:"last_validated_at,omitempty"`
}

// Outcome is the tagged result of an acquisition: Ready(path) or Failed(reason).
// A Ready outcome always points at a validated document.
type Outcome struct {
	Status   OutcomeStatus
	Path     string
	Strategy Strategy
	Reason   string
	Err      error
}

// Ready builds a successful outcome
func Ready(path string, strategy Strategy) Outcome {
	return Outcome{Status: OutcomeReady, Path: path, Strategy: strategy}
}

// Failed builds a failed outcome
func Failed(reason string, err error) Outcome {
	return Outcome{Status: OutcomeFailed, Reason: reason, Err: err}
}

// IsReady reports whether the outcome carries a usable document path
func (o Outcome) IsReady() bool {
	return o.Status == OutcomeReady && o.Path != ""
}

// String implements fmt.Stringer for logging
func (o Outcome) String() string {
	if o.IsReady() {
		return fmt.Sprintf("ready(%s via %s)", o.Path, o.Strategy)
	}
	return fmt.Sprintf("failed(%s)", o.Reason)
}
