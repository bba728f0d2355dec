package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/bookfetch/pkg/utils"
)

const maxPageBytes = 8 << 20

// Page is a fetched HTML landing page
type Page struct {
	URL  string // Final URL after redirects; relative links resolve against it
	HTML string
}

// Downloader streams remote documents to disk and fetches landing pages.
// All requests go through the shared HostGate and the retrying Fetcher.
type Downloader struct {
	fetcher   *Fetcher
	gate      *HostGate
	robots    *RobotsChecker // nil = robots.txt not consulted
	userAgent string
	maxBytes  int64 // 0 = unlimited
	log       *logrus.Entry
}

// NewDownloader creates a Downloader
func NewDownloader(fetcher *Fetcher, gate *HostGate, robots *RobotsChecker, userAgent string, maxBytes int64, log *logrus.Entry) *Downloader {
	return &Downloader{
		fetcher:   fetcher,
		gate:      gate,
		robots:    robots,
		userAgent: userAgent,
		maxBytes:  maxBytes,
		log:       log,
	}
}

// Fetch downloads rawURL to destPath and returns destPath.
// The body is written to a temp file in the destination directory, synced, and renamed
// into place only once complete; on any error the temp file is removed and an existing
// destPath is left untouched.
func (d *Downloader) Fetch(ctx context.Context, rawURL, destPath string) (string, error) {
	u, err := parseRemoteURL(rawURL)
	if err != nil {
		return "", err
	}
	dlLog := d.log.WithFields(logrus.Fields{"url": u.String(), "dest": destPath})

	host := u.Hostname()
	if err := d.gate.Enter(ctx, host); err != nil {
		return "", fmt.Errorf("%w: waiting for host %s: %w", utils.ErrNetworkFailure, host, err)
	}
	defer d.gate.Leave(host)

	resp, err := d.get(ctx, u, "application/pdf,application/octet-stream;q=0.9,*/*;q=0.5")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if d.maxBytes > 0 && resp.ContentLength > d.maxBytes {
		return "", fmt.Errorf("%w: %s declares %d bytes (limit %d)", utils.ErrTooLarge, u, resp.ContentLength, d.maxBytes)
	}

	dir := filepath.Dir(destPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("%w: create directory '%s': %w", utils.ErrFilesystem, dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(destPath)+".*.part")
	if err != nil {
		return "", fmt.Errorf("%w: create temp file in '%s': %w", utils.ErrFilesystem, dir, err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	var body io.Reader = resp.Body
	if d.maxBytes > 0 {
		body = io.LimitReader(resp.Body, d.maxBytes+1)
	}
	written, err := io.Copy(tmp, body)
	if err != nil {
		return "", fmt.Errorf("%w: %w: %s: %w", utils.ErrNetworkFailure, utils.ErrResponseBodyRead, u, err)
	}
	if d.maxBytes > 0 && written > d.maxBytes {
		return "", fmt.Errorf("%w: %s exceeded %d bytes", utils.ErrTooLarge, u, d.maxBytes)
	}

	if err := tmp.Sync(); err != nil {
		return "", fmt.Errorf("%w: sync '%s': %w", utils.ErrFilesystem, tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("%w: close '%s': %w", utils.ErrFilesystem, tmpPath, err)
	}
	if err := os.Remove(destPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%w: remove existing '%s': %w", utils.ErrFilesystem, destPath, err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return "", fmt.Errorf("%w: rename '%s' -> '%s': %w", utils.ErrFilesystem, tmpPath, destPath, err)
	}
	committed = true

	dlLog.WithField("bytes", written).Debug("Download complete")
	return destPath, nil
}

// FetchPage retrieves an HTML landing page. When robots checking is enabled and the
// host disallows the page, ErrRobotsDisallowed is returned without fetching it.
func (d *Downloader) FetchPage(ctx context.Context, rawURL string) (*Page, error) {
	u, err := parseRemoteURL(rawURL)
	if err != nil {
		return nil, err
	}

	if d.robots != nil && !d.robots.Allowed(ctx, u) {
		return nil, fmt.Errorf("%w: %s", utils.ErrRobotsDisallowed, u)
	}

	host := u.Hostname()
	if err := d.gate.Enter(ctx, host); err != nil {
		return nil, fmt.Errorf("%w: waiting for host %s: %w", utils.ErrNetworkFailure, host, err)
	}
	defer d.gate.Leave(host)

	resp, err := d.get(ctx, u, "text/html,application/xhtml+xml;q=0.9,*/*;q=0.5")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "" && !isHTMLContentType(ct) {
		return nil, fmt.Errorf("%w: landing page %s is not HTML (content-type %s)", utils.ErrParsing, u, ct)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %w: %s: %w", utils.ErrNetworkFailure, utils.ErrResponseBodyRead, u, err)
	}

	finalURL := u.String()
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	return &Page{URL: finalURL, HTML: string(body)}, nil
}

// get issues a GET through the retrying fetcher. Failures wrap ErrNetworkFailure.
func (d *Downloader) get(ctx context.Context, u *url.URL, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", utils.ErrRequestCreation, err)
	}
	req.Header.Set("User-Agent", d.userAgent)
	req.Header.Set("Accept", accept)

	resp, err := d.fetcher.FetchWithRetry(req, ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: GET %s: %w", utils.ErrNetworkFailure, u, err)
	}
	return resp, nil
}

// parseRemoteURL accepts absolute http(s) URLs only
func parseRemoteURL(rawURL string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid URL '%s': %w", utils.ErrParsing, rawURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: invalid URL '%s': need absolute http(s) URL", utils.ErrParsing, rawURL)
	}
	return u, nil
}

func isHTMLContentType(ct string) bool {
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return true // Malformed header; let the extractor decide
	}
	return strings.HasPrefix(mediaType, "text/") || mediaType == "application/xhtml+xml"
}
