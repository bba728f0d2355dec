package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/temoto/robotstxt"
)

const maxRobotsBytes = 512 << 10

// RobotsChecker fetches, parses and caches robots.txt per host so that landing
// pages are only scraped where the host permits it.
type RobotsChecker struct {
	fetcher       *Fetcher
	gate          *HostGate
	userAgent     string
	robotsCache   map[string]*robotstxt.RobotsData // scheme://host -> parsed data (nil = unavailable)
	robotsCacheMu sync.Mutex
	log           *logrus.Entry
}

// NewRobotsChecker creates a RobotsChecker
func NewRobotsChecker(fetcher *Fetcher, gate *HostGate, userAgent string, log *logrus.Entry) *RobotsChecker {
	return &RobotsChecker{
		fetcher:     fetcher,
		gate:        gate,
		userAgent:   userAgent,
		robotsCache: make(map[string]*robotstxt.RobotsData),
		log:         log,
	}
}

// Allowed reports whether the configured user agent may fetch targetURL.
// Missing or unreadable robots.txt files allow everything.
func (rc *RobotsChecker) Allowed(ctx context.Context, targetURL *url.URL) bool {
	data := rc.robotsData(ctx, targetURL)
	if data == nil {
		return true
	}
	return data.TestAgent(targetURL.RequestURI(), rc.userAgent)
}

// robotsData returns cached robots data for the target's host, fetching it on first use
func (rc *RobotsChecker) robotsData(ctx context.Context, targetURL *url.URL) *robotstxt.RobotsData {
	scheme := strings.ToLower(targetURL.Scheme)
	if scheme != "http" && scheme != "https" {
		scheme = "https"
	}
	cacheKey := scheme + "://" + strings.ToLower(targetURL.Host)

	rc.robotsCacheMu.Lock()
	data, found := rc.robotsCache[cacheKey]
	rc.robotsCacheMu.Unlock()
	if found {
		return data
	}

	robotsURL := &url.URL{Scheme: scheme, Host: targetURL.Host, Path: "/robots.txt"}
	robotsLog := rc.log.WithField("robots_url", robotsURL.String())

	data, err := rc.fetchRobots(ctx, robotsURL)
	if err != nil {
		robotsLog.Debugf("robots.txt unavailable, allowing all: %v", err)
		if ctx.Err() != nil {
			return nil // Don't cache a cancelled lookup
		}
	} else {
		robotsLog.Debug("Fetched and parsed robots.txt")
	}

	rc.robotsCacheMu.Lock()
	rc.robotsCache[cacheKey] = data
	rc.robotsCacheMu.Unlock()
	return data
}

func (rc *RobotsChecker) fetchRobots(ctx context.Context, robotsURL *url.URL) (*robotstxt.RobotsData, error) {
	host := robotsURL.Hostname()
	if err := rc.gate.Enter(ctx, host); err != nil {
		return nil, err
	}
	defer rc.gate.Leave(host)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", rc.userAgent)

	resp, err := rc.fetcher.FetchWithRetry(req, ctx)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
	if err != nil {
		return nil, fmt.Errorf("read robots.txt: %w", err)
	}
	return robotstxt.FromBytes(body)
}
