package fetch

import (
	"context"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// Probe answers "does this URL currently resolve to something fetchable?" with a
// single bounded HEAD request. It never retries and never reports errors.
type Probe struct {
	client    *http.Client
	gate      *HostGate
	timeout   time.Duration
	userAgent string
	log       *logrus.Entry
}

// NewProbe creates a Probe. timeout bounds the whole check, including the wait for a host permit.
func NewProbe(client *http.Client, gate *HostGate, timeout time.Duration, userAgent string, log *logrus.Entry) *Probe {
	return &Probe{
		client:    client,
		gate:      gate,
		timeout:   timeout,
		userAgent: userAgent,
		log:       log,
	}
}

// Exists returns true only if a HEAD request for rawURL answers with a 2xx status
// within the probe timeout. Malformed URLs, network errors, timeouts and non-2xx
// statuses all fold into false.
func (p *Probe) Exists(ctx context.Context, rawURL string) bool {
	probeLog := p.log.WithField("url", rawURL)

	u, err := parseRemoteURL(rawURL)
	if err != nil {
		probeLog.Debugf("Probe skipped: %v", err)
		return false
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	host := u.Hostname()
	if err := p.gate.Enter(ctx, host); err != nil {
		probeLog.Debugf("Probe gave up waiting for host: %v", err)
		return false
	}
	defer p.gate.Leave(host)

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, u.String(), nil)
	if err != nil {
		return false
	}
	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		probeLog.Debugf("Probe failed: %v", err)
		return false
	}
	drainAndClose(resp)

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	probeLog.WithField("status_code", resp.StatusCode).Debugf("Probe result: %t", ok)
	return ok
}
