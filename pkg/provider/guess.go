// Package provider derives conventional document URLs from the landing pages of
// well-known content providers.
package provider

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/bookfetch/pkg/config"
	"github.com/Sriram-PR/bookfetch/pkg/parse"
	"github.com/Sriram-PR/bookfetch/pkg/utils"
)

type provider struct {
	name      string
	hosts     map[string]struct{}
	idPattern *regexp.Regexp
	templates []string
}

// Guesser maps a landing page URL to an ordered list of candidate document URLs
type Guesser struct {
	providers []provider
	log       *logrus.Entry
}

// NewGuesser compiles the provider definitions. An empty list means config.DefaultProviders.
func NewGuesser(providers []config.ProviderConfig, log *logrus.Entry) (*Guesser, error) {
	if len(providers) == 0 {
		providers = config.DefaultProviders()
	}

	g := &Guesser{log: log}
	for _, pc := range providers {
		re, err := regexp.Compile(pc.IDPattern)
		if err != nil {
			return nil, fmt.Errorf("%w: provider '%s' id_pattern: %w", utils.ErrConfigValidation, pc.Name, err)
		}
		if re.NumSubexp() < 1 {
			return nil, fmt.Errorf("%w: provider '%s' id_pattern has no capture group", utils.ErrConfigValidation, pc.Name)
		}
		hosts := make(map[string]struct{}, len(pc.Hosts))
		for _, h := range pc.Hosts {
			hosts[strings.ToLower(strings.TrimSpace(h))] = struct{}{}
		}
		g.providers = append(g.providers, provider{
			name:      pc.Name,
			hosts:     hosts,
			idPattern: re,
			templates: pc.Templates,
		})
	}
	return g, nil
}

// Guess returns candidate document URLs for a landing page, in template order with
// duplicates removed (first occurrence kept). Every candidate contains the extracted id.
// Unrecognized hosts or pages without an id yield an empty list.
func (g *Guesser) Guess(landingPageURL string) []string {
	p, u, ok := g.match(landingPageURL)
	if !ok {
		return []string{}
	}
	id := p.idPattern.FindStringSubmatch(u.Path)[1]

	replacer := strings.NewReplacer(
		"{scheme}", u.Scheme,
		"{host}", u.Host,
		"{id}", url.PathEscape(id),
	)
	candidates := make([]string, 0, len(p.templates))
	for _, tpl := range p.templates {
		candidates = append(candidates, replacer.Replace(tpl))
	}
	candidates = parse.DedupeURLs(candidates)

	g.log.WithFields(logrus.Fields{"provider": p.name, "id": id, "candidates": len(candidates)}).Debug("Provider URL guesses")
	return candidates
}

// match finds the provider for the URL's host whose id pattern matches its path
func (g *Guesser) match(landingPageURL string) (*provider, *url.URL, bool) {
	u, err := url.Parse(strings.TrimSpace(landingPageURL))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, nil, false
	}
	host := strings.ToLower(u.Hostname())
	for i := range g.providers {
		p := &g.providers[i]
		if _, ok := p.hosts[host]; !ok {
			continue
		}
		m := p.idPattern.FindStringSubmatch(u.Path)
		if m == nil || m[1] == "" {
			continue
		}
		return p, u, true
	}
	return nil, nil, false
}
