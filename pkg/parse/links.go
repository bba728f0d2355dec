package parse

import (
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/bookfetch/pkg/utils"
)

// DefaultLinkPatterns are the built-in extraction rules, in priority order.
// Each pattern's first capture group is the candidate URL.
var DefaultLinkPatterns = []string{
	`(?i)\bhref\s*=\s*"([^"]*?\.pdf(?:[?#][^"]*)?)"`,
	`(?i)\bhref\s*=\s*'([^']*?\.pdf(?:[?#][^']*)?)'`,
	`(?i)\bsrc\s*=\s*"([^"]*?\.pdf(?:[?#][^"]*)?)"`,
	`(?i)\bsrc\s*=\s*'([^']*?\.pdf(?:[?#][^']*)?)'`,
}

// documentTypeSelector finds elements that declare a PDF media type but whose
// URL may lack the extension (e.g. "/download?id=42").
const documentTypeSelector = `a[type="application/pdf"][href], link[type="application/pdf"][href], ` +
	`embed[type="application/pdf"][src], object[type="application/pdf"][data]`

// LinkExtractor finds the first document link in an HTML page.
// Pattern rules run first, in order; the DOM rule runs last.
type LinkExtractor struct {
	patterns []*regexp.Regexp
	log      *logrus.Entry
}

// NewLinkExtractor compiles the given patterns, or DefaultLinkPatterns when none are given.
func NewLinkExtractor(patterns []string, log *logrus.Entry) (*LinkExtractor, error) {
	if len(patterns) == 0 {
		patterns = DefaultLinkPatterns
	}
	compiled, err := utils.CompileRegexPatterns(patterns)
	if err != nil {
		return nil, err
	}
	for _, re := range compiled {
		if re.NumSubexp() < 1 {
			return nil, fmt.Errorf("%w: link pattern '%s' has no capture group", utils.ErrConfigValidation, re)
		}
	}
	return &LinkExtractor{patterns: compiled, log: log}, nil
}

// Extract returns the first document URL found in htmlText, resolved against baseURL.
// Rules are tried in priority order and, within a rule, matches in document order;
// a match that cannot be resolved to an http(s) URL is skipped. Deterministic for a
// given input.
func (le *LinkExtractor) Extract(htmlText, baseURL string) (string, bool) {
	for i, re := range le.patterns {
		for _, m := range re.FindAllStringSubmatch(htmlText, -1) {
			if resolved, ok := le.resolve(m[1], baseURL); ok {
				le.log.WithFields(logrus.Fields{"rule": i + 1, "link": resolved}).Debug("Document link matched by pattern")
				return resolved, true
			}
		}
	}

	if resolved, ok := le.extractByType(htmlText, baseURL); ok {
		le.log.WithField("link", resolved).Debug("Document link matched by media type")
		return resolved, true
	}
	return "", false
}

// extractByType is the DOM rule: elements explicitly typed application/pdf
func (le *LinkExtractor) extractByType(htmlText, baseURL string) (string, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlText))
	if err != nil {
		le.log.Debugf("HTML parse failed, skipping media type rule: %v", err)
		return "", false
	}

	var found string
	doc.Find(documentTypeSelector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		for _, attr := range []string{"href", "src", "data"} {
			if raw, ok := s.Attr(attr); ok {
				if resolved, ok := le.resolve(raw, baseURL); ok {
					found = resolved
					return false
				}
			}
		}
		return true
	})
	return found, found != ""
}

// resolve unescapes HTML entities and resolves the reference against baseURL
func (le *LinkExtractor) resolve(raw, baseURL string) (string, bool) {
	ref := html.UnescapeString(strings.TrimSpace(raw))
	resolved, err := ResolveReference(baseURL, ref)
	if err != nil {
		le.log.Debugf("Skipping unusable link: %v", err)
		return "", false
	}
	return resolved, true
}
