package models

// OutcomeStatus tags an acquisition outcome
type OutcomeStatus string

const (
	OutcomeUnset  OutcomeStatus = ""       // Zero value = unset/unknown
	OutcomeReady  OutcomeStatus = "ready"  // A validated local document is available
	OutcomeFailed OutcomeStatus = "failed" // No document could be produced
)

// String implements fmt.Stringer for logging
func (s OutcomeStatus) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// Strategy names the acquisition step that produced a document
type Strategy string

const (
	StrategyUnset           Strategy = ""
	StrategyCache           Strategy = "cache"            // Served from the local cache
	StrategyDirect          Strategy = "direct"           // Direct document link
	StrategyLandingPage     Strategy = "landing_page"     // Link extracted from the landing page HTML
	StrategyProviderGuess   Strategy = "provider_guess"   // Conventional provider URL
	StrategyAlternateFormat Strategy = "alternate_format" // Converted from an EPUB
	StrategyPageRender      Strategy = "page_render"      // Rasterized landing page
	StrategyBundledFallback Strategy = "bundled_fallback" // Placeholder shipped with the application
)

// String implements fmt.Stringer for logging
func (s Strategy) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsValid returns true if the strategy is a known value
func (s Strategy) IsValid() bool {
	switch s {
	case StrategyCache, StrategyDirect, StrategyLandingPage, StrategyProviderGuess,
		StrategyAlternateFormat, StrategyPageRender, StrategyBundledFallback:
		return true
	}
	return false
}

// IsDegraded reports whether the strategy yields a lossy or placeholder document
func (s Strategy) IsDegraded() bool {
	return s == StrategyPageRender || s == StrategyBundledFallback
}
