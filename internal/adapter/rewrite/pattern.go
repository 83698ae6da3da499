package rewrite

import (
	"fmt"
	"regexp"

	"github.com/cwygoda/imgingest/internal/config"
)

// PatternRewriter applies a configured regular expression replacement.
type PatternRewriter struct {
	name    string
	pattern *regexp.Regexp
	replace string
}

// NewPatternRewriter creates a rewriter from config. The replacement is the
// complete output URL and may reference capture groups as $1 or ${name}.
func NewPatternRewriter(rc config.RewriterConfig) (*PatternRewriter, error) {
	if rc.Name == "" {
		return nil, fmt.Errorf("rewriter name is required")
	}
	re, err := regexp.Compile(rc.Pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", rc.Pattern, err)
	}
	return &PatternRewriter{name: rc.Name, pattern: re, replace: rc.Replace}, nil
}

func (p *PatternRewriter) Name() string {
	return p.name
}

func (p *PatternRewriter) Rewrite(url string) (string, bool) {
	loc := p.pattern.FindStringSubmatchIndex(url)
	if loc == nil {
		return "", false
	}
	out := p.pattern.ExpandString(nil, p.replace, url, loc)
	return string(out), true
}

// FromConfig builds the default chain followed by the configured rewriters.
func FromConfig(rewriters []config.RewriterConfig) (*Chain, error) {
	chain := Default()
	for _, rc := range rewriters {
		r, err := NewPatternRewriter(rc)
		if err != nil {
			return nil, fmt.Errorf("rewriter %q: %w", rc.Name, err)
		}
		chain.Register(r)
	}
	return chain, nil
}
