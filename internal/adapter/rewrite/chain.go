package rewrite

import "github.com/cwygoda/imgingest/internal/domain"

// Chain holds URL rewriters in registration order.
type Chain struct {
	rewriters []domain.URLRewriter
}

// NewChain creates a chain from the given rewriters.
func NewChain(rewriters ...domain.URLRewriter) *Chain {
	return &Chain{rewriters: rewriters}
}

// Default returns a chain with the built-in rewriters.
func Default() *Chain {
	return NewChain(NewGoogleDrive(), NewDropbox())
}

// Register appends a rewriter to the chain.
func (c *Chain) Register(r domain.URLRewriter) {
	c.rewriters = append(c.rewriters, r)
}

// Normalize applies the first rewriter that matches the URL. Unmatched
// URLs are returned unchanged.
func (c *Chain) Normalize(url string) string {
	if _, out, ok := c.Match(url); ok {
		return out
	}
	return url
}

// Match returns the first matching rewriter and its output.
func (c *Chain) Match(url string) (domain.URLRewriter, string, bool) {
	for _, r := range c.rewriters {
		if out, ok := r.Rewrite(url); ok {
			return r, out, true
		}
	}
	return nil, "", false
}

// Rewriters returns all registered rewriters.
func (c *Chain) Rewriters() []domain.URLRewriter {
	return c.rewriters
}
