package rewrite

import (
	"net/url"
	"strings"
)

// Dropbox turns shared-link previews into raw downloads by forcing dl=1.
type Dropbox struct{}

// NewDropbox creates a new Dropbox rewriter.
func NewDropbox() *Dropbox {
	return &Dropbox{}
}

func (Dropbox) Name() string {
	return "dropbox"
}

func (Dropbox) Rewrite(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	host := strings.ToLower(u.Hostname())
	if host != "www.dropbox.com" && host != "dropbox.com" {
		return "", false
	}
	if !strings.HasPrefix(u.Path, "/s/") && !strings.HasPrefix(u.Path, "/scl/") {
		return "", false
	}
	q := u.Query()
	if q.Get("dl") == "1" {
		return "", false
	}
	q.Set("dl", "1")
	u.RawQuery = q.Encode()
	return u.String(), true
}
