package portal

import (
	"context"
	"strings"
)

type Cookie struct {
	Name  string
	Value string
}

// Driver launches isolated, stateful browser sessions.
//
// note: fault injection point
type Driver interface {
	// Launch starts a session bound to ctx, every operation on the returned Browser
	// fails once ctx is done. Close must still be called.
	Launch(ctx context.Context) (Browser, error)
}

// Browser is a single tab of a launched session. Selectors are CSS selector lists.
type Browser interface {
	Navigate(url string) error
	// Has reports whether an element matching selector exists right now, without waiting.
	Has(selector string) (bool, error)
	Fill(selector, value string) error
	// Select picks the option of a <select> whose value is exactly value.
	Select(selector, value string) error
	Click(selector string) error
	URL() (string, error)
	Content() (string, error)
	Cookies() ([]Cookie, error)
	// Close releases the session, calling it more than once is a no-op.
	Close() error
}

// CookieHeader renders cookies the way a browser sends them, "a=1; b=2".
func CookieHeader(cookies []Cookie) string {
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		if c.Name == "" {
			continue
		}
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}
