// Package browser opens authorization URLs in the user's default browser.
package browser

import (
	"fmt"
	"net/url"

	"github.com/skratchdot/open-golang/open"
)

// opener is replaced in tests.
var opener = open.Start

// Open validates rawURL and hands it to the platform's URL handler without
// waiting for the browser to exit. Only http and https URLs are opened.
func Open(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("invalid URL scheme for browser: %q (only http/https allowed)", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("invalid URL: missing host")
	}
	if err := opener(parsed.String()); err != nil {
		return fmt.Errorf("failed to open browser: %w", err)
	}
	return nil
}
