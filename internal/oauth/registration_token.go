package oauth

import (
	"net/http"
	"net/url"
)

// registrationTokenRoundTripper attaches an RFC 7591 initial access token to
// requests sent to the registration endpoint.
type registrationTokenRoundTripper struct {
	transport         http.RoundTripper
	endpoint          *url.URL
	registrationToken string
}

func newRegistrationTokenRoundTripper(registrationEndpoint, registrationToken string, base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	endpoint, err := url.Parse(registrationEndpoint)
	if err != nil {
		endpoint = nil
	}
	return &registrationTokenRoundTripper{
		transport:         base,
		endpoint:          endpoint,
		registrationToken: registrationToken,
	}
}

// RoundTrip sends the token only to the registration endpoint, and only over
// https or to a loopback host.
func (rt *registrationTokenRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if rt.registrationToken == "" || req.Method != http.MethodPost || !rt.matches(req) {
		return rt.transport.RoundTrip(req)
	}
	if req.URL.Scheme != schemeHTTPS && !isLoopback(req.URL.Host) {
		return rt.transport.RoundTrip(req)
	}

	cloned := req.Clone(req.Context())
	cloned.Header.Set("Authorization", "Bearer "+rt.registrationToken)
	return rt.transport.RoundTrip(cloned)
}

func (rt *registrationTokenRoundTripper) matches(req *http.Request) bool {
	return rt.endpoint != nil &&
		req.URL.Scheme == rt.endpoint.Scheme &&
		req.URL.Host == rt.endpoint.Host &&
		req.URL.Path == rt.endpoint.Path
}
