package oauth

import "time"

// URL scheme and host constants for validation.
const (
	schemeHTTPS  = "https"
	schemeHTTP   = "http"
	hostLocal    = "localhost"
	hostLoopback = "127.0.0.1"
	hostIPv6Loop = "::1"
)

const (
	// maxMetadataSize bounds every metadata and registration document.
	maxMetadataSize = 1024 * 1024

	// maxErrorBodySize is how much of an error response is kept.
	maxErrorBodySize = 64 * 1024

	// maxClientMetadataSize bounds client id metadata documents.
	maxClientMetadataSize = 100 * 1024

	// requestTimeout applies to every outgoing request made by this package.
	requestTimeout = 10 * time.Second

	responseTypeCode = "code"

	grantTypeAuthorizationCode = "authorization_code"
	grantTypeRefreshToken      = "refresh_token"

	authMethodNone  = "none"
	authMethodPost  = "client_secret_post"
	authMethodBasic = "client_secret_basic"
)

// UserAgent is sent on every outgoing request. It is a variable so the CLI
// can stamp the build version into it.
var UserAgent = "mcp-inspect/dev"
