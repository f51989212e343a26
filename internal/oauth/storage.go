package oauth

// Storage persists per-server OAuth state. Missing records are reported as nil
// or "" with a nil error; only real I/O or schema failures are errors.
//
// Implementations do not lock across fields or flows: two concurrent flows
// for the same server interleave their writes, last write wins per field.
type Storage interface {
	GetClientInformation(serverURL string, preregistered bool) (*ClientInformation, error)
	SaveClientInformation(serverURL string, info *ClientInformation, preregistered bool) error
	ClearClientInformation(serverURL string, preregistered bool) error

	GetTokens(serverURL string) (*Tokens, error)
	SaveTokens(serverURL string, tokens *Tokens) error
	ClearTokens(serverURL string) error

	GetCodeVerifier(serverURL string) (string, error)
	SaveCodeVerifier(serverURL, verifier string) error
	ClearCodeVerifier(serverURL string) error

	GetScope(serverURL string) (string, error)
	SaveScope(serverURL, scope string) error
	ClearScope(serverURL string) error

	// Resource is the RFC 8707 resource the pending authorization request was
	// built with, so a resumed flow sends the same value to the token endpoint.
	GetResource(serverURL string) (string, error)
	SaveResource(serverURL, resource string) error
	ClearResource(serverURL string) error

	GetServerMetadata(serverURL string) (*AuthorizationServerMetadata, error)
	SaveServerMetadata(serverURL string, meta *AuthorizationServerMetadata) error
	ClearServerMetadata(serverURL string) error

	// Clear removes every field stored for serverURL.
	Clear(serverURL string) error
}
