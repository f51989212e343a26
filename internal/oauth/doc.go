// Package oauth implements the OAuth 2.1 authorization code flow with PKCE
// used to authenticate against remote MCP servers.
//
// The StateMachine is the entry point for every surface. It runs six steps:
//
//	metadata_discovery -> client_registration -> authorization_redirect ->
//	authorization_code -> token_request -> complete
//
// In quick mode Authenticate runs the first three steps and returns the
// authorization URL; CompleteOAuthFlow redeems the code. In guided mode each
// ProceedToNextStep call executes one step and every intermediate artifact is
// kept in AuthGuidedState for inspection.
//
// Discovery follows RFC 9728 (protected resource metadata) and RFC 8414 with
// the OpenID Connect discovery fallback. Registration passes static
// credentials through, uses a client ID metadata document URL, or performs
// RFC 7591 dynamic registration. The state parameter is "{mode}:{64 hex}";
// the mode prefix routes redirects, it is not a security boundary.
//
// ValidateIDToken does not verify signatures. Its result always carries a
// warning saying so.
package oauth
