package oauth

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func testASMetadata() *AuthorizationServerMetadata {
	return &AuthorizationServerMetadata{
		Issuer:                "https://auth.example.com",
		AuthorizationEndpoint: "https://auth.example.com/authorize?tenant=a",
		TokenEndpoint:         "https://auth.example.com/token",
		CodeChallengeMethods:  []string{"S256"},
	}
}

func TestCreateAuthorizationURL(t *testing.T) {
	start, err := CreateAuthorizationURL(AuthorizationRequest{
		Metadata:    testASMetadata(),
		ClientID:    "cid",
		RedirectURI: "http://127.0.0.1:1/oauth/callback/guided",
		Scope:       "read write",
		Resource:    "https://mcp.example.com/mcp",
		Mode:        AuthTypeGuided,
	})
	require.NoError(t, err)

	u, err := url.Parse(start.AuthorizationURL)
	require.NoError(t, err)
	q := u.Query()

	assert.Equal(t, "auth.example.com", u.Host)
	assert.Equal(t, "/authorize", u.Path)
	assert.Equal(t, "a", q.Get("tenant"), "existing query parameters are kept")
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "cid", q.Get("client_id"))
	assert.Equal(t, "http://127.0.0.1:1/oauth/callback/guided", q.Get("redirect_uri"))
	assert.Equal(t, "read write", q.Get("scope"))
	assert.Equal(t, "https://mcp.example.com/mcp", q.Get("resource"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.Equal(t, start.CodeChallenge, q.Get("code_challenge"))
	assert.Equal(t, oauth2.S256ChallengeFromVerifier(start.CodeVerifier), start.CodeChallenge)
	assert.Empty(t, q.Get("code_verifier"), "the verifier never appears in the URL")

	assert.Equal(t, start.State, q.Get("state"))
	parsed, err := ParseOAuthState(start.State)
	require.NoError(t, err)
	assert.Equal(t, AuthTypeGuided, parsed.Mode)
}

func TestCreateAuthorizationURL_OmitsEmptyOptionals(t *testing.T) {
	start, err := CreateAuthorizationURL(AuthorizationRequest{
		Metadata:    testASMetadata(),
		ClientID:    "cid",
		RedirectURI: "http://127.0.0.1:1/oauth/callback",
	})
	require.NoError(t, err)

	u, _ := url.Parse(start.AuthorizationURL)
	_, hasScope := u.Query()["scope"]
	_, hasResource := u.Query()["resource"]
	assert.False(t, hasScope)
	assert.False(t, hasResource)

	parsed, err := ParseOAuthState(start.State)
	require.NoError(t, err)
	assert.Equal(t, AuthTypeNormal, parsed.Mode)
}

func TestCreateAuthorizationURL_Errors(t *testing.T) {
	tests := []struct {
		name string
		req  AuthorizationRequest
	}{
		{name: "no metadata", req: AuthorizationRequest{ClientID: "c", RedirectURI: "http://127.0.0.1/cb"}},
		{name: "no client", req: AuthorizationRequest{Metadata: testASMetadata(), RedirectURI: "http://127.0.0.1/cb"}},
		{name: "no redirect", req: AuthorizationRequest{Metadata: testASMetadata(), ClientID: "c"}},
		{
			name: "plain only",
			req: AuthorizationRequest{
				Metadata: &AuthorizationServerMetadata{
					AuthorizationEndpoint: "https://auth.example.com/authorize",
					CodeChallengeMethods:  []string{"plain"},
				},
				ClientID:    "c",
				RedirectURI: "http://127.0.0.1/cb",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CreateAuthorizationURL(tt.req)
			assert.Error(t, err)
		})
	}
}

func TestCheckPKCESupport(t *testing.T) {
	assert.NoError(t, CheckPKCESupport(&AuthorizationServerMetadata{CodeChallengeMethods: []string{"plain", "S256"}}))
	assert.ErrorIs(t, CheckPKCESupport(&AuthorizationServerMetadata{}), ErrPKCENotAdvertised)
	assert.ErrorIs(t, CheckPKCESupport(nil), ErrPKCENotAdvertised)

	err := CheckPKCESupport(&AuthorizationServerMetadata{CodeChallengeMethods: []string{"plain"}})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrPKCENotAdvertised)
}

func TestCreateAuthorizationURL_NoAdvertisedPKCEStillUsesS256(t *testing.T) {
	meta := testASMetadata()
	meta.CodeChallengeMethods = nil

	start, err := CreateAuthorizationURL(AuthorizationRequest{
		Metadata:    meta,
		ClientID:    "cid",
		RedirectURI: "http://127.0.0.1:1/oauth/callback",
	})
	require.NoError(t, err)
	u, _ := url.Parse(start.AuthorizationURL)
	assert.Equal(t, "S256", u.Query().Get("code_challenge_method"))
}
