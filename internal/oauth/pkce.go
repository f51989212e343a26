package oauth

import "golang.org/x/oauth2"

const pkceMethodS256 = "S256"

// PKCE is a verifier/challenge pair. The verifier never leaves this process
// except through Storage and the token request.
type PKCE struct {
	CodeVerifier        string
	CodeChallenge       string
	CodeChallengeMethod string
}

// GeneratePKCE creates a fresh S256 pair from 32 random bytes.
func GeneratePKCE() PKCE {
	verifier := oauth2.GenerateVerifier()
	return PKCE{
		CodeVerifier:        verifier,
		CodeChallenge:       oauth2.S256ChallengeFromVerifier(verifier),
		CodeChallengeMethod: pkceMethodS256,
	}
}
