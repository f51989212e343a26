package oauth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

const stateRandomBytes = 32

var stateRandomPattern = regexp.MustCompile(`^[a-f0-9]{64}$`)

// ParsedState is a decoded state parameter.
type ParsedState struct {
	Mode   AuthType
	Random string
}

// GenerateOAuthStateWithMode returns "{mode}:{64 hex chars}". The prefix only
// routes the redirect; the random part is the CSRF token.
func GenerateOAuthStateWithMode(mode AuthType) (string, error) {
	if !mode.Valid() {
		return "", fmt.Errorf("unknown auth mode %q", mode)
	}
	b := make([]byte, stateRandomBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return string(mode) + ":" + hex.EncodeToString(b), nil
}

// GenerateOAuthState returns a state for the normal mode.
func GenerateOAuthState() (string, error) {
	return GenerateOAuthStateWithMode(AuthTypeNormal)
}

// ParseOAuthState decodes a state parameter. A bare 64-hex value is accepted
// as a legacy normal-mode state.
func ParseOAuthState(state string) (ParsedState, error) {
	mode, random, found := strings.Cut(state, ":")
	if !found {
		if stateRandomPattern.MatchString(state) {
			return ParsedState{Mode: AuthTypeNormal, Random: state}, nil
		}
		return ParsedState{}, ErrInvalidState
	}
	if !AuthType(mode).Valid() || !stateRandomPattern.MatchString(random) {
		return ParsedState{}, ErrInvalidState
	}
	return ParsedState{Mode: AuthType(mode), Random: random}, nil
}
