// Package storage persists per-server OAuth state for the oauth package.
//
// FileStore keeps one JSON document under the user's config directory and is
// used by headless hosts. BrowserStore keeps one key per field in a
// KeyValueStore such as window.sessionStorage. Both validate client
// information, tokens and server metadata on every read and write.
package storage

import (
	"errors"
	"fmt"
	"strings"

	"github.com/giantswarm/mcp-inspect/internal/logging"
	"github.com/giantswarm/mcp-inspect/internal/oauth"
)

// ErrInvalidStoredState is returned when persisted data fails schema validation.
var ErrInvalidStoredState = errors.New("stored OAuth state is invalid")

// ServerOAuthState is everything persisted for one server URL.
type ServerOAuthState struct {
	ClientInformation              *oauth.ClientInformation           `json:"clientInformation,omitempty"`
	PreregisteredClientInformation *oauth.ClientInformation           `json:"preregisteredClientInformation,omitempty"`
	Tokens                         *oauth.Tokens                      `json:"tokens,omitempty"`
	CodeVerifier                   string                             `json:"codeVerifier,omitempty"`
	Scope                          string                             `json:"scope,omitempty"`
	Resource                       string                             `json:"resource,omitempty"`
	ServerMetadata                 *oauth.AuthorizationServerMetadata `json:"serverMetadata,omitempty"`
}

func (s *ServerOAuthState) empty() bool {
	return s.ClientInformation == nil &&
		s.PreregisteredClientInformation == nil &&
		s.Tokens == nil &&
		s.CodeVerifier == "" &&
		s.Scope == "" &&
		s.Resource == "" &&
		s.ServerMetadata == nil
}

// backend is the persistence primitive behind records. read returns nil for
// an unknown server.
type backend interface {
	read(serverURL string) (*ServerOAuthState, error)
	update(serverURL string, fn func(*ServerOAuthState)) error
	remove(serverURL string) error
}

// records implements oauth.Storage on top of a backend.
type records struct {
	backend backend
	logger  *logging.Logger
}

var _ oauth.Storage = records{}

func key(serverURL string) string {
	return strings.TrimSuffix(serverURL, "/")
}

func invalid(field string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrInvalidStoredState, field, err)
}

func (r records) GetClientInformation(serverURL string, preregistered bool) (*oauth.ClientInformation, error) {
	st, err := r.backend.read(key(serverURL))
	if err != nil || st == nil {
		return nil, err
	}
	info := st.ClientInformation
	if preregistered {
		info = st.PreregisteredClientInformation
	}
	if info == nil {
		return nil, nil
	}
	if err := info.Validate(); err != nil {
		return nil, invalid("client information", err)
	}
	return info, nil
}

func (r records) SaveClientInformation(serverURL string, info *oauth.ClientInformation, preregistered bool) error {
	if err := info.Validate(); err != nil {
		return err
	}
	return r.backend.update(key(serverURL), func(st *ServerOAuthState) {
		if preregistered {
			st.PreregisteredClientInformation = info
		} else {
			st.ClientInformation = info
		}
	})
}

func (r records) ClearClientInformation(serverURL string, preregistered bool) error {
	return r.backend.update(key(serverURL), func(st *ServerOAuthState) {
		if preregistered {
			st.PreregisteredClientInformation = nil
		} else {
			st.ClientInformation = nil
		}
	})
}

func (r records) GetTokens(serverURL string) (*oauth.Tokens, error) {
	st, err := r.backend.read(key(serverURL))
	if err != nil || st == nil || st.Tokens == nil {
		return nil, err
	}
	if err := st.Tokens.Validate(); err != nil {
		return nil, invalid("tokens", err)
	}
	return st.Tokens, nil
}

func (r records) SaveTokens(serverURL string, tokens *oauth.Tokens) error {
	if err := tokens.Validate(); err != nil {
		return err
	}
	if err := r.backend.update(key(serverURL), func(st *ServerOAuthState) { st.Tokens = tokens }); err != nil {
		return err
	}
	r.logger.Audit("tokens_persisted", "server", serverURL)
	return nil
}

func (r records) ClearTokens(serverURL string) error {
	if err := r.backend.update(key(serverURL), func(st *ServerOAuthState) { st.Tokens = nil }); err != nil {
		return err
	}
	r.logger.Audit("tokens_cleared", "server", serverURL)
	return nil
}

func (r records) GetCodeVerifier(serverURL string) (string, error) {
	st, err := r.backend.read(key(serverURL))
	if err != nil || st == nil {
		return "", err
	}
	return st.CodeVerifier, nil
}

func (r records) SaveCodeVerifier(serverURL, verifier string) error {
	return r.backend.update(key(serverURL), func(st *ServerOAuthState) { st.CodeVerifier = verifier })
}

func (r records) ClearCodeVerifier(serverURL string) error {
	return r.SaveCodeVerifier(serverURL, "")
}

func (r records) GetScope(serverURL string) (string, error) {
	st, err := r.backend.read(key(serverURL))
	if err != nil || st == nil {
		return "", err
	}
	return st.Scope, nil
}

func (r records) SaveScope(serverURL, scope string) error {
	return r.backend.update(key(serverURL), func(st *ServerOAuthState) { st.Scope = scope })
}

func (r records) ClearScope(serverURL string) error {
	return r.SaveScope(serverURL, "")
}

func (r records) GetResource(serverURL string) (string, error) {
	st, err := r.backend.read(key(serverURL))
	if err != nil || st == nil {
		return "", err
	}
	return st.Resource, nil
}

func (r records) SaveResource(serverURL, resource string) error {
	return r.backend.update(key(serverURL), func(st *ServerOAuthState) { st.Resource = resource })
}

func (r records) ClearResource(serverURL string) error {
	return r.SaveResource(serverURL, "")
}

func (r records) GetServerMetadata(serverURL string) (*oauth.AuthorizationServerMetadata, error) {
	st, err := r.backend.read(key(serverURL))
	if err != nil || st == nil || st.ServerMetadata == nil {
		return nil, err
	}
	if err := st.ServerMetadata.Validate(); err != nil {
		return nil, invalid("server metadata", err)
	}
	return st.ServerMetadata, nil
}

func (r records) SaveServerMetadata(serverURL string, meta *oauth.AuthorizationServerMetadata) error {
	if err := meta.Validate(); err != nil {
		return err
	}
	return r.backend.update(key(serverURL), func(st *ServerOAuthState) { st.ServerMetadata = meta })
}

func (r records) ClearServerMetadata(serverURL string) error {
	return r.backend.update(key(serverURL), func(st *ServerOAuthState) { st.ServerMetadata = nil })
}

func (r records) Clear(serverURL string) error {
	if err := r.backend.remove(key(serverURL)); err != nil {
		return err
	}
	r.logger.Audit("server_state_cleared", "server", serverURL)
	return nil
}
