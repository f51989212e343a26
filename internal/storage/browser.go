package storage

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/giantswarm/mcp-inspect/internal/logging"
)

// KeyValueStore is the subset of the Web Storage API the browser back-end
// needs. GetItem reports false for a missing key.
type KeyValueStore interface {
	GetItem(key string) (string, bool, error)
	SetItem(key, value string) error
	RemoveItem(key string) error
}

// Browser storage key suffixes, one per ServerOAuthState field.
const (
	keyClientInformation              = "mcp_client_information"
	keyPreregisteredClientInformation = "mcp_preregistered_client_information"
	keyTokens                         = "mcp_tokens"
	keyCodeVerifier                   = "mcp_code_verifier"
	keyScope                          = "mcp_scope"
	keyResource                       = "mcp_resource"
	keyServerMetadata                 = "mcp_server_metadata"
)

var browserKeys = []string{
	keyClientInformation,
	keyPreregisteredClientInformation,
	keyTokens,
	keyCodeVerifier,
	keyScope,
	keyResource,
	keyServerMetadata,
}

// serverKey scopes a field key to a server: "[https://x] mcp_tokens".
func serverKey(serverURL, field string) string {
	return "[" + serverURL + "] " + field
}

// BrowserStore keeps each field under its own key in a KeyValueStore.
type BrowserStore struct {
	records

	mu sync.Mutex
	kv KeyValueStore
}

// NewBrowserStore wraps kv.
func NewBrowserStore(kv KeyValueStore, logger *logging.Logger) *BrowserStore {
	s := &BrowserStore{kv: kv}
	s.records = records{backend: s, logger: logger}
	return s
}

func (s *BrowserStore) read(serverURL string) (*ServerOAuthState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked(serverURL)
}

func (s *BrowserStore) readLocked(serverURL string) (*ServerOAuthState, error) {
	st := &ServerOAuthState{}
	found := false

	for _, field := range browserKeys {
		raw, ok, err := s.kv.GetItem(serverKey(serverURL, field))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", field, err)
		}
		if !ok || raw == "" {
			continue
		}
		found = true

		var target interface{}
		switch field {
		case keyCodeVerifier:
			st.CodeVerifier = raw
			continue
		case keyScope:
			st.Scope = raw
			continue
		case keyResource:
			st.Resource = raw
			continue
		case keyClientInformation:
			target = &st.ClientInformation
		case keyPreregisteredClientInformation:
			target = &st.PreregisteredClientInformation
		case keyTokens:
			target = &st.Tokens
		case keyServerMetadata:
			target = &st.ServerMetadata
		}
		if err := json.Unmarshal([]byte(raw), target); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidStoredState, field, err)
		}
	}

	if !found {
		return nil, nil
	}
	return st, nil
}

func (s *BrowserStore) update(serverURL string, fn func(*ServerOAuthState)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.readLocked(serverURL)
	if err != nil {
		return err
	}
	if st == nil {
		st = &ServerOAuthState{}
	}
	fn(st)

	// Writes run in order and stop at the first failure.
	writes := []func() error{
		func() error { return setJSON(s.kv, serverKey(serverURL, keyClientInformation), st.ClientInformation) },
		func() error {
			return setJSON(s.kv, serverKey(serverURL, keyPreregisteredClientInformation), st.PreregisteredClientInformation)
		},
		func() error { return setJSON(s.kv, serverKey(serverURL, keyTokens), st.Tokens) },
		func() error { return setJSON(s.kv, serverKey(serverURL, keyServerMetadata), st.ServerMetadata) },
		func() error { return s.writeString(serverKey(serverURL, keyCodeVerifier), st.CodeVerifier) },
		func() error { return s.writeString(serverKey(serverURL, keyScope), st.Scope) },
		func() error { return s.writeString(serverKey(serverURL, keyResource), st.Resource) },
	}
	for _, write := range writes {
		if err := write(); err != nil {
			return err
		}
	}
	return nil
}

func setJSON[T any](kv KeyValueStore, k string, v *T) error {
	if v == nil {
		return kv.RemoveItem(k)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", k, err)
	}
	return kv.SetItem(k, string(data))
}

func (s *BrowserStore) writeString(k, v string) error {
	if v == "" {
		return s.kv.RemoveItem(k)
	}
	return s.kv.SetItem(k, v)
}

func (s *BrowserStore) remove(serverURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, field := range browserKeys {
		if err := s.kv.RemoveItem(serverKey(serverURL, field)); err != nil {
			return fmt.Errorf("failed to remove %s: %w", field, err)
		}
	}
	return nil
}

// MemoryKeyValueStore is an in-process KeyValueStore.
type MemoryKeyValueStore struct {
	mu    sync.RWMutex
	items map[string]string
}

// NewMemoryKeyValueStore creates an empty store.
func NewMemoryKeyValueStore() *MemoryKeyValueStore {
	return &MemoryKeyValueStore{items: map[string]string{}}
}

func (m *MemoryKeyValueStore) GetItem(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.items[key]
	return v, ok, nil
}

func (m *MemoryKeyValueStore) SetItem(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = value
	return nil
}

func (m *MemoryKeyValueStore) RemoveItem(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

// Len returns the number of stored keys.
func (m *MemoryKeyValueStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}
