package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/giantswarm/mcp-inspect/internal/logging"
)

const (
	// StateFileName is the document kept inside the storage directory.
	StateFileName = "state.json"

	documentVersion = 1

	dirPerm  fs.FileMode = 0o700
	filePerm fs.FileMode = 0o600
)

// DefaultDir returns ~/.config/mcp-inspect/oauth.
func DefaultDir() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		home, herr := os.UserHomeDir()
		if herr != nil {
			return "", fmt.Errorf("failed to determine config directory: %w", err)
		}
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "mcp-inspect", "oauth"), nil
}

type document struct {
	Version int                          `json:"version"`
	Servers map[string]*ServerOAuthState `json:"servers"`
}

// FileStore persists all servers in one JSON document readable only by the
// owner. Every operation reads the file, so other processes' writes are
// visible; writes replace the file atomically.
type FileStore struct {
	records

	mu     sync.Mutex
	path   string
	closed bool
}

// NewFileStore returns a store rooted at dir, or DefaultDir when dir is empty.
// Nothing is created on disk until the first write.
func NewFileStore(dir string, logger *logging.Logger) (*FileStore, error) {
	if dir == "" {
		var err error
		if dir, err = DefaultDir(); err != nil {
			return nil, err
		}
	}
	s := &FileStore{path: filepath.Join(dir, StateFileName)}
	s.records = records{backend: s, logger: logger}
	return s, nil
}

// Path returns the location of the state document.
func (s *FileStore) Path() string { return s.path }

// Close marks the store closed. Writes are synchronous, so there is nothing
// to flush. Close is idempotent.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Servers lists the server URLs that have stored state.
func (s *FileStore) Servers() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	urls := make([]string, 0, len(doc.Servers))
	for u := range doc.Servers {
		urls = append(urls, u)
	}
	return urls, nil
}

func (s *FileStore) read(serverURL string) (*ServerOAuthState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	return doc.Servers[serverURL], nil
}

func (s *FileStore) update(serverURL string, fn func(*ServerOAuthState)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("storage %s is closed", s.path)
	}

	doc, err := s.load()
	if err != nil {
		return err
	}
	st := doc.Servers[serverURL]
	if st == nil {
		st = &ServerOAuthState{}
	}
	fn(st)
	if st.empty() {
		delete(doc.Servers, serverURL)
	} else {
		doc.Servers[serverURL] = st
	}
	return s.save(doc)
}

func (s *FileStore) remove(serverURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("storage %s is closed", s.path)
	}

	doc, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := doc.Servers[serverURL]; !ok {
		return nil
	}
	delete(doc.Servers, serverURL)
	return s.save(doc)
}

// load reads the document. A missing file is an empty document.
func (s *FileStore) load() (*document, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return &document{Version: documentVersion, Servers: map[string]*ServerOAuthState{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.path, err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidStoredState, s.path, err)
	}
	if doc.Version > documentVersion {
		return nil, fmt.Errorf("%w: %s has unsupported version %d", ErrInvalidStoredState, s.path, doc.Version)
	}
	if doc.Servers == nil {
		doc.Servers = map[string]*ServerOAuthState{}
	}
	return &doc, nil
}

func (s *FileStore) save(doc *document) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}

	doc.Version = documentVersion
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode OAuth state: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temporary state file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(filePerm); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to restrict state file permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close state file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}
