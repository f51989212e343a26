// Package config loads the optional mcp-inspect configuration file and
// resolves the settings for one authorization attempt.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/giantswarm/mcp-inspect/internal/oauth"
)

const (
	configDirName  = "mcp-inspect"
	configFileName = "config.yaml"

	// EnvClientSecret supplies a client secret absent from the file.
	EnvClientSecret = "MCP_INSPECT_CLIENT_SECRET"
	// EnvRegistrationToken supplies an initial access token absent from the file.
	EnvRegistrationToken = "MCP_INSPECT_REGISTRATION_TOKEN"

	DefaultCallbackHost    = "127.0.0.1"
	DefaultCallbackTimeout = 5 * time.Minute
)

// Config is the on-disk configuration.
type Config struct {
	StorageDir string                  `yaml:"storage_dir,omitempty"`
	ClientName string                  `yaml:"client_name,omitempty"`
	Callback   CallbackConfig          `yaml:"callback"`
	Servers    map[string]ServerConfig `yaml:"servers,omitempty"`
}

// CallbackConfig controls the loopback callback server.
type CallbackConfig struct {
	Host    string        `yaml:"host"`
	Port    int           `yaml:"port"`
	Timeout time.Duration `yaml:"timeout"`
}

// Addr returns host:port for the listener.
func (c CallbackConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ServerConfig is a named server entry.
type ServerConfig struct {
	URL                 string `yaml:"url"`
	ClientID            string `yaml:"client_id,omitempty"`
	ClientSecret        string `yaml:"client_secret,omitempty"`
	PublicClient        bool   `yaml:"public_client,omitempty"`
	Scope               string `yaml:"scope,omitempty"`
	RegistrationToken   string `yaml:"registration_token,omitempty"`
	ClientIDMetadataURL string `yaml:"client_id_metadata_url,omitempty"`
	Resource            string `yaml:"resource,omitempty"`

	// DeriveResource sends a resource parameter derived from URL when the
	// server publishes no resource metadata.
	DeriveResource bool `yaml:"derive_resource,omitempty"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		ClientName: oauth.DefaultClientName,
		Callback: CallbackConfig{
			Host:    DefaultCallbackHost,
			Timeout: DefaultCallbackTimeout,
		},
	}
}

// DefaultPath returns ~/.config/mcp-inspect/config.yaml.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		home, herr := os.UserHomeDir()
		if herr != nil {
			return "", fmt.Errorf("could not determine user config directory: %w", err)
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, configDirName, configFileName), nil
}

// Load reads the file at path over the defaults. An empty path means
// DefaultPath, which may be missing; an explicit path must exist.
func Load(path string) (Config, error) {
	explicit := path != ""
	if !explicit {
		p, err := DefaultPath()
		if err != nil {
			return Default(), nil
		}
		path = p
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("error loading config from %s: %w", path, err)
	}
	if cfg.Callback.Host == "" {
		cfg.Callback.Host = DefaultCallbackHost
	}
	if cfg.Callback.Timeout == 0 {
		cfg.Callback.Timeout = DefaultCallbackTimeout
	}
	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Callback.Port < 0 || c.Callback.Port > 65535 {
		return fmt.Errorf("callback.port out of range: %d", c.Callback.Port)
	}
	if c.Callback.Timeout < 0 {
		return fmt.Errorf("callback.timeout must be positive")
	}
	for name, s := range c.Servers {
		if s.URL == "" {
			return fmt.Errorf("servers.%s: url is required", name)
		}
	}
	return nil
}

// LoadDotEnv loads dir/.env into the process environment. A missing file is
// not an error; variables already set are kept.
func LoadDotEnv(dir string) error {
	err := godotenv.Load(filepath.Join(dir, ".env"))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

// Resolve builds the settings for server, which is either the name of a
// servers entry or a URL. URL matches against entries ignore a trailing "/".
func (c Config) Resolve(server string) OAuthConfig {
	entry, ok := c.Servers[server]
	if !ok {
		for _, s := range c.Servers {
			if strings.TrimSuffix(s.URL, "/") == strings.TrimSuffix(server, "/") {
				entry, ok = s, true
				break
			}
		}
	}
	if !ok {
		entry = ServerConfig{URL: server}
	}

	oc := OAuthConfig{
		ServerURL:           entry.URL,
		ClientID:            entry.ClientID,
		ClientSecret:        entry.ClientSecret,
		ClientName:          c.ClientName,
		PublicClient:        entry.PublicClient,
		Scope:               entry.Scope,
		RegistrationToken:   entry.RegistrationToken,
		ClientIDMetadataURL: entry.ClientIDMetadataURL,
		Resource:            entry.Resource,
		DeriveResource:      entry.DeriveResource,
		Timeout:             c.Callback.Timeout,
	}
	oc.applyEnv(os.LookupEnv)
	return oc
}

// OAuthConfig is the resolved configuration for one server.
type OAuthConfig struct {
	ServerURL   string
	RedirectURL string

	ClientID            string
	ClientSecret        string
	ClientName          string
	PublicClient        bool
	Scope               string
	RegistrationToken   string
	ClientIDMetadataURL string
	Resource            string
	DeriveResource      bool

	Timeout time.Duration
}

func (c *OAuthConfig) applyEnv(lookup func(string) (string, bool)) {
	get := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}
	if c.ClientSecret == "" && c.ClientID != "" {
		c.ClientSecret = get(EnvClientSecret)
	}
	if c.RegistrationToken == "" {
		c.RegistrationToken = get(EnvRegistrationToken)
	}
}

// Validate checks the settings. RedirectURL may still be empty when the
// callback server has not been started yet.
func (c *OAuthConfig) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("server URL is required")
	}
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("server URL must be an absolute http(s) URL, got %q", c.ServerURL)
	}

	if c.RedirectURL != "" {
		if err := validateRedirectURL(c.RedirectURL); err != nil {
			return err
		}
	}

	if c.ClientSecret != "" && c.ClientID == "" {
		return fmt.Errorf("client secret given without a client ID")
	}
	if c.PublicClient && c.ClientSecret != "" {
		return fmt.Errorf("a public client cannot have a client secret")
	}
	if c.ClientIDMetadataURL != "" {
		if err := oauth.ValidateClientIDURL(c.ClientIDMetadataURL); err != nil {
			return err
		}
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("authorization timeout must be positive")
	}
	return nil
}

func validateRedirectURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid OAuth redirect URL: %w", err)
	}

	// HTTP is only acceptable on loopback hosts.
	switch parsed.Scheme {
	case "http":
		hostname := parsed.Hostname()
		if hostname != "localhost" && hostname != "127.0.0.1" && hostname != "::1" {
			return fmt.Errorf("HTTP redirect URIs are only allowed for localhost/127.0.0.1/[::1], use HTTPS for other hosts")
		}
	case "https":
	default:
		return fmt.Errorf("redirect URI scheme must be http (localhost only) or https, got: %s", parsed.Scheme)
	}
	return nil
}

// StateMachine converts the settings into the state machine's configuration.
func (c OAuthConfig) StateMachine() oauth.Config {
	return oauth.Config{
		ServerURL:           c.ServerURL,
		RedirectURL:         c.RedirectURL,
		ClientID:            c.ClientID,
		ClientSecret:        c.ClientSecret,
		ClientName:          c.ClientName,
		PublicClient:        c.PublicClient,
		Scope:               c.Scope,
		RegistrationToken:   c.RegistrationToken,
		ClientIDMetadataURL: c.ClientIDMetadataURL,
		ResourceURI:         c.Resource,
		DeriveResource:      c.DeriveResource,
	}
}
