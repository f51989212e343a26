package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/mcp-inspect/internal/agent"
	"github.com/giantswarm/mcp-inspect/internal/oauth"
)

// runCLI executes the root command with a private config and storage dir.
// Package-level flag variables survive between executions, so they are
// reset before every run.
func runCLI(t *testing.T, storage string, args ...string) (string, error) {
	t.Helper()

	authServer, loginNoBrowser, loginTimeout, clearAll = "", false, 0, false
	statusWatch = false
	connectServer, connectWait = "", 0
	verbose, noColor, jsonRPC, logFile, storageDir = false, false, false, "", ""

	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("callback:\n  host: 127.0.0.1\n"), 0o600))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"--config", cfgPath, "--storage-dir", storage, "--no-color"}, args...))
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	err := rootCmd.Execute()
	return out.String(), err
}

func TestSetVersion(t *testing.T) {
	SetVersion("1.2.3-test")
	t.Cleanup(func() { SetVersion("") })

	assert.Equal(t, "1.2.3-test", rootCmd.Version)
	assert.Equal(t, "mcp-inspect/1.2.3-test", oauth.UserAgent)
}

func TestRootCommand(t *testing.T) {
	assert.Equal(t, "mcp-inspect", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
	assert.True(t, rootCmd.SilenceUsage)

	for _, name := range []string{"auth", "connect", "serve", "web", "test-oauth-server", "version", "self-update"} {
		found, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, found.Name())
	}

	for _, flag := range []string{"config", "storage-dir", "verbose", "no-color", "json-rpc", "log-file"} {
		assert.NotNil(t, rootCmd.PersistentFlags().Lookup(flag), flag)
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"generic", errors.New("boom"), ExitCodeError},
		{"not authenticated", fmt.Errorf("status: %w", errNotAuthenticated), ExitCodeAuthRequired},
		{"unauthorized", fmt.Errorf("connect: %w", &agent.UnauthorizedError{Err: errors.New("401")}), ExitCodeAuthRequired},
		{"denied", &oauth.AuthorizationDeniedError{Code: "access_denied"}, ExitCodeAuthFailed},
		{"token request", fmt.Errorf("refresh failed: %w", &oauth.TokenRequestError{Code: "invalid_grant"}), ExitCodeAuthFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestVersionCommand(t *testing.T) {
	SetVersion("0.4.2")
	t.Cleanup(func() { SetVersion("") })

	out, err := runCLI(t, t.TempDir(), "version")
	require.NoError(t, err)
	assert.Equal(t, "mcp-inspect version 0.4.2\n", out)
}

func TestSetupRejectsMissingConfig(t *testing.T) {
	t.Cleanup(func() { cfgFile = "" })

	rootCmd.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml"), "version"})
	rootCmd.SetOut(&bytes.Buffer{})
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
	})
	err := rootCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config")
}

func TestLogFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "inspect.log")

	_, err := runCLI(t, t.TempDir(), "--log-file", logPath, "auth", "clear", "--all")
	require.NoError(t, err)
	assert.Nil(t, logWriter, "log writer is closed after the command")

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Cleared stored state for 0 server(s)")
}
