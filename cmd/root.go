package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/giantswarm/mcp-inspect/internal/agent"
	"github.com/giantswarm/mcp-inspect/internal/config"
	"github.com/giantswarm/mcp-inspect/internal/logging"
	"github.com/giantswarm/mcp-inspect/internal/oauth"
	"github.com/giantswarm/mcp-inspect/internal/storage"
)

// Exit codes for CLI commands.
const (
	ExitCodeSuccess      = 0
	ExitCodeError        = 1
	ExitCodeAuthRequired = 2
	ExitCodeAuthFailed   = 3
)

var (
	version string

	cfgFile    string
	storageDir string
	verbose    bool
	noColor    bool
	jsonRPC    bool
	logFile    string

	// Set up by the persistent pre-run.
	cfg       config.Config
	logger    *logging.Logger
	logWriter *lumberjack.Logger
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mcp-inspect",
	Short: "Inspect the OAuth flow of MCP servers",
	Long: `mcp-inspect walks through the OAuth 2.1 authorization code flow (with PKCE)
that protected MCP servers require.

It discovers the authorization server, registers a client (statically
configured or via Dynamic Client Registration), builds the authorization
URL, receives the redirect on a loopback callback server and exchanges
the code for tokens.

The flow can run in one go ("auth login") or one step at a time
("auth guided"), where each step's inputs and results can be inspected.
The same flows are available to AI assistants as MCP tools ("serve") and
to a browser ("web").

Tokens are stored per server in ~/.config/mcp-inspect/oauth-state.json,
readable only by the current user.`,
	SilenceUsage:       true,
	PersistentPreRunE:  setup,
	PersistentPostRunE: teardown,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "mcp-inspect version %s\n" .Version}}`)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

// SetVersion sets the version for the application
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
	oauth.UserAgent = "mcp-inspect/" + v
}

// exitCode maps errors to semantic exit codes for scripting.
func exitCode(err error) int {
	var unauthorized *agent.UnauthorizedError
	if errors.As(err, &unauthorized) || errors.Is(err, errNotAuthenticated) {
		return ExitCodeAuthRequired
	}
	var denied *oauth.AuthorizationDeniedError
	var tokenErr *oauth.TokenRequestError
	if errors.As(err, &denied) || errors.As(err, &tokenErr) {
		return ExitCodeAuthFailed
	}
	return ExitCodeError
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Config file (default ~/.config/mcp-inspect/config.yaml)")
	pf.StringVar(&storageDir, "storage-dir", "", "Directory for stored OAuth state (overrides storage_dir in the config)")
	pf.BoolVar(&verbose, "verbose", false, "Enable verbose logging")
	pf.BoolVar(&noColor, "no-color", false, "Disable colored output")
	pf.BoolVar(&jsonRPC, "json-rpc", false, "Log full JSON-RPC messages")
	pf.StringVar(&logFile, "log-file", "", "Also write logs to this file, rotated at 10 MB")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newSelfUpdateCmd())
}

func setup(cmd *cobra.Command, args []string) error {
	if noColor {
		color.NoColor = true
		text.DisableColors()
	}

	var out io.Writer = os.Stdout
	if cmd.Annotations[annotationStdio] == "true" {
		// stdout carries the protocol.
		out = os.Stderr
	}
	if logFile != "" {
		logWriter = &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    10,
			MaxBackups: 3,
		}
		out = io.MultiWriter(out, logWriter)
	}
	logger = logging.NewLoggerWithWriter(verbose, !noColor && logFile == "", jsonRPC, out)

	wd, err := os.Getwd()
	if err == nil {
		if err := config.LoadDotEnv(wd); err != nil {
			logger.Warning("%v", err)
		}
	}

	cfg, err = config.Load(cfgFile)
	if err != nil {
		return err
	}
	if storageDir != "" {
		cfg.StorageDir = storageDir
	}
	return nil
}

func teardown(cmd *cobra.Command, args []string) error {
	if logWriter != nil {
		err := logWriter.Close()
		logWriter = nil
		return err
	}
	return nil
}

// annotationStdio marks commands that speak a protocol on stdout.
const annotationStdio = "stdio"

// openFileStore opens the on-disk OAuth state store.
func openFileStore() (*storage.FileStore, error) {
	store, err := storage.NewFileStore(cfg.StorageDir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open OAuth state store: %w", err)
	}
	return store, nil
}

// newSession builds the session for one --server value over the file store.
func newSession(server string) (*agent.Session, *storage.FileStore, error) {
	if server == "" {
		return nil, nil, errors.New("--server is required")
	}
	store, err := openFileStore()
	if err != nil {
		return nil, nil, err
	}
	sess, err := agent.NewSessionFactory(cfg, store, logger)(server)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	return sess, store, nil
}
