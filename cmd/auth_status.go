package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/giantswarm/mcp-inspect/internal/agent"
	"github.com/giantswarm/mcp-inspect/internal/storage"
)

// watchDebounce coalesces the burst of events an atomic rewrite produces.
const watchDebounce = 200 * time.Millisecond

var statusWatch bool

func newAuthStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show stored authentication status",
		Long: `Show the stored token status for one server (--server) or every server
with stored state. Token values are never printed.

With --watch the status is shown again whenever the state file changes,
e.g. while another terminal runs "auth login".`,
		RunE: runAuthStatus,
	}
	cmd.Flags().BoolVarP(&statusWatch, "watch", "w", false, "Re-render when the stored state changes")
	return cmd
}

func runAuthStatus(cmd *cobra.Command, args []string) error {
	store, err := openFileStore()
	if err != nil {
		return err
	}
	defer store.Close()

	out := cmd.OutOrStdout()
	if err := printStatus(out, store); err != nil {
		return err
	}
	if !statusWatch {
		return nil
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()
	return watchStatus(ctx, out, store)
}

func statusServers(store *storage.FileStore) ([]string, error) {
	if authServer != "" {
		return []string{cfg.Resolve(authServer).ServerURL}, nil
	}
	servers, err := store.Servers()
	if err != nil {
		return nil, err
	}
	sort.Strings(servers)
	return servers, nil
}

func printStatus(out io.Writer, store *storage.FileStore) error {
	servers, err := statusServers(store)
	if err != nil {
		return err
	}
	if len(servers) == 0 {
		fmt.Fprintf(out, "No stored OAuth state in %s\n", store.Path())
		return nil
	}
	for _, u := range servers {
		tokens, err := store.GetTokens(u)
		if err != nil {
			fmt.Fprintf(out, "%s %s: %v\n", text.FgRed.Sprint("Error"), u, err)
			continue
		}
		fmt.Fprint(out, agent.RenderTokens(u, tokens))
	}
	return nil
}

func watchStatus(ctx context.Context, out io.Writer, store *storage.FileStore) error {
	dir := filepath.Dir(store.Path())
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to start file watcher: %w", err)
	}
	defer watcher.Close()

	// The store replaces the file by rename, so watch the directory.
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	logger.Info("Watching %s (Ctrl+C to stop)", store.Path())

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(store.Path()) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			debounce = time.After(watchDebounce)
		case <-debounce:
			debounce = nil
			fmt.Fprintf(out, "\n%s\n", text.FgHiBlack.Sprintf("updated %s", time.Now().Format("15:04:05")))
			if err := printStatus(out, store); err != nil {
				logger.Error("Failed to read stored state: %v", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warning("File watcher error: %v", err)
		}
	}
}
