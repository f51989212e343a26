package cmd

import (
	"errors"
	"fmt"

	"github.com/creativeprojects/go-selfupdate"
	"github.com/spf13/cobra"
)

const githubRepoSlug = "giantswarm/mcp-inspect"

var errDevelopmentBuild = errors.New("cannot self-update a development build")

func newSelfUpdateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "self-update",
		Short: "Update mcp-inspect to the latest release",
		Long: `Check the latest GitHub release of mcp-inspect and replace the running
binary when it is newer.`,
		RunE: runSelfUpdate,
	}
}

// checkUpdatable rejects builds without a release version.
func checkUpdatable(v string) error {
	if v == "" || v == "dev" {
		return errDevelopmentBuild
	}
	return nil
}

func runSelfUpdate(cmd *cobra.Command, args []string) error {
	current := rootCmd.Version
	if err := checkUpdatable(current); err != nil {
		return err
	}
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "Current version: %s\n", current)
	updater, err := selfupdate.NewUpdater(selfupdate.Config{})
	if err != nil {
		return fmt.Errorf("failed to create updater: %w", err)
	}

	latest, found, err := updater.DetectLatest(ctx, selfupdate.ParseSlug(githubRepoSlug))
	if err != nil {
		return fmt.Errorf("error detecting latest version: %w", err)
	}
	if !found {
		return fmt.Errorf("no release found for %s", githubRepoSlug)
	}
	if !latest.GreaterThan(current) {
		fmt.Fprintln(out, "Already up to date.")
		return nil
	}

	exe, err := selfupdate.ExecutablePath()
	if err != nil {
		return fmt.Errorf("could not locate executable path: %w", err)
	}
	fmt.Fprintf(out, "Updating %s to %s (published %s)...\n", exe, latest.Version(), latest.PublishedAt.Format("2006-01-02"))
	if err := updater.UpdateTo(ctx, latest, exe); err != nil {
		return fmt.Errorf("update failed: %w", err)
	}
	fmt.Fprintf(out, "Updated to %s\n", latest.Version())
	return nil
}
