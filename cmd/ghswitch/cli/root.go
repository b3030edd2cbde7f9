// Package cli implements the ghswitch command-line interface using Cobra.
// It provides commands for adding, listing, switching and removing GitHub
// identities, plus environment diagnostics.
package cli

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/easygit/ghswitch/internal/config"
	"github.com/easygit/ghswitch/internal/gitcred"
	"github.com/easygit/ghswitch/internal/log"
	"github.com/easygit/ghswitch/internal/profile"
	"github.com/easygit/ghswitch/internal/secrets"
)

var (
	verbose bool
	jsonOut bool
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "ghswitch",
	Short: "Switch between GitHub identities for local git",
	Long: `ghswitch holds several GitHub identities (token, name, email, tag)
and switches which one git uses for github.com.

Profiles live in the OS secret store. Activating one writes its identity
into git's global config and hands its token to the credential helper, so
every git operation after the switch runs as that account.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}

		if err := log.Init(log.Options{
			Verbose:       verbose,
			JSONFormat:    jsonOut,
			DebugDir:      filepath.Join(config.Dir(), "debug"),
			RetentionDays: cfg.Debug.RetentionDays,
		}); err != nil {
			// Log init failure is non-fatal; fall back to the default logger.
			cmd.PrintErrf("Warning: failed to initialize debug logging: %v\n", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		log.Close()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output in JSON format")
}

// openStore builds the profile store over the configured secret backend and
// the local git installation, then runs the startup cycle: load the stored
// collection, merge in git's current credential, and align the active flag
// with git's global identity.
func openStore(ctx context.Context) (*profile.Store, error) {
	git := gitcred.New()
	if err := git.Check(); err != nil {
		return nil, err
	}

	sec, err := secrets.Open(cfg)
	if err != nil {
		return nil, err
	}

	store := profile.New(sec, git, cfg.Git.CredentialHelper)
	if err := store.Load(); err != nil {
		return nil, err
	}
	if err := store.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("reconciling with git: %w", err)
	}
	return store, nil
}
