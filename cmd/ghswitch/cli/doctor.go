package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/easygit/ghswitch/internal/doctor"
	"github.com/easygit/ghswitch/internal/gitcred"
	"github.com/easygit/ghswitch/internal/profile"
	"github.com/easygit/ghswitch/internal/secrets"
	"github.com/easygit/ghswitch/internal/ui"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Diagnostic information about the ghswitch environment",
	Long: `Displays diagnostic information for debugging ghswitch.

This command shows:
- ghswitch version and platform
- Git installation and credential helper
- OAuth client configuration (scrubbed)
- Secret store health
- Stored profiles (tokens redacted)
- Remotes of the enclosing repository

All sensitive information (tokens, client ids) is automatically redacted.`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	fmt.Println(ui.Bold("ghswitch doctor"))
	fmt.Println()

	reg := doctor.NewRegistry()
	reg.Register(&doctor.VersionSection{Version: version})
	reg.Register(&doctor.GitSection{})
	reg.Register(&doctor.AuthSection{Cfg: cfg.Auth})

	if sec, err := secrets.Open(cfg); err == nil {
		reg.Register(&doctor.StoreSection{Store: sec})
		store := profile.New(sec, gitcred.New(), cfg.Git.CredentialHelper)
		if store.Load() == nil {
			reg.Register(&doctor.ProfilesSection{Store: store})
		}
	} else {
		ui.Errorf("secret store unavailable: %v", err)
	}

	reg.Register(&doctor.RepoSection{})

	for _, section := range reg.Sections() {
		ui.Section(section.Name())
		if err := section.Print(os.Stdout); err != nil {
			fmt.Printf("%s Error: %v\n", ui.FailTag(), err)
		}
		fmt.Println()
	}
	return nil
}
