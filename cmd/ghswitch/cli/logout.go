package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/easygit/ghswitch/internal/ui"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Deactivate all profiles",
	Long: `Clears git's global identity and github.com credentials without
deleting any stored profiles. 'ghswitch use' brings an identity back.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		if err := store.DeactivateAll(cmd.Context()); err != nil {
			return err
		}
		fmt.Printf("%s Logged out. Git has no github.com identity now.\n", ui.OKTag())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(logoutCmd)
}
