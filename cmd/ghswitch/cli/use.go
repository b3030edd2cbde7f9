package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/easygit/ghswitch/internal/ui"
)

var useCmd = &cobra.Command{
	Use:   "use <username>",
	Short: "Activate a profile",
	Long: `Makes the named profile the active identity: resets git's github.com
credentials, writes the profile's name and email into global git config,
and hands its token to the credential helper.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		if err := store.Activate(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("%s Switched to %s\n", ui.OKTag(), ui.Bold(args[0]))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(useCmd)
}
