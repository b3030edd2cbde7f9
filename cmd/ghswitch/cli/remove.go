package cli

import (
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/easygit/ghswitch/internal/ui"
)

var removeYes bool

var removeCmd = &cobra.Command{
	Use:     "remove <username>",
	Aliases: []string{"rm"},
	Short:   "Delete a profile",
	Long: `Removes a profile from the secret store and rejects its credential in
git. When the deleted profile was active, the alphabetically first
remaining profile takes over; with no profiles left, git's identity is
cleared entirely.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		username := args[0]
		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}

		if !removeYes && stdinIsTerminal() {
			confirmed := false
			confirm := huh.NewConfirm().
				Title(fmt.Sprintf("Delete profile %q and its stored token?", username)).
				Value(&confirmed)
			if err := confirm.Run(); err != nil || !confirmed {
				fmt.Println("Aborted.")
				return nil
			}
		}

		if err := store.Delete(cmd.Context(), username); err != nil {
			return err
		}
		fmt.Printf("%s Removed %s\n", ui.OKTag(), ui.Bold(username))

		if active, ok := store.Active(); ok {
			fmt.Printf("%s is now the active identity.\n", active.Username)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(removeCmd)
	removeCmd.Flags().BoolVarP(&removeYes, "yes", "y", false, "skip the confirmation prompt")
}
