package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/easygit/ghswitch/internal/ui"
)

var currentCmd = &cobra.Command{
	Use:   "current",
	Short: "Show the active profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}

		p, ok := store.Active()
		if !ok {
			if jsonOut {
				fmt.Println("null")
				return nil
			}
			fmt.Println("No active profile. Run 'ghswitch use <username>' to activate one.")
			return nil
		}

		if jsonOut {
			out := map[string]string{
				"username": p.Username,
				"name":     p.DisplayName(),
				"email":    p.Email,
				"tag":      p.Tag,
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		}

		fmt.Printf("%s %s (%s)\n", ui.ActiveTag(), ui.Bold(p.Username), p.DisplayName())
		if p.Email != "" {
			fmt.Printf("  email: %s\n", p.Email)
		}
		if p.Tag != "" {
			fmt.Printf("  tag:   %s\n", p.Tag)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(currentCmd)
}
