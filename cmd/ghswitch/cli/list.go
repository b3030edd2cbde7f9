package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/easygit/ghswitch/internal/ui"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		profiles := store.List()

		if jsonOut {
			// Tokens never leave the secret store through list output.
			type entry struct {
				Username  string `json:"username"`
				Name      string `json:"name"`
				Email     string `json:"email"`
				Tag       string `json:"tag"`
				IsCurrent bool   `json:"is_current"`
			}
			out := make([]entry, 0, len(profiles))
			for _, p := range profiles {
				out = append(out, entry{p.Username, p.DisplayName(), p.Email, p.Tag, p.IsCurrent})
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		}

		if len(profiles) == 0 {
			fmt.Println("No profiles stored. Run 'ghswitch add' to sign in.")
			return nil
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tUSERNAME\tEMAIL\tTAG\tSTATUS")
		for _, p := range profiles {
			status := ""
			if p.IsCurrent {
				status = ui.ActiveTag()
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", p.DisplayName(), p.Username, p.Email, p.Tag, status)
		}
		return tw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
