package cli

import (
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/easygit/ghswitch/internal/profile"
	"github.com/easygit/ghswitch/internal/ui"
)

var (
	editName  string
	editEmail string
	editTag   string
)

var editCmd = &cobra.Command{
	Use:   "edit <username>",
	Short: "Edit a profile's name, email or tag",
	Long: `Updates the stored identity fields of a profile. With no flags an
interactive form opens, prefilled with the current values. Editing the
active profile also rewrites git's global identity.`,
	Args: cobra.ExactArgs(1),
	RunE: runEdit,
}

func init() {
	rootCmd.AddCommand(editCmd)
	editCmd.Flags().StringVar(&editName, "name", "", "display name written to git user.name")
	editCmd.Flags().StringVar(&editEmail, "email", "", "email written to git user.email")
	editCmd.Flags().StringVar(&editTag, "tag", "", "free-form tag")
}

func runEdit(cmd *cobra.Command, args []string) error {
	username := args[0]
	store, err := openStore(cmd.Context())
	if err != nil {
		return err
	}

	p, ok := store.Get(username)
	if !ok {
		return fmt.Errorf("%w: %s", profile.ErrUnknownProfile, username)
	}

	var upd profile.Update
	if cmd.Flags().Changed("name") {
		upd.Name = &editName
	}
	if cmd.Flags().Changed("email") {
		upd.Email = &editEmail
	}
	if cmd.Flags().Changed("tag") {
		upd.Tag = &editTag
	}

	if upd.Name == nil && upd.Email == nil && upd.Tag == nil {
		if !stdinIsTerminal() {
			return fmt.Errorf("nothing to change: pass --name, --email or --tag")
		}
		name, email, tag := p.DisplayName(), p.Email, p.Tag
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().Title("Name").Value(&name),
				huh.NewInput().Title("Email").Value(&email),
				huh.NewInput().Title("Tag").Value(&tag),
			),
		)
		if err := form.Run(); err != nil {
			return err
		}
		upd = profile.Update{Name: &name, Email: &email, Tag: &tag}
	}

	if err := store.Edit(cmd.Context(), username, upd); err != nil {
		return err
	}
	fmt.Printf("%s Updated %s\n", ui.OKTag(), ui.Bold(username))
	return nil
}
