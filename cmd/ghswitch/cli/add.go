package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/huh"
	"github.com/pkg/browser"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/easygit/ghswitch/internal/config"
	"github.com/easygit/ghswitch/internal/deviceflow"
	"github.com/easygit/ghswitch/internal/githubapi"
	"github.com/easygit/ghswitch/internal/log"
	"github.com/easygit/ghswitch/internal/ui"
)

var (
	addTag string
	addPAT bool
)

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a GitHub account",
	Long: `Signs in to GitHub and stores the resulting identity as a profile.

By default this runs the OAuth device flow: a one-time code is shown (and
copied to the clipboard), the verification page opens in the browser, and
ghswitch polls until you authorize. With --pat a personal access token is
read from the terminal instead.

The first profile added while nothing is active is activated immediately.`,
	RunE: runAdd,
}

func init() {
	rootCmd.AddCommand(addCmd)
	addCmd.Flags().StringVar(&addTag, "tag", "", "free-form tag for the new profile (e.g. work)")
	addCmd.Flags().BoolVar(&addPAT, "pat", false, "enter a personal access token instead of running the device flow")
}

func runAdd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	client := githubapi.NewClient(cfg.Auth)

	var token string
	if addPAT {
		token, err = readToken()
	} else {
		token, err = runDeviceFlow(ctx, client)
	}
	if err != nil {
		return err
	}

	tag := addTag
	if tag == "" && stdinIsTerminal() {
		prompt := huh.NewInput().
			Title("Tag for this profile (optional)").
			Placeholder("work, personal, ...").
			Value(&tag)
		if err := prompt.Run(); err != nil {
			tag = ""
		}
	}

	p, err := store.AddToken(ctx, client, token, tag)
	if err != nil {
		return err
	}

	fmt.Printf("%s Signed in as %s\n", ui.OKTag(), ui.Bold(p.Username))
	if p.IsCurrent {
		fmt.Printf("%s is now the active identity for git.\n", p.Username)
	} else {
		fmt.Printf("Run 'ghswitch use %s' to make it active.\n", p.Username)
	}
	return nil
}

// runDeviceFlow drives the device authorization grant to a token, offering a
// fresh code when one expires under the user.
func runDeviceFlow(ctx context.Context, client *githubapi.Client) (string, error) {
	if cfg.Auth.ClientID == "" {
		return "", fmt.Errorf("no OAuth client id configured: set GHSWITCH_CLIENT_ID or auth.client_id in %s",
			filepath.Join(config.Dir(), "config.yaml"))
	}

	flow := deviceflow.New(client)
	session, err := flow.Start(ctx)
	if err != nil {
		return "", err
	}

	for {
		printDeviceInstructions(session)

		result, err := flow.Wait(ctx)
		if err != nil {
			return "", err
		}

		switch result.State {
		case deviceflow.StateSucceeded:
			return result.Token, nil
		case deviceflow.StateExpired:
			retry := false
			if stdinIsTerminal() {
				confirm := huh.NewConfirm().
					Title("The code expired before authorization completed. Generate a new one?").
					Value(&retry)
				if err := confirm.Run(); err != nil {
					retry = false
				}
			}
			if !retry {
				return "", fmt.Errorf("device code expired")
			}
			session, err = flow.Restart(ctx)
			if err != nil {
				return "", err
			}
		case deviceflow.StateDenied:
			return "", fmt.Errorf("authorization was denied")
		case deviceflow.StateCancelled:
			return "", fmt.Errorf("authorization cancelled")
		default:
			return "", fmt.Errorf("authorization failed: %s", result.Reason)
		}
	}
}

func printDeviceInstructions(session *deviceflow.Session) {
	fmt.Printf("First, copy your one-time code: %s\n", ui.Bold(session.UserCode))
	if err := clipboard.WriteAll(session.UserCode); err == nil {
		fmt.Println(ui.Dim("(copied to clipboard)"))
	} else {
		log.Debug("copying code to clipboard", "error", err)
	}

	fmt.Printf("Then authorize at %s\n", ui.Cyan(session.VerificationURL))
	if err := browser.OpenURL(session.VerificationURL); err != nil {
		log.Debug("opening browser", "error", err)
	}

	fmt.Printf("Waiting for authorization (code expires at %s)...\n",
		session.ExpiresAt.Format("15:04:05"))
}

// readToken reads a personal access token from stdin without echoing.
func readToken() (string, error) {
	fmt.Fprint(os.Stderr, "Personal access token: ")
	fd := int(os.Stdin.Fd())

	var line string
	if term.IsTerminal(fd) {
		bytes, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		line = string(bytes)
	} else {
		// Not a terminal, read normally (for piped input).
		var err error
		line, err = bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", err
		}
	}

	token := strings.TrimSpace(line)
	if token == "" {
		return "", fmt.Errorf("empty token")
	}
	return token, nil
}

func stdinIsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}
