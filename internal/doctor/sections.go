package doctor

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"text/tabwriter"
	"time"

	gogit "github.com/go-git/go-git/v5"

	"github.com/easygit/ghswitch/internal/config"
	"github.com/easygit/ghswitch/internal/profile"
	"github.com/easygit/ghswitch/internal/secrets"
	"github.com/easygit/ghswitch/internal/ui"
)

// VersionSection shows platform and build info.
type VersionSection struct {
	Version string
}

func (s *VersionSection) Name() string { return "Version" }

func (s *VersionSection) Print(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	version := s.Version
	if version == "" {
		version = "dev"
	}
	fmt.Fprintf(tw, "ghswitch:\t%s\n", version)
	fmt.Fprintf(tw, "Platform:\t%s/%s\n", runtime.GOOS, runtime.GOARCH)
	return tw.Flush()
}

// GitSection checks the git installation the tool writes through to.
type GitSection struct{}

func (s *GitSection) Name() string { return "Git" }

func (s *GitSection) Print(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	path, err := exec.LookPath("git")
	if err != nil {
		fmt.Fprintf(tw, "Binary:\t%s not found in PATH\n", ui.FailTag())
		return tw.Flush()
	}
	fmt.Fprintf(tw, "Binary:\t%s %s\n", ui.OKTag(), path)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if out, err := exec.CommandContext(ctx, "git", "--version").Output(); err == nil {
		fmt.Fprintf(tw, "Version:\t%s\n", strings.TrimSpace(string(out)))
	}
	if out, err := exec.CommandContext(ctx, "git", "config", "--global", "credential.helper").Output(); err == nil {
		fmt.Fprintf(tw, "Credential helper:\t%s\n", strings.TrimSpace(string(out)))
	} else {
		fmt.Fprintf(tw, "Credential helper:\t%s\n", ui.Dim("not set"))
	}
	return tw.Flush()
}

// StoreSection probes the secret store with a write/read/delete round trip.
type StoreSection struct {
	Store secrets.Store
}

func (s *StoreSection) Name() string { return "Secret Store" }

func (s *StoreSection) Print(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Backend:\t%s\n", s.Store.Name())

	const probeKey = "doctor-probe"
	if err := s.Store.Set(profile.Namespace, probeKey, "ok"); err != nil {
		fmt.Fprintf(tw, "Write:\t%s %v\n", ui.FailTag(), err)
		return tw.Flush()
	}
	if _, err := s.Store.Get(profile.Namespace, probeKey); err != nil {
		fmt.Fprintf(tw, "Read:\t%s %v\n", ui.FailTag(), err)
		return tw.Flush()
	}
	if err := s.Store.Delete(profile.Namespace, probeKey); err != nil {
		fmt.Fprintf(tw, "Delete:\t%s %v\n", ui.FailTag(), err)
		return tw.Flush()
	}
	fmt.Fprintf(tw, "Round trip:\t%s\n", ui.OKTag())
	return tw.Flush()
}

// AuthSection shows the OAuth client configuration, scrubbed.
type AuthSection struct {
	Cfg config.AuthConfig
}

func (s *AuthSection) Name() string { return "Authentication" }

func (s *AuthSection) Print(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if s.Cfg.ClientID == "" {
		fmt.Fprintf(tw, "Client ID:\t%s not configured (set GHSWITCH_CLIENT_ID)\n", ui.FailTag())
	} else {
		fmt.Fprintf(tw, "Client ID:\t%s %s...\n", ui.OKTag(), tokenPrefix(s.Cfg.ClientID))
	}
	fmt.Fprintf(tw, "Scopes:\t%s\n", strings.Join(s.Cfg.Scopes, ", "))
	fmt.Fprintf(tw, "Device code URL:\t%s\n", s.Cfg.DeviceCodeURL)
	fmt.Fprintf(tw, "Token URL:\t%s\n", s.Cfg.TokenURL)
	return tw.Flush()
}

// ProfilesSection summarizes the stored collection with tokens redacted.
type ProfilesSection struct {
	Store *profile.Store
}

func (s *ProfilesSection) Name() string { return "Profiles" }

func (s *ProfilesSection) Print(w io.Writer) error {
	list := s.Store.List()
	if len(list) == 0 {
		fmt.Fprintln(w, "No profiles stored")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Total:\t%d\n", len(list))
	for _, p := range list {
		marker := ""
		if p.IsCurrent {
			marker = " " + ui.ActiveTag()
		}
		token := ui.Dim("no token")
		if p.Token != "" {
			token = tokenPrefix(p.Token) + "..."
		}
		fmt.Fprintf(tw, "%s:\t%s%s\n", p.Username, token, marker)
	}
	return tw.Flush()
}

// RepoSection inspects the enclosing git repository, when there is one, and
// flags remotes that do not point at github.com.
type RepoSection struct {
	Dir string
}

func (s *RepoSection) Name() string { return "Repository" }

func (s *RepoSection) Print(w io.Writer) error {
	dir := s.Dir
	if dir == "" {
		var err error
		dir, err = os.Getwd()
		if err != nil {
			return err
		}
	}

	repo, err := gogit.PlainOpenWithOptions(dir, &gogit.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		fmt.Fprintln(w, "Not inside a git repository")
		return nil
	}

	remotes, err := repo.Remotes()
	if err != nil {
		return fmt.Errorf("listing remotes: %w", err)
	}
	if len(remotes) == 0 {
		fmt.Fprintln(w, "Repository has no remotes")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, remote := range remotes {
		cfg := remote.Config()
		for _, remoteURL := range cfg.URLs {
			if strings.Contains(remoteURL, "github.com") {
				fmt.Fprintf(tw, "%s:\t%s %s\n", cfg.Name, ui.OKTag(), remoteURL)
			} else {
				fmt.Fprintf(tw, "%s:\t%s %s (not github.com, switching will not affect it)\n",
					cfg.Name, ui.Yellow("!"), remoteURL)
			}
		}
	}
	return tw.Flush()
}

// tokenPrefix returns a safe-to-display prefix of a token or client id.
func tokenPrefix(token string) string {
	for _, known := range []string{"gho_", "ghp_", "github_pat_"} {
		if strings.HasPrefix(token, known) && len(token) > len(known)+4 {
			return token[:len(known)+4]
		}
	}
	if len(token) > 8 {
		return token[:8]
	}
	return token
}
