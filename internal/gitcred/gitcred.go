// Package gitcred talks to the local git installation: the credential
// helper protocol (fill/approve/reject) and global config keys. GitHub.com
// is the only host this tool manages.
package gitcred

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/easygit/ghswitch/internal/log"
)

// HostURL is the credential slot this tool manages.
const HostURL = "https://github.com"

// ErrGitNotFound is returned when no git binary is on PATH.
var ErrGitNotFound = errors.New("git binary not found in PATH")

// Credential is git's view of the single github.com slot, combined with the
// global identity. Fields are empty when git holds nothing.
type Credential struct {
	Username string
	Secret   string
	Name     string
	Email    string
}

// Runner executes a git subcommand with the given stdin and returns stdout.
// Tests substitute a fake.
type Runner func(ctx context.Context, stdin string, args ...string) (string, error)

// Client drives the git credential subsystem.
type Client struct {
	run Runner
}

// New returns a Client backed by the git binary.
func New() *Client {
	return &Client{run: execGit}
}

// NewWithRunner returns a Client using a custom runner.
func NewWithRunner(run Runner) *Client {
	return &Client{run: run}
}

// Check verifies the git binary is reachable.
func (c *Client) Check() error {
	if _, err := exec.LookPath("git"); err != nil {
		return ErrGitNotFound
	}
	return nil
}

// execGit runs git with terminal prompts disabled so `credential fill`
// cannot hang waiting for input.
func execGit(ctx context.Context, stdin string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Stdin = strings.NewReader(stdin)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return stdout.String(), fmt.Errorf("git %s: %w: %s", args[0], err, msg)
		}
		return stdout.String(), fmt.Errorf("git %s: %w", args[0], err)
	}
	return stdout.String(), nil
}

// Snapshot reads the current external credential: the github.com slot from
// `git credential fill` plus the global user.name/user.email. A git failure
// yields a partially populated (or zero) Credential, never an error — the
// slot simply counts as unavailable.
func (c *Client) Snapshot(ctx context.Context) Credential {
	var cred Credential

	out, err := c.run(ctx, "url="+HostURL+"\n\n", "credential", "fill")
	if err != nil {
		log.Debug("git credential fill failed", "error", err)
	} else {
		for _, line := range strings.Split(out, "\n") {
			key, value, ok := strings.Cut(line, "=")
			if !ok {
				continue
			}
			switch strings.TrimSpace(key) {
			case "username":
				cred.Username = strings.TrimSpace(value)
			case "password":
				cred.Secret = strings.TrimSpace(value)
			}
		}
	}

	cred.Name, cred.Email = c.GlobalIdentity(ctx)
	return cred
}

// GlobalIdentity returns git's global user.name and user.email.
// Unset keys read as empty strings.
func (c *Client) GlobalIdentity(ctx context.Context) (name, email string) {
	name, _ = c.ConfigGet(ctx, "user.name")
	email, _ = c.ConfigGet(ctx, "user.email")
	return name, email
}

// Approve stores a credential for github.com via the configured helper.
func (c *Client) Approve(ctx context.Context, username, secret string) error {
	stdin := fmt.Sprintf("url=%s\nusername=%s\npassword=%s\n\n", HostURL, username, secret)
	if _, err := c.run(ctx, stdin, "credential", "approve"); err != nil {
		return fmt.Errorf("approving credential for %s: %w", username, err)
	}
	return nil
}

// Reject removes the stored credential for username. An empty username
// rejects every github.com credential, which makes Reject usable as an
// idempotent reset before a write-through.
func (c *Client) Reject(ctx context.Context, username string) error {
	var stdin string
	if username == "" {
		stdin = "protocol=https\nhost=github.com\n\n"
	} else {
		stdin = fmt.Sprintf("url=%s\nusername=%s\n\n", HostURL, username)
	}
	if _, err := c.run(ctx, stdin, "credential", "reject"); err != nil {
		return fmt.Errorf("rejecting credential: %w", err)
	}
	return nil
}

// ConfigGet reads a global git config key. An unset key returns "" without
// error (git exits 1 for missing keys).
func (c *Client) ConfigGet(ctx context.Context, key string) (string, error) {
	out, err := c.run(ctx, "", "config", "--global", key)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// ConfigSet writes a global git config key.
func (c *Client) ConfigSet(ctx context.Context, key, value string) error {
	if _, err := c.run(ctx, "", "config", "--global", key, value); err != nil {
		return fmt.Errorf("setting %s: %w", key, err)
	}
	return nil
}

// ConfigUnset removes a global git config key. Unsetting a missing key is
// not an error.
func (c *Client) ConfigUnset(ctx context.Context, key string) error {
	_, err := c.run(ctx, "", "config", "--global", "--unset", key)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 5 {
			return nil // key was not set
		}
		return fmt.Errorf("unsetting %s: %w", key, err)
	}
	return nil
}
