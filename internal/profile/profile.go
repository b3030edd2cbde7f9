// Package profile holds the multi-identity model: the persisted collection
// of GitHub profiles, the merge engine that reconciles it with git's single
// credential slot, and activation with write-through to git.
package profile

import "errors"

// Secret-store layout: one namespace, a comma-joined username index, and one
// flat JSON record per username.
const (
	Namespace = "github"
	indexKey  = "usernames"
)

// DefaultTag marks profiles whose tag was never chosen by the user,
// including profiles synthesized from an external git credential.
const DefaultTag = "N/A"

var (
	// ErrUnknownProfile is returned for operations on a username that is
	// not in the collection.
	ErrUnknownProfile = errors.New("no such profile")
	// ErrDuplicateProfile is returned when adding a token that resolves to
	// an already-stored username.
	ErrDuplicateProfile = errors.New("profile already exists")
	// ErrMissingCredential is returned when activating a profile that has
	// no token.
	ErrMissingCredential = errors.New("profile has no stored token")
	// ErrActivationFailed wraps git write-through failures during
	// activation. The in-memory collection is left untouched.
	ErrActivationFailed = errors.New("activation failed")
)

// Profile is one stored GitHub identity. Username is the immutable key.
type Profile struct {
	Username  string `json:"username"`
	Token     string `json:"token"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Tag       string `json:"tag"`
	AvatarURL string `json:"avatar_url"`
	IsCurrent bool   `json:"is_current"`
}

// DisplayName is the identity name written into git config: the stored name,
// falling back to the username.
func (p Profile) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.Username
}
