package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/easygit/ghswitch/internal/gitcred"
	"github.com/easygit/ghswitch/internal/githubapi"
	"github.com/easygit/ghswitch/internal/log"
	"github.com/easygit/ghswitch/internal/secrets"
)

// Git is the slice of the git client the store drives during activation.
// *gitcred.Client satisfies it.
type Git interface {
	Snapshot(ctx context.Context) gitcred.Credential
	Approve(ctx context.Context, username, secret string) error
	Reject(ctx context.Context, username string) error
	ConfigSet(ctx context.Context, key, value string) error
	ConfigUnset(ctx context.Context, key string) error
}

// UserAPI resolves a token to the account it belongs to. Implemented by
// *githubapi.Client.
type UserAPI interface {
	UserInfo(ctx context.Context, token string) (*githubapi.UserInfo, error)
}

// Store is the collection of profiles, hydrated from the secret store and
// persisted synchronously after every mutation. All methods serialize under
// one mutex; git and the secret store are the only side effects.
type Store struct {
	mu       sync.Mutex
	secrets  secrets.Store
	git      Git
	helper   string
	profiles map[string]*Profile
}

// New returns an empty Store. helper is the credential.helper value written
// to git config on activation.
func New(sec secrets.Store, git Git, helper string) *Store {
	return &Store{
		secrets:  sec,
		git:      git,
		helper:   helper,
		profiles: map[string]*Profile{},
	}
}

// Load hydrates the collection from the secret store. A missing index means
// an empty collection. A malformed or missing record is skipped with a
// warning; the rest of the collection still loads.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.profiles = map[string]*Profile{}

	index, err := s.secrets.Get(Namespace, indexKey)
	if err != nil {
		if errors.Is(err, secrets.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("reading profile index: %w", err)
	}

	for _, username := range strings.Split(index, ",") {
		username = strings.TrimSpace(username)
		if username == "" {
			continue
		}
		raw, err := s.secrets.Get(Namespace, username)
		if err != nil {
			log.Warn("skipping unreadable profile record", "username", username, "error", err)
			continue
		}
		var p Profile
		if err := json.Unmarshal([]byte(raw), &p); err != nil || p.Username == "" {
			log.Warn("skipping malformed profile record", "username", username, "error", err)
			continue
		}
		s.profiles[p.Username] = &p
	}

	// At most one profile may be current. Keep the lexicographically first
	// offender and clear the rest.
	seen := false
	for _, username := range s.usernamesLocked() {
		p := s.profiles[username]
		if p.IsCurrent {
			if seen {
				log.Warn("clearing extra current flag", "username", username)
				p.IsCurrent = false
			}
			seen = true
		}
	}
	return nil
}

// List returns copies of every profile in lexicographic username order.
func (s *Store) List() []Profile {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Profile, 0, len(s.profiles))
	for _, username := range s.usernamesLocked() {
		out = append(out, *s.profiles[username])
	}
	return out
}

// Get returns a copy of the named profile.
func (s *Store) Get(username string) (Profile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[username]
	if !ok {
		return Profile{}, false
	}
	return *p, true
}

// Active returns a copy of the current profile, if any.
func (s *Store) Active() (Profile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.profiles {
		if p.IsCurrent {
			return *p, true
		}
	}
	return Profile{}, false
}

// Reconcile merges git's external credential into the collection. The store
// is authoritative: an existing profile only gains name/email where its own
// are empty, and its token is never replaced. An unknown username carrying a
// secret is synthesized as a new profile tagged DefaultTag; without a secret
// there is no credential to import, so nothing is created.
func (s *Store) Reconcile(external gitcred.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Without a username there is nothing to key the merge on.
	if external.Username == "" {
		return nil
	}

	changed := false
	if p, ok := s.profiles[external.Username]; ok {
		if p.Name == "" && external.Name != "" {
			p.Name = external.Name
			changed = true
		}
		if p.Email == "" && external.Email != "" {
			p.Email = external.Email
			changed = true
		}
	} else if external.Secret != "" {
		name := external.Name
		if name == "" {
			name = external.Username
		}
		s.profiles[external.Username] = &Profile{
			Username: external.Username,
			Token:    external.Secret,
			Name:     name,
			Email:    external.Email,
			Tag:      DefaultTag,
		}
		changed = true
		log.Info("imported credential from git", "username", external.Username)
	}

	if !changed {
		return nil
	}
	return s.persistLocked(s.snapshotLocked())
}

// ResolveActive returns the first profile, in lexicographic username order,
// whose name and email both equal git's global identity exactly. It is a
// best-effort heuristic; two profiles sharing an identity resolve to the
// lexicographically smaller username.
func (s *Store) ResolveActive(name, email string) (Profile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, username := range s.usernamesLocked() {
		p := s.profiles[username]
		if p.Name == name && p.Email == email {
			return *p, true
		}
	}
	return Profile{}, false
}

// Refresh runs the startup cycle: snapshot git, merge the external
// credential in, and align the current flags with whichever profile git's
// global identity resolves to.
func (s *Store) Refresh(ctx context.Context) error {
	external := s.git.Snapshot(ctx)
	if err := s.Reconcile(external); err != nil {
		return err
	}

	resolved, ok := s.ResolveActive(external.Name, external.Email)

	s.mu.Lock()
	defer s.mu.Unlock()
	changed := false
	for _, p := range s.profiles {
		want := ok && p.Username == resolved.Username
		if p.IsCurrent != want {
			p.IsCurrent = want
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return s.persistLocked(s.snapshotLocked())
}

// Activate makes username the current profile. The git write-through runs
// first: reset every github.com credential, set the global identity and
// credential helper, approve the new credential. Only when all of that
// succeeds do the in-memory flags flip and persist. A write-through failure
// returns ErrActivationFailed with the collection untouched.
func (s *Store) Activate(ctx context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activateLocked(ctx, username)
}

func (s *Store) activateLocked(ctx context.Context, username string) error {
	p, ok := s.profiles[username]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProfile, username)
	}
	if p.Token == "" {
		return fmt.Errorf("%w: %s", ErrMissingCredential, username)
	}

	if err := s.writeThroughLocked(ctx, p); err != nil {
		return fmt.Errorf("%w: %v", ErrActivationFailed, err)
	}

	backup := s.snapshotLocked()
	for _, other := range s.profiles {
		other.IsCurrent = other.Username == username
	}
	if err := s.persistLocked(backup); err != nil {
		return err
	}
	log.Info("profile activated", "username", username)
	return nil
}

// writeThroughLocked pushes one profile's identity into git. The leading
// reject is idempotent, so a failure partway degrades to "no credential set"
// rather than a mixed identity.
func (s *Store) writeThroughLocked(ctx context.Context, p *Profile) error {
	if err := s.git.Reject(ctx, ""); err != nil {
		return err
	}
	if err := s.git.ConfigSet(ctx, "user.name", p.DisplayName()); err != nil {
		return err
	}
	if err := s.git.ConfigSet(ctx, "user.email", p.Email); err != nil {
		return err
	}
	if err := s.git.ConfigSet(ctx, "credential.helper", s.helper); err != nil {
		return err
	}
	return s.git.Approve(ctx, p.Username, p.Token)
}

// DeactivateAll clears git's identity and every current flag.
func (s *Store) DeactivateAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deactivateAllLocked(ctx)
}

func (s *Store) deactivateAllLocked(ctx context.Context) error {
	for _, key := range []string{"user.name", "user.email", "credential.helper"} {
		if err := s.git.ConfigUnset(ctx, key); err != nil {
			return err
		}
	}
	if err := s.git.Reject(ctx, ""); err != nil {
		return err
	}

	backup := s.snapshotLocked()
	changed := false
	for _, p := range s.profiles {
		if p.IsCurrent {
			p.IsCurrent = false
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return s.persistLocked(backup)
}

// Delete removes a profile from the store and rejects its git credential.
// Deleting the active profile falls back to the lexicographically smallest
// remaining username, or clears git entirely when none remain.
func (s *Store) Delete(ctx context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[username]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProfile, username)
	}
	wasActive := p.IsCurrent

	backup := s.snapshotLocked()
	delete(s.profiles, username)
	if err := s.persistLocked(backup); err != nil {
		return err
	}
	if err := s.secrets.Delete(Namespace, username); err != nil && !errors.Is(err, secrets.ErrNotFound) {
		log.Warn("deleting profile record", "username", username, "error", err)
	}
	if err := s.git.Reject(ctx, username); err != nil {
		log.Debug("rejecting deleted credential", "username", username, "error", err)
	}
	log.Info("profile deleted", "username", username)

	if !wasActive {
		return nil
	}
	remaining := s.usernamesLocked()
	if len(remaining) == 0 {
		return s.deactivateAllLocked(ctx)
	}
	return s.activateLocked(ctx, remaining[0])
}

// AddToken resolves token to an identity and stores it as a new profile.
// The first profile added to an empty slot is activated immediately.
func (s *Store) AddToken(ctx context.Context, api UserAPI, token, tag string) (Profile, error) {
	info, err := api.UserInfo(ctx, token)
	if err != nil {
		return Profile{}, fmt.Errorf("resolving token: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.profiles[info.Login]; ok {
		return Profile{}, fmt.Errorf("%w: %s", ErrDuplicateProfile, info.Login)
	}

	if tag == "" {
		tag = DefaultTag
	}
	name := info.Name
	if name == "" {
		name = info.Login
	}
	p := &Profile{
		Username:  info.Login,
		Token:     token,
		Name:      name,
		Email:     info.Email,
		Tag:       tag,
		AvatarURL: info.AvatarURL,
	}

	backup := s.snapshotLocked()
	s.profiles[p.Username] = p
	if err := s.persistLocked(backup); err != nil {
		return Profile{}, err
	}
	log.Info("profile added", "username", p.Username)

	if !s.anyCurrentLocked() {
		if err := s.activateLocked(ctx, p.Username); err != nil {
			return *p, err
		}
	}
	return *s.profiles[p.Username], nil
}

// Update is the set of optional field changes for a profile. Nil fields are
// left alone.
type Update struct {
	Name  *string
	Email *string
	Tag   *string
}

// Edit applies an Update to the named profile. Editing the active profile
// re-runs the git write-through so git's identity follows the change; as with
// Activate, git goes first and a failure leaves the collection untouched.
func (s *Store) Edit(ctx context.Context, username string, upd Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[username]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProfile, username)
	}

	backup := s.snapshotLocked()
	if upd.Name != nil {
		p.Name = *upd.Name
	}
	if upd.Email != nil {
		p.Email = *upd.Email
	}
	if upd.Tag != nil {
		p.Tag = *upd.Tag
	}

	if p.IsCurrent {
		if err := s.writeThroughLocked(ctx, p); err != nil {
			s.profiles = backup
			return fmt.Errorf("%w: %v", ErrActivationFailed, err)
		}
	}
	return s.persistLocked(backup)
}

// usernamesLocked returns the usernames in lexicographic order.
func (s *Store) usernamesLocked() []string {
	out := make([]string, 0, len(s.profiles))
	for username := range s.profiles {
		out = append(out, username)
	}
	sort.Strings(out)
	return out
}

func (s *Store) anyCurrentLocked() bool {
	for _, p := range s.profiles {
		if p.IsCurrent {
			return true
		}
	}
	return false
}

// snapshotLocked deep-copies the collection for rollback.
func (s *Store) snapshotLocked() map[string]*Profile {
	backup := make(map[string]*Profile, len(s.profiles))
	for username, p := range s.profiles {
		dup := *p
		backup[username] = &dup
	}
	return backup
}

// persistLocked writes every record and the index to the secret store. On
// failure the in-memory collection is restored from backup, so a failed
// persist never leaves memory and storage disagreeing.
func (s *Store) persistLocked(backup map[string]*Profile) error {
	usernames := s.usernamesLocked()
	for _, username := range usernames {
		raw, err := json.Marshal(s.profiles[username])
		if err != nil {
			s.profiles = backup
			return fmt.Errorf("encoding profile %s: %w", username, err)
		}
		if err := s.secrets.Set(Namespace, username, string(raw)); err != nil {
			s.profiles = backup
			return fmt.Errorf("persisting profile %s: %w", username, err)
		}
	}
	if err := s.secrets.Set(Namespace, indexKey, strings.Join(usernames, ",")); err != nil {
		s.profiles = backup
		return fmt.Errorf("persisting profile index: %w", err)
	}
	return nil
}
