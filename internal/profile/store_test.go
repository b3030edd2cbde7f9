package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/easygit/ghswitch/internal/gitcred"
	"github.com/easygit/ghswitch/internal/githubapi"
	"github.com/easygit/ghswitch/internal/secrets"
)

// fakeSecrets is an in-memory secret store with injectable write failures.
type fakeSecrets struct {
	data    map[string]string
	failSet error
}

func newFakeSecrets() *fakeSecrets {
	return &fakeSecrets{data: map[string]string{}}
}

func (f *fakeSecrets) key(ns, k string) string { return ns + "/" + k }

func (f *fakeSecrets) Get(ns, k string) (string, error) {
	v, ok := f.data[f.key(ns, k)]
	if !ok {
		return "", secrets.ErrNotFound
	}
	return v, nil
}

func (f *fakeSecrets) Set(ns, k, v string) error {
	if f.failSet != nil {
		return f.failSet
	}
	f.data[f.key(ns, k)] = v
	return nil
}

func (f *fakeSecrets) Delete(ns, k string) error {
	if _, ok := f.data[f.key(ns, k)]; !ok {
		return secrets.ErrNotFound
	}
	delete(f.data, f.key(ns, k))
	return nil
}

func (f *fakeSecrets) Name() string { return "fake" }

func (f *fakeSecrets) put(t *testing.T, p Profile) {
	t.Helper()
	raw, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	f.data[f.key(Namespace, p.Username)] = string(raw)
	index := f.data[f.key(Namespace, indexKey)]
	if index == "" {
		f.data[f.key(Namespace, indexKey)] = p.Username
	} else {
		f.data[f.key(Namespace, indexKey)] = index + "," + p.Username
	}
}

// fakeGit records operations and fails on demand.
type fakeGit struct {
	ops      []string
	snapshot gitcred.Credential
	fail     map[string]error // op prefix -> error
}

func newFakeGit() *fakeGit {
	return &fakeGit{fail: map[string]error{}}
}

func (g *fakeGit) op(format string, args ...any) error {
	op := fmt.Sprintf(format, args...)
	g.ops = append(g.ops, op)
	for prefix, err := range g.fail {
		if strings.HasPrefix(op, prefix) {
			return err
		}
	}
	return nil
}

func (g *fakeGit) Snapshot(context.Context) gitcred.Credential { return g.snapshot }

func (g *fakeGit) Approve(_ context.Context, username, secret string) error {
	return g.op("approve %s", username)
}

func (g *fakeGit) Reject(_ context.Context, username string) error {
	return g.op("reject %q", username)
}

func (g *fakeGit) ConfigSet(_ context.Context, key, value string) error {
	return g.op("set %s=%s", key, value)
}

func (g *fakeGit) ConfigUnset(_ context.Context, key string) error {
	return g.op("unset %s", key)
}

// fakeUserAPI resolves every token to a fixed identity.
type fakeUserAPI struct {
	info *githubapi.UserInfo
	err  error
}

func (f *fakeUserAPI) UserInfo(context.Context, string) (*githubapi.UserInfo, error) {
	return f.info, f.err
}

func newStore(t *testing.T, seed ...Profile) (*Store, *fakeSecrets, *fakeGit) {
	t.Helper()
	sec := newFakeSecrets()
	for _, p := range seed {
		sec.put(t, p)
	}
	git := newFakeGit()
	store := New(sec, git, "manager-core")
	if err := store.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return store, sec, git
}

func currentUsernames(s *Store) []string {
	var out []string
	for _, p := range s.List() {
		if p.IsCurrent {
			out = append(out, p.Username)
		}
	}
	return out
}

func TestLoad(t *testing.T) {
	t.Run("empty store", func(t *testing.T) {
		store, _, _ := newStore(t)
		if got := store.List(); len(got) != 0 {
			t.Errorf("List = %v, want empty", got)
		}
	})

	t.Run("malformed record skipped", func(t *testing.T) {
		sec := newFakeSecrets()
		sec.put(t, Profile{Username: "alice", Token: "t1"})
		sec.data[sec.key(Namespace, indexKey)] = "alice,broken"
		sec.data[sec.key(Namespace, "broken")] = "{not json"

		store := New(sec, newFakeGit(), "manager-core")
		if err := store.Load(); err != nil {
			t.Fatalf("Load: %v", err)
		}
		list := store.List()
		if len(list) != 1 || list[0].Username != "alice" {
			t.Errorf("List = %v, want just alice", list)
		}
	})

	t.Run("multiple current flags collapsed to one", func(t *testing.T) {
		store, _, _ := newStore(t,
			Profile{Username: "bob", Token: "t2", IsCurrent: true},
			Profile{Username: "alice", Token: "t1", IsCurrent: true},
		)
		if got := currentUsernames(store); len(got) != 1 {
			t.Errorf("current = %v, want exactly one", got)
		}
	})
}

func TestReconcile(t *testing.T) {
	t.Run("empty credential is a no-op", func(t *testing.T) {
		store, sec, _ := newStore(t, Profile{Username: "alice", Token: "t1"})
		before := len(sec.data)

		if err := store.Reconcile(gitcred.Credential{Name: "Someone", Email: "s@x.com"}); err != nil {
			t.Fatal(err)
		}
		if len(store.List()) != 1 || len(sec.data) != before {
			t.Error("credential without username must not change anything")
		}
	})

	t.Run("fills only empty fields", func(t *testing.T) {
		store, _, _ := newStore(t, Profile{Username: "alice", Token: "t1", Name: "Alice Stored"})

		err := store.Reconcile(gitcred.Credential{
			Username: "alice", Secret: "other-token", Name: "Alice External", Email: "a@x.com",
		})
		if err != nil {
			t.Fatal(err)
		}

		p, _ := store.Get("alice")
		if p.Name != "Alice Stored" {
			t.Errorf("Name = %q, stored value must win", p.Name)
		}
		if p.Email != "a@x.com" {
			t.Errorf("Email = %q, empty field should be filled", p.Email)
		}
		if p.Token != "t1" {
			t.Errorf("Token = %q, stored token must never be replaced", p.Token)
		}
	})

	t.Run("unknown username synthesized", func(t *testing.T) {
		store, sec, _ := newStore(t)

		err := store.Reconcile(gitcred.Credential{Username: "carol", Secret: "tok-c", Email: "c@x.com"})
		if err != nil {
			t.Fatal(err)
		}

		p, ok := store.Get("carol")
		if !ok {
			t.Fatal("profile not created")
		}
		if p.Tag != DefaultTag || p.Name != "carol" || p.Token != "tok-c" {
			t.Errorf("synthesized profile = %+v", p)
		}
		if _, err := sec.Get(Namespace, "carol"); err != nil {
			t.Error("synthesized profile must be persisted")
		}
	})

	t.Run("username without secret creates nothing", func(t *testing.T) {
		store, sec, _ := newStore(t)
		before := len(sec.data)

		err := store.Reconcile(gitcred.Credential{Username: "ghost", Name: "Ghost", Email: "g@x.com"})
		if err != nil {
			t.Fatal(err)
		}
		if _, ok := store.Get("ghost"); ok {
			t.Error("a credential without a secret must not synthesize a profile")
		}
		if len(sec.data) != before {
			t.Error("nothing should be persisted")
		}
	})

	t.Run("idempotent", func(t *testing.T) {
		store, _, _ := newStore(t)
		cred := gitcred.Credential{Username: "carol", Secret: "tok-c", Name: "Carol"}

		if err := store.Reconcile(cred); err != nil {
			t.Fatal(err)
		}
		first, _ := store.Get("carol")
		if err := store.Reconcile(cred); err != nil {
			t.Fatal(err)
		}
		second, _ := store.Get("carol")

		if first != second || len(store.List()) != 1 {
			t.Errorf("second merge changed state: %+v vs %+v", first, second)
		}
	})
}

func TestResolveActive(t *testing.T) {
	store, _, _ := newStore(t,
		Profile{Username: "zoe", Token: "t3", Name: "Shared", Email: "s@x.com"},
		Profile{Username: "alice", Token: "t1", Name: "Shared", Email: "s@x.com"},
		Profile{Username: "bob", Token: "t2", Name: "Bob", Email: "b@x.com"},
	)

	t.Run("exact match", func(t *testing.T) {
		p, ok := store.ResolveActive("Bob", "b@x.com")
		if !ok || p.Username != "bob" {
			t.Errorf("resolved %+v %v", p, ok)
		}
	})

	t.Run("ambiguity resolves to smallest username", func(t *testing.T) {
		p, ok := store.ResolveActive("Shared", "s@x.com")
		if !ok || p.Username != "alice" {
			t.Errorf("resolved %q, want alice", p.Username)
		}
	})

	t.Run("partial match is no match", func(t *testing.T) {
		if _, ok := store.ResolveActive("Bob", "wrong@x.com"); ok {
			t.Error("name-only match must not resolve")
		}
	})
}

func TestActivate(t *testing.T) {
	t.Run("write-through order then flags", func(t *testing.T) {
		store, sec, git := newFakeActivePair(t)

		if err := store.Activate(context.Background(), "bob"); err != nil {
			t.Fatalf("Activate: %v", err)
		}

		want := []string{
			`reject ""`,
			"set user.name=Bob B",
			"set user.email=b@x.com",
			"set credential.helper=manager-core",
			"approve bob",
		}
		if len(git.ops) != len(want) {
			t.Fatalf("ops = %v, want %v", git.ops, want)
		}
		for i := range want {
			if git.ops[i] != want[i] {
				t.Errorf("op[%d] = %q, want %q", i, git.ops[i], want[i])
			}
		}

		if got := currentUsernames(store); len(got) != 1 || got[0] != "bob" {
			t.Errorf("current = %v, want [bob]", got)
		}
		var persisted Profile
		raw, _ := sec.Get(Namespace, "bob")
		json.Unmarshal([]byte(raw), &persisted)
		if !persisted.IsCurrent {
			t.Error("flag flip must be persisted")
		}
	})

	t.Run("missing token", func(t *testing.T) {
		store, _, git := newStore(t, Profile{Username: "alice"})

		err := store.Activate(context.Background(), "alice")
		if !errors.Is(err, ErrMissingCredential) {
			t.Errorf("err = %v, want ErrMissingCredential", err)
		}
		if len(git.ops) != 0 {
			t.Errorf("git must not be touched, got %v", git.ops)
		}
	})

	t.Run("unknown username", func(t *testing.T) {
		store, _, _ := newStore(t)
		if err := store.Activate(context.Background(), "ghost"); !errors.Is(err, ErrUnknownProfile) {
			t.Errorf("err = %v, want ErrUnknownProfile", err)
		}
	})

	t.Run("git failure leaves flags untouched", func(t *testing.T) {
		store, _, git := newFakeActivePair(t)
		git.fail["approve"] = errors.New("helper crashed")

		err := store.Activate(context.Background(), "bob")
		if !errors.Is(err, ErrActivationFailed) {
			t.Errorf("err = %v, want ErrActivationFailed", err)
		}
		if got := currentUsernames(store); len(got) != 1 || got[0] != "alice" {
			t.Errorf("current = %v, want alice still active", got)
		}
	})

	t.Run("persist failure rolls back flags", func(t *testing.T) {
		store, sec, _ := newFakeActivePair(t)
		sec.failSet = errors.New("store unavailable")

		if err := store.Activate(context.Background(), "bob"); err == nil {
			t.Fatal("expected persist error")
		}
		if got := currentUsernames(store); len(got) != 1 || got[0] != "alice" {
			t.Errorf("current = %v, rollback should restore alice", got)
		}
	})
}

// newFakeActivePair seeds alice (active) and bob.
func newFakeActivePair(t *testing.T) (*Store, *fakeSecrets, *fakeGit) {
	t.Helper()
	return newStore(t,
		Profile{Username: "alice", Token: "t1", Name: "Alice A", Email: "a@x.com", IsCurrent: true},
		Profile{Username: "bob", Token: "t2", Name: "Bob B", Email: "b@x.com"},
	)
}

func TestDeactivateAll(t *testing.T) {
	store, _, git := newFakeActivePair(t)

	if err := store.DeactivateAll(context.Background()); err != nil {
		t.Fatalf("DeactivateAll: %v", err)
	}

	if got := currentUsernames(store); len(got) != 0 {
		t.Errorf("current = %v, want none", got)
	}
	want := []string{"unset user.name", "unset user.email", "unset credential.helper", `reject ""`}
	for i, op := range want {
		if git.ops[i] != op {
			t.Errorf("op[%d] = %q, want %q", i, git.ops[i], op)
		}
	}
}

func TestDelete(t *testing.T) {
	t.Run("inactive profile", func(t *testing.T) {
		store, sec, _ := newFakeActivePair(t)

		if err := store.Delete(context.Background(), "bob"); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if _, ok := store.Get("bob"); ok {
			t.Error("profile still present")
		}
		if _, err := sec.Get(Namespace, "bob"); !errors.Is(err, secrets.ErrNotFound) {
			t.Error("record should be removed from the secret store")
		}
		if got := currentUsernames(store); len(got) != 1 || got[0] != "alice" {
			t.Errorf("current = %v, deleting inactive must not change activation", got)
		}
	})

	t.Run("active profile falls back to smallest remaining", func(t *testing.T) {
		store, _, git := newStore(t,
			Profile{Username: "carol", Token: "t3", IsCurrent: true},
			Profile{Username: "bob", Token: "t2"},
			Profile{Username: "alice", Token: "t1"},
		)

		if err := store.Delete(context.Background(), "carol"); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if got := currentUsernames(store); len(got) != 1 || got[0] != "alice" {
			t.Errorf("current = %v, want fallback to alice", got)
		}
		if !strings.Contains(strings.Join(git.ops, " "), "approve alice") {
			t.Errorf("fallback must write through to git, ops = %v", git.ops)
		}
	})

	t.Run("last profile deactivates git", func(t *testing.T) {
		store, _, git := newStore(t, Profile{Username: "alice", Token: "t1", IsCurrent: true})

		if err := store.Delete(context.Background(), "alice"); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if len(store.List()) != 0 {
			t.Error("collection should be empty")
		}
		if !strings.Contains(strings.Join(git.ops, " "), "unset user.name") {
			t.Errorf("git identity should be cleared, ops = %v", git.ops)
		}
	})

	t.Run("unknown username", func(t *testing.T) {
		store, _, _ := newStore(t)
		if err := store.Delete(context.Background(), "ghost"); !errors.Is(err, ErrUnknownProfile) {
			t.Errorf("err = %v, want ErrUnknownProfile", err)
		}
	})
}

func TestAddToken(t *testing.T) {
	api := &fakeUserAPI{info: &githubapi.UserInfo{
		Login: "carol", Name: "Carol C", Email: "c@x.com", AvatarURL: "https://avatars.example/carol",
	}}

	t.Run("first profile auto-activates", func(t *testing.T) {
		store, _, git := newStore(t)

		p, err := store.AddToken(context.Background(), api, "gho_tok", "work")
		if err != nil {
			t.Fatalf("AddToken: %v", err)
		}
		if p.Username != "carol" || p.Tag != "work" || !p.IsCurrent {
			t.Errorf("profile = %+v", p)
		}
		if !strings.Contains(strings.Join(git.ops, " "), "approve carol") {
			t.Errorf("auto-activation missing, ops = %v", git.ops)
		}
	})

	t.Run("does not steal activation", func(t *testing.T) {
		store, _, _ := newFakeActivePair(t)

		p, err := store.AddToken(context.Background(), api, "gho_tok", "")
		if err != nil {
			t.Fatal(err)
		}
		if p.IsCurrent {
			t.Error("new profile must not become current while another is active")
		}
		if p.Tag != DefaultTag {
			t.Errorf("Tag = %q, want default", p.Tag)
		}
	})

	t.Run("duplicate", func(t *testing.T) {
		store, _, _ := newStore(t, Profile{Username: "carol", Token: "old"})

		if _, err := store.AddToken(context.Background(), api, "gho_tok", ""); !errors.Is(err, ErrDuplicateProfile) {
			t.Errorf("err = %v, want ErrDuplicateProfile", err)
		}
		p, _ := store.Get("carol")
		if p.Token != "old" {
			t.Error("duplicate add must not overwrite the stored token")
		}
	})

	t.Run("lookup failure", func(t *testing.T) {
		store, _, _ := newStore(t)
		bad := &fakeUserAPI{err: errors.New("401 bad credentials")}

		if _, err := store.AddToken(context.Background(), bad, "bad", ""); err == nil {
			t.Error("expected error")
		}
		if len(store.List()) != 0 {
			t.Error("nothing should be stored")
		}
	})
}

func TestEdit(t *testing.T) {
	strptr := func(s string) *string { return &s }

	t.Run("inactive profile", func(t *testing.T) {
		store, _, git := newFakeActivePair(t)

		err := store.Edit(context.Background(), "bob", Update{Tag: strptr("personal")})
		if err != nil {
			t.Fatal(err)
		}
		p, _ := store.Get("bob")
		if p.Tag != "personal" || p.Name != "Bob B" {
			t.Errorf("profile = %+v", p)
		}
		if len(git.ops) != 0 {
			t.Errorf("editing an inactive profile must not touch git, ops = %v", git.ops)
		}
	})

	t.Run("active profile re-writes git identity", func(t *testing.T) {
		store, _, git := newFakeActivePair(t)

		err := store.Edit(context.Background(), "alice", Update{Name: strptr("Alice Renamed")})
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(strings.Join(git.ops, " "), "set user.name=Alice Renamed") {
			t.Errorf("write-through missing, ops = %v", git.ops)
		}
	})

	t.Run("write-through failure leaves the profile unchanged", func(t *testing.T) {
		store, sec, git := newFakeActivePair(t)
		git.fail["set user.name"] = errors.New("config locked")

		err := store.Edit(context.Background(), "alice", Update{Name: strptr("Alice Renamed")})
		if !errors.Is(err, ErrActivationFailed) {
			t.Fatalf("err = %v, want ErrActivationFailed", err)
		}
		p, _ := store.Get("alice")
		if p.Name != "Alice A" {
			t.Errorf("Name = %q, failed edit must roll back", p.Name)
		}
		var persisted Profile
		raw, _ := sec.Get(Namespace, "alice")
		json.Unmarshal([]byte(raw), &persisted)
		if persisted.Name != "Alice A" {
			t.Errorf("persisted Name = %q, failed edit must not be persisted", persisted.Name)
		}
	})

	t.Run("unknown username", func(t *testing.T) {
		store, _, _ := newStore(t)
		if err := store.Edit(context.Background(), "ghost", Update{}); !errors.Is(err, ErrUnknownProfile) {
			t.Errorf("err = %v, want ErrUnknownProfile", err)
		}
	})
}

func TestRefresh(t *testing.T) {
	t.Run("aligns current flag with git identity", func(t *testing.T) {
		store, _, git := newStore(t,
			Profile{Username: "alice", Token: "t1", Name: "Alice A", Email: "a@x.com", IsCurrent: true},
			Profile{Username: "bob", Token: "t2", Name: "Bob B", Email: "b@x.com"},
		)
		git.snapshot = gitcred.Credential{Username: "bob", Secret: "t2", Name: "Bob B", Email: "b@x.com"}

		if err := store.Refresh(context.Background()); err != nil {
			t.Fatalf("Refresh: %v", err)
		}
		if got := currentUsernames(store); len(got) != 1 || got[0] != "bob" {
			t.Errorf("current = %v, want [bob]", got)
		}
	})

	t.Run("no match clears flags", func(t *testing.T) {
		store, _, git := newStore(t,
			Profile{Username: "alice", Token: "t1", Name: "Alice A", Email: "a@x.com", IsCurrent: true},
		)
		git.snapshot = gitcred.Credential{Name: "Stranger", Email: "x@y.com"}

		if err := store.Refresh(context.Background()); err != nil {
			t.Fatal(err)
		}
		if got := currentUsernames(store); len(got) != 0 {
			t.Errorf("current = %v, want none", got)
		}
	})

	t.Run("empty store imports external credential", func(t *testing.T) {
		store, _, git := newStore(t)
		git.snapshot = gitcred.Credential{Username: "dave", Secret: "t4", Name: "Dave D", Email: "d@x.com"}

		if err := store.Refresh(context.Background()); err != nil {
			t.Fatal(err)
		}
		if got := currentUsernames(store); len(got) != 1 || got[0] != "dave" {
			t.Errorf("current = %v, want imported dave active", got)
		}
	})
}
