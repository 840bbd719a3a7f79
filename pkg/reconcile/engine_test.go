// Copyright 2025 hubdir Authors
// SPDX-License-Identifier: Apache-2.0

package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/flowkode/hubdir/pkg/directory"
	"github.com/flowkode/hubdir/pkg/hub"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeHub serves a fixed dataset through the hub.Client surface and records
// the offsets the engine paged with.
type fakeHub struct {
	groups []hub.Group
	users  []hub.User
	keys   map[string][]hub.SSHKey

	loginErr    error
	groupsErrAt int
	usersErrAt  int

	getUserOverride map[string]*hub.User
	getUserErr      map[string]error

	groupOffsets []int
	userOffsets  []int
}

func newFakeHub() *fakeHub {
	return &fakeHub{
		keys:        make(map[string][]hub.SSHKey),
		groupsErrAt: -1,
		usersErrAt:  -1,
	}
}

func (f *fakeHub) ServiceLogin(ctx context.Context) (string, error) {
	if f.loginErr != nil {
		return "", f.loginErr
	}
	return "service-token", nil
}

func (f *fakeHub) CheckCredentials(ctx context.Context, username, password string) error {
	return errors.New("not used by the engine")
}

func (f *fakeHub) ListGroups(ctx context.Context, token string, skip, top int) (*hub.GroupsPage, error) {
	f.groupOffsets = append(f.groupOffsets, skip)
	if skip == f.groupsErrAt {
		return nil, errors.New("groups endpoint unavailable")
	}
	page := &hub.GroupsPage{Skip: skip, Top: top, Total: len(f.groups)}
	for i := skip; i < len(f.groups) && i < skip+top; i++ {
		page.Groups = append(page.Groups, f.groups[i])
	}
	return page, nil
}

func (f *fakeHub) ListUsers(ctx context.Context, token string, skip, top int) (*hub.UsersPage, error) {
	f.userOffsets = append(f.userOffsets, skip)
	if skip == f.usersErrAt {
		return nil, errors.New("users endpoint unavailable")
	}
	page := &hub.UsersPage{Skip: skip, Top: top, Total: len(f.users)}
	for i := skip; i < len(f.users) && i < skip+top; i++ {
		page.Users = append(page.Users, f.users[i])
	}
	return page, nil
}

func (f *fakeHub) ListSSHKeys(ctx context.Context, token, userID string, skip, top int) (*hub.SSHKeysPage, error) {
	keys := f.keys[userID]
	page := &hub.SSHKeysPage{Skip: skip, Top: top, Total: len(keys)}
	for i := skip; i < len(keys) && i < skip+top; i++ {
		page.Keys = append(page.Keys, keys[i])
	}
	return page, nil
}

func (f *fakeHub) GetUser(ctx context.Context, token, id string) (*hub.User, error) {
	if err, ok := f.getUserErr[id]; ok {
		return nil, err
	}
	if u, ok := f.getUserOverride[id]; ok {
		return u, nil
	}
	for i := range f.users {
		if f.users[i].ID == id {
			u := f.users[i]
			return &u, nil
		}
	}
	return nil, hub.ErrNotFound
}

func (f *fakeHub) GetGroup(ctx context.Context, token, id string) (*hub.Group, error) {
	for i := range f.groups {
		if f.groups[i].ID == id {
			g := f.groups[i]
			return &g, nil
		}
	}
	return nil, hub.ErrNotFound
}

func makeUser(id, name, login, email string, groups ...hub.Group) hub.User {
	u := hub.User{ID: id, Name: name, Login: login, Groups: groups}
	if email != "" {
		u.Profile = &hub.Profile{Email: &hub.Email{Email: email}}
	}
	return u
}

func newTestEngine(t *testing.T, h *fakeHub, cfg Config) (*Engine, *directory.MemoryStore) {
	t.Helper()
	store := directory.NewMemoryStore()
	require.NoError(t, directory.Bootstrap(context.Background(), store, cfg.RootDN))
	return NewEngine(h, store, cfg), store
}

func TestRunCycle_MirrorsUsersAndGroups(t *testing.T) {
	t.Parallel()

	h := newFakeHub()
	dev := hub.Group{ID: "g-dev", Name: "Developers"}
	h.groups = []hub.Group{dev}
	h.users = []hub.User{
		makeUser("u-alice", "Alice A", "alice", "alice@example.com", dev),
		makeUser("u-bob", "Bob B", "bob", ""),
	}

	engine, store := newTestEngine(t, h, Config{RootDN: "dc=hub"})
	res := engine.RunCycle(context.Background())

	require.NoError(t, res.Err)
	assert.Equal(t, 1, res.GroupsLoaded)
	assert.Equal(t, 2, res.UsersLoaded)
	assert.Zero(t, res.UsersPurged)
	assert.Zero(t, res.GroupsPurged)

	ctx := context.Background()

	alice, err := store.Get(ctx, "cn=Alice A,ou=Users,dc=hub")
	require.NoError(t, err)
	assert.Equal(t, "alice", alice.First("uid"))
	assert.Equal(t, "alice@example.com", alice.First("mail"))
	assert.Equal(t, "u-alice", alice.First("description"))
	assert.Equal(t, []string{"cn=Developers,ou=Groups,dc=hub"}, alice.Attributes["memberOf"])
	assert.Contains(t, alice.Attributes["objectClass"], "inetOrgPerson")

	bob, err := store.Get(ctx, "cn=Bob B,ou=Users,dc=hub")
	require.NoError(t, err)
	assert.Equal(t, "", bob.First("mail"))
	assert.Empty(t, bob.Attributes["memberOf"])

	group, err := store.Get(ctx, "cn=Developers,ou=Groups,dc=hub")
	require.NoError(t, err)
	assert.Equal(t, "g-dev", group.First("description"))
	assert.Equal(t, []string{"dc=hub", "cn=Alice A,ou=Users,dc=hub"}, group.Attributes["member"])
}

func TestRunCycle_PagesUntilTotal(t *testing.T) {
	t.Parallel()

	h := newFakeHub()
	for i := 0; i < 25; i++ {
		h.groups = append(h.groups, hub.Group{ID: groupID(i), Name: groupName(i)})
	}

	engine, _ := newTestEngine(t, h, Config{RootDN: "dc=hub", PageSize: 10})
	res := engine.RunCycle(context.Background())

	require.NoError(t, res.Err)
	assert.Equal(t, 25, res.GroupsLoaded)
	assert.Equal(t, []int{0, 10, 20}, h.groupOffsets)
	// An empty user list still needs one probe to learn the total.
	assert.Equal(t, []int{0}, h.userOffsets)
}

func groupID(i int) string   { return "g-" + string(rune('a'+i/10)) + string(rune('a'+i%10)) }
func groupName(i int) string { return "team-" + string(rune('a'+i/10)) + string(rune('a'+i%10)) }

func TestRunCycle_Idempotent(t *testing.T) {
	t.Parallel()

	h := newFakeHub()
	dev := hub.Group{ID: "g-dev", Name: "Developers"}
	ops := hub.Group{ID: "g-ops", Name: "Operations"}
	h.groups = []hub.Group{dev, ops}
	h.users = []hub.User{
		makeUser("u-alice", "Alice A", "alice", "alice@example.com", dev, ops),
		makeUser("u-bob", "Bob B", "bob", "bob@example.com", ops),
	}

	engine, store := newTestEngine(t, h, Config{RootDN: "dc=hub"})

	require.NoError(t, engine.RunCycle(context.Background()).Err)
	first := store.Dump()

	require.NoError(t, engine.RunCycle(context.Background()).Err)
	second := store.Dump()

	assert.Empty(t, cmp.Diff(first, second))
}

func TestRunCycle_ConvergesFromStaleState(t *testing.T) {
	t.Parallel()

	h := newFakeHub()
	dev := hub.Group{ID: "g-dev", Name: "Developers"}
	h.groups = []hub.Group{dev}
	h.users = []hub.User{makeUser("u-alice", "Alice A", "alice", "", dev)}

	engine, store := newTestEngine(t, h, Config{RootDN: "dc=hub"})
	ctx := context.Background()

	// Leftovers from a previous life of the mirror.
	require.NoError(t, store.Upsert(ctx, "cn=Ghost,ou=Users,dc=hub", map[string][]string{
		"objectClass": {"top", "person", "organizationalPerson", "inetOrgPerson"},
		"cn":          {"Ghost"},
		"description": {"u-ghost"},
	}))
	require.NoError(t, store.Upsert(ctx, "cn=Disbanded,ou=Groups,dc=hub", map[string][]string{
		"objectClass": {"top", "groupOfNames"},
		"cn":          {"Disbanded"},
		"description": {"g-disbanded"},
		"member":      {"dc=hub"},
	}))

	res := engine.RunCycle(ctx)
	require.NoError(t, res.Err)
	assert.Equal(t, 1, res.UsersPurged)
	assert.Equal(t, 1, res.GroupsPurged)

	_, err := store.Get(ctx, "cn=Ghost,ou=Users,dc=hub")
	assert.ErrorIs(t, err, directory.ErrEntryNotFound)
	_, err = store.Get(ctx, "cn=Disbanded,ou=Groups,dc=hub")
	assert.ErrorIs(t, err, directory.ErrEntryNotFound)

	_, err = store.Get(ctx, "cn=Alice A,ou=Users,dc=hub")
	assert.NoError(t, err)
	_, err = store.Get(ctx, "cn=Developers,ou=Groups,dc=hub")
	assert.NoError(t, err)
}

func TestRunCycle_PurgesReusedID(t *testing.T) {
	t.Parallel()

	h := newFakeHub()
	h.getUserOverride = map[string]*hub.User{
		// Lookup by the old id answers with a different id: the id was
		// recycled and the mirrored entry no longer matches anyone.
		"u-old": {ID: "u-new", Name: "Newcomer", Login: "newcomer"},
	}

	engine, store := newTestEngine(t, h, Config{RootDN: "dc=hub"})
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, "cn=Oldtimer,ou=Users,dc=hub", map[string][]string{
		"objectClass": {"top", "person"},
		"cn":          {"Oldtimer"},
		"description": {"u-old"},
	}))

	res := engine.RunCycle(ctx)
	require.NoError(t, res.Err)
	assert.Equal(t, 1, res.UsersPurged)

	_, err := store.Get(ctx, "cn=Oldtimer,ou=Users,dc=hub")
	assert.ErrorIs(t, err, directory.ErrEntryNotFound)
}

func TestRunCycle_KeepsEntryOnProbeError(t *testing.T) {
	t.Parallel()

	h := newFakeHub()
	h.getUserErr = map[string]error{"u-flaky": errors.New("hub hiccup")}

	engine, store := newTestEngine(t, h, Config{RootDN: "dc=hub"})
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, "cn=Flaky,ou=Users,dc=hub", map[string][]string{
		"objectClass": {"top", "person"},
		"cn":          {"Flaky"},
		"description": {"u-flaky"},
	}))

	res := engine.RunCycle(ctx)
	require.NoError(t, res.Err)
	assert.Zero(t, res.UsersPurged)

	_, err := store.Get(ctx, "cn=Flaky,ou=Users,dc=hub")
	assert.NoError(t, err)
}

func TestRunCycle_SkipsUserPurgeOnPartialLoad(t *testing.T) {
	t.Parallel()

	h := newFakeHub()
	h.groups = []hub.Group{{ID: "g-dev", Name: "Developers"}}
	for i := 0; i < 15; i++ {
		h.users = append(h.users, makeUser(groupID(i), "User "+groupName(i), "login-"+groupName(i), ""))
	}
	h.usersErrAt = 10

	engine, store := newTestEngine(t, h, Config{RootDN: "dc=hub", PageSize: 10})
	ctx := context.Background()

	// Would be purged by a complete cycle.
	require.NoError(t, store.Upsert(ctx, "cn=Ghost,ou=Users,dc=hub", map[string][]string{
		"objectClass": {"top", "person"},
		"cn":          {"Ghost"},
		"description": {"u-ghost"},
	}))
	require.NoError(t, store.Upsert(ctx, "cn=Disbanded,ou=Groups,dc=hub", map[string][]string{
		"objectClass": {"top", "groupOfNames"},
		"cn":          {"Disbanded"},
		"description": {"g-disbanded"},
		"member":      {"dc=hub"},
	}))

	res := engine.RunCycle(ctx)
	require.Error(t, res.Err)
	assert.Equal(t, 10, res.UsersLoaded)
	assert.Zero(t, res.UsersPurged)

	// The user load failing must not block the group purge: its own load
	// phase completed.
	assert.Equal(t, 1, res.GroupsPurged)

	_, err := store.Get(ctx, "cn=Ghost,ou=Users,dc=hub")
	assert.NoError(t, err)
	_, err = store.Get(ctx, "cn=Disbanded,ou=Groups,dc=hub")
	assert.ErrorIs(t, err, directory.ErrEntryNotFound)
}

func TestRunCycle_AbortsWhenServiceLoginFails(t *testing.T) {
	t.Parallel()

	h := newFakeHub()
	h.loginErr = errors.New("hub credentials rejected")
	h.groups = []hub.Group{{ID: "g-dev", Name: "Developers"}}

	engine, store := newTestEngine(t, h, Config{RootDN: "dc=hub"})
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, "cn=Ghost,ou=Users,dc=hub", map[string][]string{
		"objectClass": {"top", "person"},
		"cn":          {"Ghost"},
		"description": {"u-ghost"},
	}))
	before := store.Dump()

	res := engine.RunCycle(ctx)
	require.Error(t, res.Err)
	assert.Zero(t, res.GroupsLoaded)
	assert.Zero(t, res.UsersLoaded)
	assert.Zero(t, res.UsersPurged)
	assert.Zero(t, res.GroupsPurged)
	assert.Empty(t, h.groupOffsets)

	assert.Empty(t, cmp.Diff(before, store.Dump()))
}

func TestRunCycle_SkipsUnknownMembership(t *testing.T) {
	t.Parallel()

	h := newFakeHub()
	h.users = []hub.User{
		makeUser("u-alice", "Alice A", "alice", "", hub.Group{ID: "g-unseen", Name: "Unseen"}),
	}

	engine, store := newTestEngine(t, h, Config{RootDN: "dc=hub"})
	res := engine.RunCycle(context.Background())

	require.NoError(t, res.Err)
	assert.Equal(t, 1, res.UsersLoaded)

	alice, err := store.Get(context.Background(), "cn=Alice A,ou=Users,dc=hub")
	require.NoError(t, err)
	assert.Empty(t, alice.Attributes["memberOf"])
}

func TestRunCycle_SyncsSSHKeys(t *testing.T) {
	t.Parallel()

	h := newFakeHub()
	h.users = []hub.User{makeUser("u-alice", "Alice A", "alice", "")}
	h.keys["u-alice"] = []hub.SSHKey{
		{FingerPrint: "aa:bb", OpenSSHKey: "ssh-ed25519 AAAA alice@laptop"},
		{FingerPrint: "cc:dd", Data: "AAAAB3NzaC1yc2E"},
	}

	engine, store := newTestEngine(t, h, Config{RootDN: "dc=hub", SyncSSHKeys: true})
	res := engine.RunCycle(context.Background())

	require.NoError(t, res.Err)

	alice, err := store.Get(context.Background(), "cn=Alice A,ou=Users,dc=hub")
	require.NoError(t, err)
	assert.Contains(t, alice.Attributes["objectClass"], "ldapPublicKey")
	assert.Equal(t, []string{"ssh-ed25519 AAAA alice@laptop", "AAAAB3NzaC1yc2E"}, alice.Attributes["sshPublicKey"])
}
