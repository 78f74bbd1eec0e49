package engine

import (
	"strings"
	"testing"

	"codeberg.org/dirsync/dirsync/pkg/directory"
	"codeberg.org/dirsync/dirsync/pkg/identity"
	"codeberg.org/dirsync/dirsync/pkg/ledger"
	"codeberg.org/dirsync/dirsync/pkg/settings"
	"codeberg.org/dirsync/dirsync/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func groupEntry(s *settings.Settings, dn, displayName string) *directory.Entry {
	return dirEntry(s, dn, map[string][]string{"displayName": {displayName}})
}

func TestWhitelist_MissingGroupLoggedAndSkipped(t *testing.T) {
	const (
		engDN     = "cn=Eng,ou=groups,dc=example,dc=com"
		missingDN = "cn=Gone,ou=groups,dc=example,dc=com"
	)

	s := syncSettings(t, map[string]string{
		settings.KeySyncMode:  "groupWhitelist",
		settings.KeyAllowedDN: engDN + settings.WhitelistDelim + missingDN,
	})

	dir := &fakeDirectory{
		byDN: map[string]*directory.Entry{engDN: groupEntry(s, engDN, "Eng")},
		members: map[string][]*directory.Entry{
			engDN: {userEntry(s, "cn=Alice,dc=example,dc=com", "alice@example.com")},
		},
	}

	store := newFakeStore()
	r := newRunner(s, dir, store, &fakeRecords{}, &fakeSink{})
	require.NoError(t, r.DoSync())

	assert.Equal(t, 1, r.Summary().UsersAdded)
	assert.Equal(t, 1, r.Summary().GroupsAdded)
	assert.Equal(t, 1, r.Summary().MembershipsAdded)
	assert.Contains(t, r.Messages(), "Unable to find LDAP entity with DN: "+missingDN)

	g, err := store.GroupByName("Eng")
	require.NoError(t, err)
	require.NotNil(t, g)

	members, err := store.ExpandedMembers(g.ID)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, "alice@example.com", members[0].Name)
}

func TestGroupWithoutDisplayNameAbortsRun(t *testing.T) {
	const dn = "cn=Nameless,ou=groups,dc=example,dc=com"

	s := syncSettings(t, map[string]string{settings.KeySyncMode: "usersAndGroups"})
	dir := &fakeDirectory{
		groups: []*directory.Entry{dirEntry(s, dn, map[string][]string{})},
	}

	r := newRunner(s, dir, newFakeStore(), &fakeRecords{}, &fakeSink{})
	err := r.DoSync()
	require.Error(t, err)

	var gerr *GroupNameError
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, dn, gerr.DN)
}

func TestGroupNameSuffixApplied(t *testing.T) {
	const dn = "cn=Eng,ou=groups,dc=example,dc=com"

	s := syncSettings(t, map[string]string{
		settings.KeySyncMode:        "usersAndGroups",
		settings.KeyGroupNameSuffix: " (LDAP)",
	})
	dir := &fakeDirectory{groups: []*directory.Entry{groupEntry(s, dn, "Eng")}}

	store := newFakeStore()
	r := newRunner(s, dir, store, &fakeRecords{}, &fakeSink{})
	require.NoError(t, r.DoSync())

	g, err := store.GroupByName("Eng (LDAP)")
	require.NoError(t, err)
	assert.NotNil(t, g)
}

func TestMembership_Mirror(t *testing.T) {
	const dn = "cn=Eng,ou=groups,dc=example,dc=com"

	s := syncSettings(t, map[string]string{
		settings.KeySyncMode:       "usersAndGroups",
		settings.KeyMemberSyncMode: "mirror",
	})

	alice := userEntry(s, "cn=Alice,dc=example,dc=com", "alice@example.com")
	dir := &fakeDirectory{
		users:   []*directory.Entry{alice},
		groups:  []*directory.Entry{groupEntry(s, dn, "Eng")},
		members: map[string][]*directory.Entry{dn: {alice}},
	}

	store := newFakeStore()
	g := store.addGroup("Eng")
	carol := store.addUser("carol@example.com", true)
	require.NoError(t, store.AddMember(g.ID, identity.Principal{ID: carol.ID, Type: identity.TypeUser, Name: carol.Email}))

	r := newRunner(s, dir, store, &fakeRecords{}, &fakeSink{})
	require.NoError(t, r.DoSync())

	assert.Equal(t, 1, r.Summary().MembershipsAdded)
	assert.Equal(t, 1, r.Summary().MembershipsRemoved)

	members, err := store.ExpandedMembers(g.ID)
	require.NoError(t, err)

	names := make([]string, 0, len(members))
	for _, m := range members {
		names = append(names, m.Name)
	}
	assert.True(t, utils.SetsAreEqual([]string{"alice@example.com"}, names),
		"local membership must exactly match the directory, got %v", names)
}

func TestMembership_NoActionKeepsLocalMembers(t *testing.T) {
	const dn = "cn=Eng,ou=groups,dc=example,dc=com"

	s := syncSettings(t, map[string]string{
		settings.KeySyncMode:       "usersAndGroups",
		settings.KeyMemberSyncMode: "noAction",
	})

	alice := userEntry(s, "cn=Alice,dc=example,dc=com", "alice@example.com")
	dir := &fakeDirectory{
		users:   []*directory.Entry{alice},
		groups:  []*directory.Entry{groupEntry(s, dn, "Eng")},
		members: map[string][]*directory.Entry{dn: {alice}},
	}

	store := newFakeStore()
	g := store.addGroup("Eng")
	carol := store.addUser("carol@example.com", true)
	require.NoError(t, store.AddMember(g.ID, identity.Principal{ID: carol.ID, Type: identity.TypeUser, Name: carol.Email}))

	r := newRunner(s, dir, store, &fakeRecords{}, &fakeSink{})
	require.NoError(t, r.DoSync())

	assert.Equal(t, 1, r.Summary().MembershipsAdded)
	assert.Equal(t, 0, r.Summary().MembershipsRemoved)

	members, err := store.ExpandedMembers(g.ID)
	require.NoError(t, err)
	assert.Len(t, members, 2)
}

func TestMembership_RemoveDeletedLdapUsers(t *testing.T) {
	const dn = "cn=Eng,ou=groups,dc=example,dc=com"

	s := syncSettings(t, map[string]string{
		settings.KeySyncMode:       "usersAndGroups",
		settings.KeyMemberSyncMode: "removeDeletedLdapUsers",
	})

	alice := userEntry(s, "cn=Alice,dc=example,dc=com", "alice@example.com")
	dave := userEntry(s, "cn=Dave,dc=example,dc=com", "dave@example.com")
	dir := &fakeDirectory{
		// Dave exists in the directory but is no longer a member of Eng.
		users:   []*directory.Entry{alice, dave},
		groups:  []*directory.Entry{groupEntry(s, dn, "Eng")},
		members: map[string][]*directory.Entry{dn: {alice}},
	}

	store := newFakeStore()
	g := store.addGroup("Eng")
	daveLocal := store.addUser("dave@example.com", true)
	carol := store.addUser("carol@example.com", true)
	nested := store.addGroup("Nested")
	require.NoError(t, store.AddMember(g.ID, identity.Principal{ID: daveLocal.ID, Type: identity.TypeUser, Name: daveLocal.Email}))
	require.NoError(t, store.AddMember(g.ID, identity.Principal{ID: carol.ID, Type: identity.TypeUser, Name: carol.Email}))
	require.NoError(t, store.AddMember(g.ID, identity.Principal{ID: nested.ID, Type: identity.TypeGroup, Name: nested.Name}))

	r := newRunner(s, dir, store, &fakeRecords{}, &fakeSink{})
	require.NoError(t, r.DoSync())

	assert.Equal(t, 1, r.Summary().MembershipsRemoved)

	members, err := store.ExpandedMembers(g.ID)
	require.NoError(t, err)

	names := make([]string, 0, len(members))
	for _, m := range members {
		names = append(names, m.Name)
	}
	assert.NotContains(t, names, "dave@example.com", "directory users removed from the group are dropped")
	assert.Contains(t, names, "carol@example.com", "members never sourced from the directory are kept")
	assert.Contains(t, names, "Nested", "nested groups are kept")
}

func TestMembership_MemberWithoutLocalUserLogged(t *testing.T) {
	const (
		engDN = "cn=Eng,ou=groups,dc=example,dc=com"
	)

	s := syncSettings(t, map[string]string{settings.KeySyncMode: "usersAndGroups"})

	// A member outside the user search base: present in the group, never
	// synced as a user.
	outsider := userEntry(s, "cn=Out,ou=elsewhere,dc=example,dc=com", "out@example.com")
	dir := &fakeDirectory{
		groups:  []*directory.Entry{groupEntry(s, engDN, "Eng")},
		members: map[string][]*directory.Entry{engDN: {outsider}},
	}

	store := newFakeStore()
	r := newRunner(s, dir, store, &fakeRecords{}, &fakeSink{})
	require.NoError(t, r.DoSync())

	assert.Equal(t, 0, r.Summary().MembershipsAdded)

	found := false
	for _, m := range r.Messages() {
		if strings.Contains(m, "User not found locally") {
			found = true
		}
	}
	assert.True(t, found)
}

func TestRemovedGroup_DeletePolicy(t *testing.T) {
	s := syncSettings(t, map[string]string{
		settings.KeySyncMode:    "usersAndGroups",
		settings.KeyGroupDelete: "delete",
	})

	store := newFakeStore()
	g := store.addGroup("Old Team")
	records := &fakeRecords{rows: []ledger.Record{{
		Provider:    "ldap.example.com",
		ExternalID:  "cn=Old Team,ou=groups,dc=example,dc=com",
		PrincipalID: g.ID,
		Type:        identity.TypeGroup,
	}}}

	r := newRunner(s, &fakeDirectory{}, store, records, &fakeSink{})
	require.NoError(t, r.DoSync())

	assert.Equal(t, 1, r.Summary().GroupsRemoved)
	assert.Equal(t, 1, store.deleteGroupCalls)
	assert.NotContains(t, store.groupsByID, g.ID)
}

func TestRemovedGroup_DefaultPolicyKeepsGroup(t *testing.T) {
	s := syncSettings(t, map[string]string{settings.KeySyncMode: "usersAndGroups"})

	store := newFakeStore()
	g := store.addGroup("Old Team")
	records := &fakeRecords{rows: []ledger.Record{{
		Provider:    "ldap.example.com",
		ExternalID:  "cn=Old Team,ou=groups,dc=example,dc=com",
		PrincipalID: g.ID,
		Type:        identity.TypeGroup,
	}}}

	r := newRunner(s, &fakeDirectory{}, store, records, &fakeSink{})
	require.NoError(t, r.DoSync())

	assert.Equal(t, 0, r.Summary().GroupsRemoved)
	assert.Contains(t, store.groupsByID, g.ID)
}

func TestDisabledGroupTreatedAsAbsent(t *testing.T) {
	const dn = "cn=Eng,ou=groups,dc=example,dc=com"

	s := syncSettings(t, map[string]string{
		settings.KeySyncMode:           "usersAndGroups",
		settings.KeyGroupDelete:        "delete",
		settings.KeyUserAccountControl: "true",
	})

	disabled := dirEntry(s, dn, map[string][]string{
		"displayName":        {"Eng"},
		"userAccountControl": {"514"},
	})
	dir := &fakeDirectory{groups: []*directory.Entry{disabled}}

	store := newFakeStore()
	g := store.addGroup("Eng")
	records := &fakeRecords{rows: []ledger.Record{{
		Provider:    "ldap.example.com",
		ExternalID:  dn,
		PrincipalID: g.ID,
		Type:        identity.TypeGroup,
	}}}

	r := newRunner(s, dir, store, records, &fakeSink{})
	require.NoError(t, r.DoSync())

	assert.Equal(t, 1, r.Summary().GroupsRemoved)
	assert.NotContains(t, store.groupsByID, g.ID)
}
