package engine

import "fmt"

// Summary holds the per-run counters. Preview runs count exactly what a
// real run would have done.
type Summary struct {
	UsersAdded       int
	UsersRemoved     int
	UsersInactivated int
	UsersModified    int

	GroupsAdded   int
	GroupsRemoved int

	MembershipsAdded   int
	MembershipsRemoved int
}

func (s Summary) String() string {
	return fmt.Sprintf(
		"LDAP Sync Summary: users added: %d, users removed: %d, users inactivated: %d, users modified: %d, groups added: %d, groups removed: %d, memberships added: %d, memberships removed: %d",
		s.UsersAdded, s.UsersRemoved, s.UsersInactivated, s.UsersModified,
		s.GroupsAdded, s.GroupsRemoved, s.MembershipsAdded, s.MembershipsRemoved)
}

// HasChanges reports whether the run touched anything.
func (s Summary) HasChanges() bool {
	return s != Summary{}
}

// GroupNameError aborts a run: without a display name there is no key
// to reconcile the group under.
type GroupNameError struct {
	DN string
}

func (e *GroupNameError) Error() string {
	return "unable to find display name for group: " + e.DN
}
