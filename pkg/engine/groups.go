package engine

import (
	"codeberg.org/dirsync/dirsync/pkg/directory"
	"codeberg.org/dirsync/dirsync/pkg/identity"
	"codeberg.org/dirsync/dirsync/pkg/settings"
	"codeberg.org/dirsync/dirsync/pkg/utils"
)

// syncGroupsAndMembers reconciles the given whitelist of group DNs, or
// every directory group when whitelist is nil.
func (r *Runner) syncGroupsAndMembers(whitelist []string) error {
	var groups []*directory.Entry
	if whitelist == nil {
		var err error
		groups, err = r.dir.ListGroups()
		if err != nil {
			return err
		}
	} else {
		for _, dn := range whitelist {
			group, err := r.dir.GetGroup(dn)
			if err != nil {
				// a single unreadable whitelist entry is not fatal
				r.log(err.Error())
				continue
			}
			if group == nil {
				r.log("Unable to find LDAP entity with DN: " + dn)
				continue
			}
			groups = append(groups, group)
		}
	}

	for _, group := range groups {
		if err := r.syncGroupAndMembers(group); err != nil {
			return err
		}
	}

	return r.handleGroupsRemovedFromDirectory()
}

func (r *Runner) groupName(group *directory.Entry) (string, error) {
	name := group.DisplayName()
	if name == "" {
		return "", &GroupNameError{DN: group.DN()}
	}

	// the suffix is appended untrimmed so admins can include leading
	// whitespace, e.g. " (LDAP)"
	return name + r.settings.GroupNameSuffix, nil
}

func (r *Runner) syncGroupAndMembers(group *directory.Entry) error {
	name, err := r.groupName(group)
	if err != nil {
		return err
	}

	existing, err := r.store.GroupByName(name)
	if err != nil {
		return err
	}

	if !group.Enabled() {
		// treated as absent so the removal sweep deletes it downstream
		existing = nil
	} else if existing == nil {
		existing, err = r.createGroup(name)
		if err != nil {
			return err
		}
	}
	// groups carry no other synced attributes; membership is handled below

	if existing == nil {
		return nil
	}

	r.groupsSynced[group.DN()] = existing.ID
	return r.syncGroupMembership(group, existing)
}

func (r *Runner) createGroup(name string) (*identity.Group, error) {
	r.log("Creating group from directory: " + name)
	r.summary.GroupsAdded++

	if r.previewOnly {
		return nil, nil
	}
	return r.store.CreateGroup(name)
}

// syncGroupMembership makes the local group's member set agree with the
// directory's, to the degree the member-sync mode allows.
func (r *Runner) syncGroupMembership(group *directory.Entry, existingGroup *identity.Group) error {
	children, err := r.dir.GroupMembers(group.DN())
	if err != nil {
		return err
	}

	// may include inactive users; that is fine for membership purposes
	existingMembers, err := r.store.ExpandedMembers(existingGroup.ID)
	if err != nil {
		return err
	}
	memberIDs := make(map[int]bool, len(existingMembers))
	for _, m := range existingMembers {
		memberIDs[m.ID] = true
	}

	dirMemberIDs := make(map[int]bool, len(children))
	for _, child := range children {
		email, ok := child.ValidEmail()
		var u *identity.User
		if ok {
			if u, err = r.store.UserByEmail(email); err != nil {
				return err
			}
		}
		if u == nil {
			r.log("User not found locally: " + child.DisplayName() + ", cannot add to group: " + existingGroup.Name)
			continue
		}

		dirMemberIDs[u.ID] = true

		if !memberIDs[u.ID] {
			if err := r.addMember(existingGroup, identity.Principal{ID: u.ID, Type: identity.TypeUser, Name: u.Email}); err != nil {
				return err
			}
		}
	}

	if r.settings.MemberSyncMode == settings.MemberSyncNoAction {
		return nil
	}

	// refresh after the adds above
	existingMembers, err = r.store.ExpandedMembers(existingGroup.ID)
	if err != nil {
		return err
	}

	for _, member := range existingMembers {
		if dirMemberIDs[member.ID] {
			continue
		}

		switch r.settings.MemberSyncMode {
		case settings.MemberSyncMirror:
			// local membership must exactly match the directory
			if err := r.removeMember(existingGroup, member); err != nil {
				return err
			}

		case settings.MemberSyncRemoveDeletedUsers:
			// only drop users this sync has itself brought over; nested
			// groups and members it never touched are left alone
			if member.Type == identity.TypeGroup {
				continue
			}
			if utils.ContainsValue(r.usersSynced, member.ID) {
				if err := r.removeMember(existingGroup, member); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

func (r *Runner) addMember(g *identity.Group, p identity.Principal) error {
	r.log("Adding member: " + p.Name + " to group: " + g.Name)
	r.summary.MembershipsAdded++

	if r.previewOnly {
		return nil
	}
	return r.store.AddMember(g.ID, p)
}

func (r *Runner) removeMember(g *identity.Group, p identity.Principal) error {
	r.log("Removing member: " + p.Name + " from group: " + g.Name)
	r.summary.MembershipsRemoved++

	if r.previewOnly {
		return nil
	}
	return r.store.RemoveMember(g.ID, p)
}

// handleGroupsRemovedFromDirectory deletes previously synced groups
// absent from this run, when the deletion policy says so. There is no
// group deactivation concept.
func (r *Runner) handleGroupsRemovedFromDirectory() error {
	if !r.settings.DeleteGroupWhenRemoved() {
		return nil
	}

	for externalID, rec := range r.prior {
		if rec.Type != identity.TypeGroup {
			continue
		}
		if _, ok := r.groupsSynced[externalID]; ok {
			continue
		}

		toRemove, err := r.store.GroupByID(rec.PrincipalID)
		if err != nil {
			return err
		}
		if toRemove == nil {
			continue
		}

		if err := r.deleteGroup(toRemove); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) deleteGroup(g *identity.Group) error {
	r.log("Deleting group: " + g.Name)
	r.summary.GroupsRemoved++

	if r.previewOnly {
		return nil
	}
	return r.store.DeleteGroup(g.ID)
}
