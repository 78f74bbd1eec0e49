// Package engine implements one reconciliation run against the
// directory: deciding which local users and groups to create, update,
// deactivate or delete, and applying membership deltas, under the
// configured sync and member-sync policies.
package engine

import (
	"codeberg.org/dirsync/dirsync/pkg/directory"
	"codeberg.org/dirsync/dirsync/pkg/identity"
	"codeberg.org/dirsync/dirsync/pkg/ledger"
	"codeberg.org/dirsync/dirsync/pkg/settings"
	"go.uber.org/zap"

	"codeberg.org/dirsync/dirsync/pkg/audit"
)

// RecordStore is the slice of the sync-record ledger the engine needs.
type RecordStore interface {
	RecordsForProvider(provider string) (map[string]ledger.Record, error)
	InsertMissing(provider, externalID string, principalID int, t identity.PrincipalType) error
	PrincipalIDs(t identity.PrincipalType) ([]int, error)
}

// Runner performs a single sync run. It accumulates run state and is
// not reusable; build a fresh Runner per run.
type Runner struct {
	settings *settings.Settings
	dir      directory.Directory
	store    identity.Store
	records  RecordStore
	sink     audit.Sink
	logger   *zap.Logger

	previewOnly     bool
	detailedLogging bool

	provider     string
	prior        map[string]ledger.Record
	usersSynced  map[string]int
	groupsSynced map[string]int
	messages     []string
	summary      Summary
}

func New(
	s *settings.Settings,
	dir directory.Directory,
	store identity.Store,
	records RecordStore,
	sink audit.Sink,
	logger *zap.Logger,
) *Runner {
	return &Runner{
		settings:        s,
		dir:             dir,
		store:           store,
		records:         records,
		sink:            sink,
		logger:          logger,
		detailedLogging: true,
		usersSynced:     make(map[string]int),
		groupsSynced:    make(map[string]int),
	}
}

// SetPreviewOnly switches the run to read-only: every mutation is
// logged and counted but not applied, and neither the ledger nor the
// audit sink is written.
func (r *Runner) SetPreviewOnly(preview bool) {
	r.previewOnly = preview
}

func (r *Runner) SetDetailedLogging(enabled bool) {
	r.detailedLogging = enabled
}

// Messages returns the human-readable log lines collected so far,
// independent of whether detailed logging is on.
func (r *Runner) Messages() []string {
	return r.messages
}

func (r *Runner) Summary() Summary {
	return r.summary
}

// DoSync validates settings and performs one full run.
func (r *Runner) DoSync() error {
	r.logger.Info("LDAP sync started")

	// a preview run ignores the enabled flag
	if !r.settings.Enabled && !r.previewOnly {
		r.log("Sync not enabled, aborting")
		return nil
	}

	if err := r.settings.Validate(); err != nil {
		return err
	}

	return r.performSync()
}

func (r *Runner) performSync() error {
	if err := r.reconcile(); err != nil {
		return err
	}

	r.logger.Info("LDAP sync complete")

	r.log(r.summary.String())
	r.finalize()
	return nil
}

// reconcile is the connected portion of the run. Disconnect is always
// attempted, and a disconnect problem never masks the run's error.
func (r *Runner) reconcile() error {
	if err := r.dir.Connect(); err != nil {
		return err
	}
	defer r.dir.Disconnect()

	r.provider = r.dir.Provider()

	prior, err := r.records.RecordsForProvider(r.provider)
	if err != nil {
		return err
	}
	r.prior = prior

	switch r.settings.SyncMode {
	case settings.SyncUsersOnly:
		return r.syncAllUsers()

	case settings.SyncGroupWhitelist:
		for _, dn := range r.settings.GroupWhitelist {
			members, err := r.dir.GroupMembers(dn)
			if err != nil {
				return err
			}
			for _, member := range members {
				if err := r.syncUser(member); err != nil {
					return err
				}
			}
		}
		if err := r.handleUsersRemovedFromDirectory(); err != nil {
			return err
		}
		return r.syncGroupsAndMembers(r.settings.GroupWhitelist)

	case settings.SyncUsersAndGroups:
		if err := r.syncAllUsers(); err != nil {
			return err
		}
		return r.syncGroupsAndMembers(nil)
	}

	return nil
}

func (r *Runner) syncAllUsers() error {
	users, err := r.dir.ListUsers()
	if err != nil {
		return err
	}
	for _, entry := range users {
		if err := r.syncUser(entry); err != nil {
			return err
		}
	}

	return r.handleUsersRemovedFromDirectory()
}

// syncUser reconciles one directory user. Entries without a usable
// email are skipped entirely: not created, not updated, and absent from
// this run's synced-user map.
func (r *Runner) syncUser(entry *directory.Entry) error {
	email, ok := entry.ValidEmail()
	if !ok {
		r.log("Unable to resolve email for user with the displayName/login of: " + entry.DisplayName() + " / " + entry.UID() + ".  The directory record listed the email as: " + entry.Email())
		return nil
	}

	existing, err := r.store.UserByEmail(email)
	if err != nil {
		return err
	}

	if existing != nil {
		// Disable locally when the directory disables, but never the
		// reverse: a user can be deactivated locally on purpose, and
		// directory deactivation often lags a departure.
		if !entry.Enabled() && existing.Active {
			if err := r.setUserActive(existing, false, "copied from the directory entry"); err != nil {
				return err
			}
		}

		if r.settings.OverwriteUserInfo {
			if err := r.syncUserAttributes(entry, existing); err != nil {
				return err
			}
		}
	} else if entry.Enabled() {
		existing, err = r.createUser(entry, email)
		if err != nil {
			return err
		}
	}

	if existing != nil {
		r.usersSynced[entry.DN()] = existing.ID
	}
	return nil
}

func (r *Runner) createUser(entry *directory.Entry, email string) (*identity.User, error) {
	r.log("Creating user from directory: " + email)
	r.summary.UsersAdded++

	if r.previewOnly {
		return nil, nil
	}

	return r.store.CreateUser(identity.NewUser{
		Email:       email,
		DisplayName: entry.DisplayName(),
		FirstName:   entry.FirstName(),
		LastName:    entry.LastName(),
		Phone:       entry.Phone(),
		IM:          entry.IM(),
	})
}

// syncUserAttributes applies changed directory fields to the local user
// in one update.
func (r *Runner) syncUserAttributes(entry *directory.Entry, existing *identity.User) error {
	changed := false

	if v := entry.FirstName(); v != "" && v != existing.FirstName {
		changed = true
		existing.FirstName = v
	}
	if v := entry.LastName(); v != "" && v != existing.LastName {
		changed = true
		existing.LastName = v
	}
	if v := entry.Phone(); v != "" && directory.FormatPhone(v) != directory.FormatPhone(existing.Phone) {
		changed = true
		existing.Phone = v
	}
	if v := entry.Email(); v != "" && v != existing.Email {
		changed = true
		existing.Email = v
	}
	if v := entry.IM(); v != "" && v != existing.IM {
		changed = true
		existing.IM = v
	}

	if !changed {
		return nil
	}

	r.log("Updating user settings: " + existing.Email)
	r.summary.UsersModified++

	if r.previewOnly {
		return nil
	}
	return r.store.UpdateUser(existing)
}

func (r *Runner) setUserActive(u *identity.User, active bool, reason string) error {
	r.log("Changing active state of user: " + u.Email + " to " + boolWord(active) + ", reason: " + reason)
	r.summary.UsersInactivated++

	if r.previewOnly {
		return nil
	}
	if err := r.store.SetUserActive(u, active, r.settings.AdminEmail, reason); err != nil {
		r.logger.Error("Unable to change active state of user", zap.String("email", u.Email), zap.Error(err))
	}
	return nil
}

// handleUsersRemovedFromDirectory applies the deletion policy to every
// previously synced user absent from this run.
func (r *Runner) handleUsersRemovedFromDirectory() error {
	for externalID, rec := range r.prior {
		if rec.Type != identity.TypeUser {
			continue
		}
		if _, ok := r.usersSynced[externalID]; ok {
			continue
		}

		toRemove, err := r.store.UserByID(rec.PrincipalID)
		if err != nil {
			return err
		}
		if toRemove == nil {
			continue
		}

		if r.settings.DeleteUserWhenRemoved() {
			if err := r.deleteUser(toRemove); err != nil {
				return err
			}
		} else if toRemove.Active {
			if err := r.setUserActive(toRemove, false, "the user is not a member of synced directory groups"); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Runner) deleteUser(u *identity.User) error {
	r.log("Deleting user: " + u.Email)
	r.summary.UsersRemoved++

	if r.previewOnly {
		return nil
	}
	return r.store.DeleteUser(u.ID)
}

// finalize runs the post-sync bookkeeping. Each step is best-effort: a
// late failure here must not erase work already committed to the
// identity store, so problems are logged and swallowed.
func (r *Runner) finalize() {
	if err := r.updateSyncRecords(); err != nil {
		r.logger.Error("Failed to update sync records", zap.Error(err))
	}
	r.sweepStalePrincipals()
	if err := r.writeAuditTrail(); err != nil {
		r.logger.Error("Failed to write audit record", zap.Error(err))
	}
}

func (r *Runner) updateSyncRecords() error {
	if r.previewOnly {
		return nil
	}

	for dn, id := range r.usersSynced {
		if err := r.records.InsertMissing(r.provider, dn, id, identity.TypeUser); err != nil {
			return err
		}
	}
	for dn, id := range r.groupsSynced {
		if err := r.records.InsertMissing(r.provider, dn, id, identity.TypeGroup); err != nil {
			return err
		}
	}
	return nil
}

// sweepStalePrincipals is reporting only: it surfaces principals the
// ledger has ever linked that this run did not touch, without mutating
// anything.
func (r *Runner) sweepStalePrincipals() {
	userIDs, err := r.records.PrincipalIDs(identity.TypeUser)
	if err != nil {
		r.logger.Error("Failed to load recorded user ids", zap.Error(err))
		return
	}

	synced := make(map[int]bool, len(r.usersSynced))
	for _, id := range r.usersSynced {
		synced[id] = true
	}

	for _, id := range userIDs {
		if synced[id] {
			continue
		}
		u, err := r.store.UserByID(id)
		if err != nil || u == nil || !u.Active {
			continue
		}
		r.log("WARNING: The following user was synced from the directory in the past, but was not present in this sync: " + u.Email)
	}

	groupIDs, err := r.records.PrincipalIDs(identity.TypeGroup)
	if err != nil {
		r.logger.Error("Failed to load recorded group ids", zap.Error(err))
		return
	}

	syncedGroups := make(map[int]bool, len(r.groupsSynced))
	for _, id := range r.groupsSynced {
		syncedGroups[id] = true
	}

	for _, id := range groupIDs {
		if syncedGroups[id] {
			continue
		}
		g, err := r.store.GroupByID(id)
		if err != nil || g == nil {
			continue
		}
		r.log("WARNING: The following group was synced from the directory in the past, but was not present in this sync: " + g.Name)
	}
}

func (r *Runner) writeAuditTrail() error {
	if r.previewOnly {
		return nil
	}

	return r.sink.RecordRun(audit.RunRecord{
		AdminEmail:         r.settings.AdminEmail,
		UsersGroupsAdded:   r.summary.UsersAdded + r.summary.GroupsAdded,
		UsersGroupsRemoved: r.summary.UsersRemoved + r.summary.GroupsRemoved,
		MembershipsChanged: r.summary.MembershipsAdded + r.summary.MembershipsRemoved,
		Comment:            r.summary.String(),
	})
}

func (r *Runner) log(message string) {
	r.messages = append(r.messages, message)

	if r.detailedLogging && !r.previewOnly {
		r.logger.Info(message)
	}
}

func boolWord(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
