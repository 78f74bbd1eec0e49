package settings

import (
	"fmt"
	"net/mail"
	"strconv"
	"strings"
)

// Keys understood by FromMap. These match the persisted key/value store
// written by the admin surface.
const (
	KeyBaseSearch  = "baseSearchString"
	KeyGroupSearch = "groupSearchString"
	KeyUserSearch  = "userSearchString"
	KeyGroupFilter = "groupFilterString"
	KeyUserFilter  = "userFilterString"

	KeyEmailField       = "emailFieldMapping"
	KeyDisplayNameField = "displayNameFieldMapping"
	KeyUIDField         = "uidFieldMapping"
	KeyPhoneField       = "phoneNumberFieldMapping"
	KeyFirstNameField   = "firstNameFieldMapping"
	KeyLastNameField    = "lastNameFieldMapping"
	KeyIMField          = "imFieldMapping"

	KeyAdminEmail = "adminEmail"

	KeyUserDelete         = "userDeleteBehavior"
	KeyGroupDelete        = "groupDeleteBehavior"
	KeyUserInfoChanged    = "userInfoChangedBehavior"
	KeyUserAccountControl = "userAccountControlBehavior"

	KeyGroupObjectClass = "groupObjectClass"
	KeyUserObjectClass  = "userObjectClass"
	KeyGroupNameSuffix  = "groupSyncNameSuffix"

	KeyMemberSyncMode = "memberSyncMode"

	KeyEnabled   = "enabled"
	KeyFrequency = "frequency"
	KeySyncMode  = "syncMode"

	KeyAllowedDN = "allowedDn"

	KeyHost        = "host"
	KeyPort        = "port"
	KeyPrincipal   = "principal"
	KeyCredentials = "credentials"
	KeyUseSSL      = "useSSL"
	KeySSLProtocol = "sslProtocol"
)

// Defaults applied when a mapping key is unset or blank.
const (
	DefaultEmailField       = "mail"
	DefaultDisplayNameField = "displayName"
	DefaultLastNameField    = "sn"
	DefaultFirstNameField   = "givenName"
	DefaultPhoneField       = "telephoneNumber"
	DefaultIMField          = "im"
	DefaultUIDField         = "userPrincipalName"
	DefaultUserObjectClass  = "user"
	DefaultGroupObjectClass = "group"
)

// WhitelistDelim separates DNs in the persisted allowedDn value. DNs
// contain commas, so a multi-char delimiter is used on the wire.
const WhitelistDelim = "<>"

type SyncMode string

const (
	SyncUsersOnly      SyncMode = "usersOnly"
	SyncUsersAndGroups SyncMode = "usersAndGroups"
	SyncGroupWhitelist SyncMode = "groupWhitelist"
)

type MemberSyncMode string

const (
	MemberSyncMirror             MemberSyncMode = "mirror"
	MemberSyncRemoveDeletedUsers MemberSyncMode = "removeDeletedLdapUsers"
	MemberSyncNoAction           MemberSyncMode = "noAction"
)

type DeleteBehavior string

const (
	DeleteBehaviorDelete     DeleteBehavior = "delete"
	DeleteBehaviorDeactivate DeleteBehavior = "deactivate"
)

// ValidationError identifies exactly which settings check failed.
type ValidationError struct {
	Setting string
	Reason  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid sync settings: %s: %s", e.Setting, e.Reason)
}

// Settings is the validated sync configuration, built once from the
// persisted key/value map. All type coercion happens in FromMap; the
// struct is treated as immutable afterwards.
type Settings struct {
	Enabled   bool
	Frequency int // hours between scheduled runs

	SyncMode       SyncMode
	MemberSyncMode MemberSyncMode
	GroupWhitelist []string

	AdminEmail string

	UserDeleteBehavior     DeleteBehavior
	GroupDeleteBehavior    DeleteBehavior
	OverwriteUserInfo      bool
	ReadUserAccountControl bool

	BaseSearch  string
	UserSearch  string
	GroupSearch string
	UserFilter  string
	GroupFilter string

	UserObjectClass  string
	GroupObjectClass string
	GroupNameSuffix  string

	EmailField       string
	DisplayNameField string
	FirstNameField   string
	LastNameField    string
	PhoneField       string
	IMField          string
	UIDField         string

	Host        string
	Port        int
	Principal   string
	Credentials string
	UseSSL      bool
	SSLProtocol string
}

// FromMap builds Settings from the persisted string map, applying
// defaults for unset values. Malformed values fail here rather than at
// first use.
func FromMap(props map[string]string) (*Settings, error) {
	s := &Settings{}

	get := func(key string) string {
		return strings.TrimSpace(props[key])
	}

	var err error
	if v := get(KeyEnabled); v != "" {
		if s.Enabled, err = strconv.ParseBool(v); err != nil {
			return nil, &ValidationError{Setting: KeyEnabled, Reason: "not a boolean: " + v}
		}
	}
	if v := get(KeyFrequency); v != "" {
		if s.Frequency, err = strconv.Atoi(v); err != nil {
			return nil, &ValidationError{Setting: KeyFrequency, Reason: "not an integer: " + v}
		}
	}
	if v := get(KeyPort); v != "" {
		if s.Port, err = strconv.Atoi(v); err != nil {
			return nil, &ValidationError{Setting: KeyPort, Reason: "not an integer: " + v}
		}
	}
	if v := get(KeyUseSSL); v != "" {
		if s.UseSSL, err = strconv.ParseBool(v); err != nil {
			return nil, &ValidationError{Setting: KeyUseSSL, Reason: "not a boolean: " + v}
		}
	}
	if v := get(KeyAllowedDN); v != "" {
		for _, dn := range strings.Split(v, WhitelistDelim) {
			if dn = strings.TrimSpace(dn); dn != "" {
				s.GroupWhitelist = append(s.GroupWhitelist, dn)
			}
		}
	}
	if v := get(KeySyncMode); v != "" {
		mode, err := parseSyncMode(v)
		if err != nil {
			return nil, &ValidationError{Setting: KeySyncMode, Reason: err.Error()}
		}
		s.SyncMode = mode
	}
	if v := get(KeyMemberSyncMode); v != "" {
		mode, err := parseMemberSyncMode(v)
		if err != nil {
			return nil, &ValidationError{Setting: KeyMemberSyncMode, Reason: err.Error()}
		}
		s.MemberSyncMode = mode
	}

	s.AdminEmail = get(KeyAdminEmail)
	s.UserDeleteBehavior = deleteBehavior(get(KeyUserDelete))
	s.GroupDeleteBehavior = deleteBehavior(get(KeyGroupDelete))
	s.OverwriteUserInfo = get(KeyUserInfoChanged) == "true"
	s.ReadUserAccountControl = get(KeyUserAccountControl) == "true"

	s.BaseSearch = get(KeyBaseSearch)
	s.UserSearch = get(KeyUserSearch)
	s.GroupSearch = get(KeyGroupSearch)
	s.UserFilter = get(KeyUserFilter)
	s.GroupFilter = get(KeyGroupFilter)
	s.GroupNameSuffix = props[KeyGroupNameSuffix] // not trimmed: leading whitespace is meaningful

	s.UserObjectClass = get(KeyUserObjectClass)
	s.GroupObjectClass = get(KeyGroupObjectClass)
	s.EmailField = get(KeyEmailField)
	s.DisplayNameField = get(KeyDisplayNameField)
	s.FirstNameField = get(KeyFirstNameField)
	s.LastNameField = get(KeyLastNameField)
	s.PhoneField = get(KeyPhoneField)
	s.IMField = get(KeyIMField)
	s.UIDField = get(KeyUIDField)

	s.Host = get(KeyHost)
	s.Principal = get(KeyPrincipal)
	s.Credentials = props[KeyCredentials]
	s.SSLProtocol = get(KeySSLProtocol)

	s.applyDefaults()
	return s, nil
}

func (s *Settings) applyDefaults() {
	if s.UserObjectClass == "" {
		s.UserObjectClass = DefaultUserObjectClass
	}
	if s.GroupObjectClass == "" {
		s.GroupObjectClass = DefaultGroupObjectClass
	}
	if s.EmailField == "" {
		s.EmailField = DefaultEmailField
	}
	if s.DisplayNameField == "" {
		s.DisplayNameField = DefaultDisplayNameField
	}
	if s.FirstNameField == "" {
		s.FirstNameField = DefaultFirstNameField
	}
	if s.LastNameField == "" {
		s.LastNameField = DefaultLastNameField
	}
	if s.PhoneField == "" {
		s.PhoneField = DefaultPhoneField
	}
	if s.IMField == "" {
		s.IMField = DefaultIMField
	}
	if s.UIDField == "" {
		s.UIDField = DefaultUIDField
	}
	if s.MemberSyncMode == "" {
		s.MemberSyncMode = MemberSyncNoAction
	}
	if s.Port == 0 {
		if s.UseSSL {
			s.Port = 636
		} else {
			s.Port = 389
		}
	}
}

func parseSyncMode(v string) (SyncMode, error) {
	switch SyncMode(v) {
	case SyncUsersOnly, SyncUsersAndGroups, SyncGroupWhitelist:
		return SyncMode(v), nil
	}
	return "", fmt.Errorf("unknown sync mode: %s", v)
}

func parseMemberSyncMode(v string) (MemberSyncMode, error) {
	switch MemberSyncMode(v) {
	case MemberSyncMirror, MemberSyncRemoveDeletedUsers, MemberSyncNoAction:
		return MemberSyncMode(v), nil
	}
	return "", fmt.Errorf("unknown member sync mode: %s", v)
}

func deleteBehavior(v string) DeleteBehavior {
	if v == string(DeleteBehaviorDelete) {
		return DeleteBehaviorDelete
	}
	return DeleteBehaviorDeactivate
}

// Validate sanity-checks the settings before a run touches the
// directory. It fails on the first problem found.
func (s *Settings) Validate() error {
	if s.AdminEmail == "" {
		return &ValidationError{Setting: KeyAdminEmail, Reason: "admin email not set"}
	}
	if _, err := mail.ParseAddress(s.AdminEmail); err != nil {
		return &ValidationError{Setting: KeyAdminEmail, Reason: "not a valid email: " + s.AdminEmail}
	}
	if s.SyncMode == "" {
		return &ValidationError{Setting: KeySyncMode, Reason: "sync mode not set"}
	}
	if s.SyncMode == SyncGroupWhitelist && len(s.GroupWhitelist) == 0 {
		return &ValidationError{Setting: KeyAllowedDN, Reason: "cannot sync based on specific groups without a list of groups to sync"}
	}
	if s.MemberSyncMode == "" {
		return &ValidationError{Setting: KeyMemberSyncMode, Reason: "member sync mode not set"}
	}
	if s.Enabled && s.Frequency == 0 {
		return &ValidationError{Setting: KeyFrequency, Reason: "sync is enabled but no scheduling frequency was set"}
	}
	return nil
}

// DeleteUserWhenRemoved reports whether a user absent from the
// directory should be hard-deleted rather than deactivated.
func (s *Settings) DeleteUserWhenRemoved() bool {
	return s.UserDeleteBehavior == DeleteBehaviorDelete
}

func (s *Settings) DeleteGroupWhenRemoved() bool {
	return s.GroupDeleteBehavior == DeleteBehaviorDelete
}
