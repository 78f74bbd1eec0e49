package identity

// PrincipalType distinguishes users from groups in the local store and
// in persisted sync records.
type PrincipalType string

const (
	TypeUser  PrincipalType = "u"
	TypeGroup PrincipalType = "g"
)

type User struct {
	ID          int
	Email       string
	DisplayName string
	FirstName   string
	LastName    string
	Phone       string
	IM          string
	Active      bool
}

type Group struct {
	ID   int
	Name string
}

// Principal is the common view of a group member, which may itself be a
// user or a nested group.
type Principal struct {
	ID   int
	Type PrincipalType
	Name string
}

// NewUser carries the normalized directory fields for a user being
// created locally.
type NewUser struct {
	Email       string
	DisplayName string
	FirstName   string
	LastName    string
	Phone       string
	IM          string
}

// Store is the identity-store port the sync engine writes through.
// Lookups return (nil, nil) when the entity does not exist; an error
// always means the store itself failed.
type Store interface {
	UserByEmail(email string) (*User, error)
	UserByID(id int) (*User, error)
	CreateUser(u NewUser) (*User, error)
	UpdateUser(u *User) error

	// SetUserActive records who made the change and why.
	SetUserActive(u *User, active bool, adminEmail, reason string) error
	DeleteUser(id int) error

	GroupByName(name string) (*Group, error)
	GroupByID(id int) (*Group, error)
	CreateGroup(name string) (*Group, error)
	DeleteGroup(id int) error

	// ExpandedMembers returns the transitive member set of a group,
	// including users of nested groups and the nested groups themselves.
	ExpandedMembers(groupID int) ([]Principal, error)
	AddMember(groupID int, p Principal) error
	RemoveMember(groupID int, p Principal) error
}
