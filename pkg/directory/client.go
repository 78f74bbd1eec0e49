package directory

import (
	"fmt"
	"strings"

	"codeberg.org/dirsync/dirsync/pkg/settings"
	"github.com/go-ldap/ldap/v3"
	"go.uber.org/zap"
)

// Directory is the read-only view of the external directory consumed by
// the sync engine.
type Directory interface {
	Connect() error
	Disconnect() error

	// Provider identifies the directory host; it keys sync records
	// across runs.
	Provider() string

	MemberOfSupported() (bool, error)
	ListUsers() ([]*Entry, error)
	ListGroups() ([]*Entry, error)

	// GetGroup returns nil (not an error) when no entry exists at dn.
	GetGroup(dn string) (*Entry, error)
	GroupMembers(dn string) ([]*Entry, error)
}

// conn is the slice of *ldap.Conn the client uses, split out so tests
// can run the query paths against a fake.
type conn interface {
	Bind(username, password string) error
	Search(*ldap.SearchRequest) (*ldap.SearchResult, error)
	Close() error
}

// Client wraps one bound LDAP connection for the duration of a sync
// run.
type Client struct {
	settings *settings.Settings
	logger   *zap.Logger

	dial func() (conn, error)
	conn conn

	memberOfSupported *bool
}

func NewClient(s *settings.Settings, logger *zap.Logger) *Client {
	c := &Client{
		settings: s,
		logger:   logger,
	}
	c.dial = func() (conn, error) {
		return ldap.DialURL(c.url())
	}
	return c
}

func (c *Client) url() string {
	scheme := "ldap"
	if c.settings.UseSSL {
		scheme = "ldaps"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.settings.Host, c.settings.Port)
}

func (c *Client) Provider() string {
	return c.settings.Host
}

// Connect dials and binds. The probe cache resets with each new
// connection.
func (c *Client) Connect() error {
	l, err := c.dial()
	if err != nil {
		return &ConnectionError{Host: c.settings.Host, Err: err}
	}

	if err := l.Bind(c.settings.Principal, c.settings.Credentials); err != nil {
		l.Close()
		return &ConnectionError{Host: c.settings.Host, Err: err}
	}

	c.conn = l
	c.memberOfSupported = nil
	return nil
}

// Disconnect is idempotent and best-effort; a close failure is logged
// so it never masks an earlier error from the run.
func (c *Client) Disconnect() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	if err != nil {
		c.logger.Warn("Failed to close directory connection", zap.Error(err))
	}
	return nil
}

func (c *Client) ensureConnected() error {
	if c.conn == nil {
		return ErrNotConnected
	}
	return nil
}

// MemberOfSupported probes once per connection whether the server
// exposes a reverse memberOf attribute on user entries, by asking for a
// single user carrying one.
func (c *Client) MemberOfSupported() (bool, error) {
	if c.memberOfSupported != nil {
		return *c.memberOfSupported, nil
	}
	if err := c.ensureConnected(); err != nil {
		return false, err
	}

	req := ldap.NewSearchRequest(
		c.settings.CompleteUserSearchBase(),
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		1, 0, false,
		"(memberOf=*)",
		[]string{"dn"},
		nil,
	)

	sr, err := c.conn.Search(req)
	if err != nil && !ldap.IsErrorWithCode(err, ldap.LDAPResultSizeLimitExceeded) {
		return false, wrap("memberOf probe", err)
	}

	supported := sr != nil && len(sr.Entries) > 0
	c.memberOfSupported = &supported
	return supported, nil
}

// GroupMembers resolves the user entries belonging to the group at dn,
// selecting the retrieval strategy from the memberOf probe.
func (c *Client) GroupMembers(dn string) ([]*Entry, error) {
	supported, err := c.MemberOfSupported()
	if err != nil {
		return nil, err
	}
	if supported {
		return c.groupMembersUsingMemberOf(dn)
	}
	return c.groupMembersWithoutMemberOf(dn)
}

func (c *Client) groupMembersUsingMemberOf(dn string) ([]*Entry, error) {
	if err := c.ensureConnected(); err != nil {
		return nil, err
	}

	req := ldap.NewSearchRequest(
		c.settings.CompleteUserSearchBase(),
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		0, 0, false,
		c.settings.CompleteGroupMemberFilter(dn),
		nil,
		nil,
	)

	sr, err := c.conn.Search(req)
	if err != nil {
		return nil, wrap("group member search", err)
	}

	users := make([]*Entry, 0, len(sr.Entries))
	for _, entry := range sr.Entries {
		users = append(users, NewEntry(entry, c.settings))
	}
	return users, nil
}

// groupMembersWithoutMemberOf reads the group's member and memberUid
// attributes and resolves them with a second, combined user search.
// Needed for servers without a memberOf overlay.
func (c *Client) groupMembersWithoutMemberOf(dn string) ([]*Entry, error) {
	if err := c.ensureConnected(); err != nil {
		return nil, err
	}

	req := ldap.NewSearchRequest(
		dn,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		0, 0, false,
		"(objectclass="+c.settings.GroupObjectClass+")",
		[]string{"member", "memberUid"},
		nil,
	)

	sr, err := c.conn.Search(req)
	if err != nil {
		return nil, wrap("group lookup", err)
	}

	var fragments []string
	for _, group := range sr.Entries {
		for _, attr := range group.Attributes {
			switch {
			case strings.EqualFold(attr.Name, "memberUid"):
				for _, val := range attr.Values {
					fragments = append(fragments, "(uid="+val+")")
				}
			case strings.EqualFold(attr.Name, "member"):
				for _, val := range attr.Values {
					frag, ok := c.memberFragment(val)
					if ok {
						fragments = append(fragments, frag)
					}
				}
			default:
				c.logger.Error("Unknown member attribute on group",
					zap.String("dn", dn),
					zap.String("attribute", attr.Name))
			}
		}
	}

	if len(fragments) == 0 {
		return []*Entry{}, nil
	}

	userFilter := c.settings.CompleteUserFilter("(|" + strings.Join(fragments, "") + ")")
	userReq := ldap.NewSearchRequest(
		c.settings.CompleteUserSearchBase(),
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		0, 0, false,
		userFilter,
		nil,
		nil,
	)

	usr, err := c.conn.Search(userReq)
	if err != nil {
		return nil, wrap("group member resolution", err)
	}

	users := make([]*Entry, 0, len(usr.Entries))
	for _, entry := range usr.Entries {
		users = append(users, NewEntry(entry, c.settings))
	}
	return users, nil
}

// memberFragment turns one member DN into a filter fragment. Only
// cn-named members are recognized.
func (c *Client) memberFragment(val string) (string, bool) {
	parsed, err := ldap.ParseDN(val)
	if err != nil || len(parsed.RDNs) == 0 || len(parsed.RDNs[0].Attributes) == 0 {
		c.logger.Error("Invalid DN for member attribute", zap.String("member", val))
		return "", false
	}

	rdn := parsed.RDNs[0].Attributes[0]
	if !strings.EqualFold(rdn.Type, "cn") {
		c.logger.Error("Member attribute was not CN",
			zap.String("member", val),
			zap.String("namingAttribute", rdn.Type))
		return "", false
	}

	return "(" + rdn.Type + "=" + rdn.Value + ")", true
}

// GetGroup fetches exactly the entry at dn, without recursion. A
// missing entry is nil, not an error.
func (c *Client) GetGroup(dn string) (*Entry, error) {
	return c.getEntry(dn, c.settings.CompleteGroupFilter())
}

func (c *Client) getEntry(dn, filter string) (*Entry, error) {
	if err := c.ensureConnected(); err != nil {
		return nil, err
	}

	req := ldap.NewSearchRequest(
		dn,
		ldap.ScopeBaseObject,
		ldap.NeverDerefAliases,
		0, 0, false,
		filter,
		nil,
		nil,
	)

	sr, err := c.conn.Search(req)
	if err != nil {
		if ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject) {
			return nil, nil
		}
		return nil, wrap("entry lookup", err)
	}
	if len(sr.Entries) == 0 {
		return nil, nil
	}
	return NewEntry(sr.Entries[0], c.settings), nil
}

func (c *Client) ListUsers() ([]*Entry, error) {
	if err := c.ensureConnected(); err != nil {
		return nil, err
	}
	return c.children(c.settings.CompleteUserSearchBase(), c.settings.CompleteUserFilter(), c.settings.UserObjectClass)
}

func (c *Client) ListGroups() ([]*Entry, error) {
	if err := c.ensureConnected(); err != nil {
		return nil, err
	}
	return c.children(c.settings.CompleteGroupSearchBase(), c.settings.CompleteGroupFilter(), c.settings.GroupObjectClass)
}

// children runs a subtree search, keeping only entries of the expected
// object class and deduplicating by DN. Referrals can surface the same
// entry twice; the second occurrence is logged and skipped.
func (c *Client) children(base, filter, objectClass string) ([]*Entry, error) {
	req := ldap.NewSearchRequest(
		base,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		0, 0, false,
		filter,
		nil,
		nil,
	)

	sr, err := c.conn.Search(req)
	if err != nil {
		return nil, wrap("subtree search", err)
	}

	encountered := make(map[string]bool, len(sr.Entries))
	entries := make([]*Entry, 0, len(sr.Entries))
	for _, entry := range sr.Entries {
		if encountered[entry.DN] {
			c.logger.Info("Previously encountered entry, skipping", zap.String("dn", entry.DN))
			continue
		}
		encountered[entry.DN] = true

		if hasObjectClass(entry, objectClass) {
			entries = append(entries, NewEntry(entry, c.settings))
		}
	}
	return entries, nil
}

func hasObjectClass(entry *ldap.Entry, objectClass string) bool {
	for _, v := range entry.GetAttributeValues("objectClass") {
		if strings.EqualFold(v, objectClass) {
			return true
		}
	}
	return false
}
