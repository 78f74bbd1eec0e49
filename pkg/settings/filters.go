package settings

import "strings"

// The builders below feed directly into the LDAP filter grammar, so the
// parenthesization is exact: one leading "(&", each fragment already
// self-parenthesized, one closing ")".

// CompleteUserFilter combines the user object-class filter, the
// configured free-text user filter, and any extra fragments into one
// AND-expression.
func (s *Settings) CompleteUserFilter(extra ...string) string {
	var filters []string
	if s.UserObjectClass != "" {
		filters = append(filters, "(objectclass="+s.UserObjectClass+")")
	}
	if s.UserFilter != "" {
		filters = append(filters, s.UserFilter)
	}
	filters = append(filters, extra...)

	return "(&" + strings.Join(filters, "") + ")"
}

// CompleteGroupMemberFilter matches users whose memberOf attribute
// names the given group DN.
func (s *Settings) CompleteGroupMemberFilter(dn string) string {
	return "(&(memberOf=" + dn + ")" + s.CompleteUserFilter() + ")"
}

func (s *Settings) CompleteGroupFilter() string {
	filter := "(objectclass=" + s.GroupObjectClass + ")"
	if s.GroupFilter != "" {
		filter = "(&" + filter + s.GroupFilter + ")"
	}
	return filter
}

// CompleteUserSearchBase joins the user search string onto the base
// search string.
func (s *Settings) CompleteUserSearchBase() string {
	return joinSearchBase(s.UserSearch, s.BaseSearch)
}

func (s *Settings) CompleteGroupSearchBase() string {
	return joinSearchBase(s.GroupSearch, s.BaseSearch)
}

func joinSearchBase(search, base string) string {
	var sb strings.Builder
	delim := ""
	if search != "" {
		sb.WriteString(search)
		delim = ","
	}
	if base != "" {
		sb.WriteString(delim)
		sb.WriteString(base)
	}
	return sb.String()
}
