package directory

import (
	"testing"

	"codeberg.org/dirsync/dirsync/pkg/settings"
	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSettings(t *testing.T, props map[string]string) *settings.Settings {
	t.Helper()
	s, err := settings.FromMap(props)
	require.NoError(t, err)
	return s
}

func TestEntry_FieldMapping(t *testing.T) {
	s := testSettings(t, map[string]string{})

	raw := ldap.NewEntry("cn=Alice,ou=people,dc=example,dc=com", map[string][]string{
		"mail":            {"alice@example.com"},
		"displayName":     {"Alice Adams"},
		"givenName":       {"Alice"},
		"sn":              {"Adams"},
		"telephoneNumber": {"2065551234"},
		"im":              {"alice.im"},
	})
	e := NewEntry(raw, s)

	assert.Equal(t, "cn=Alice,ou=people,dc=example,dc=com", e.DN())
	assert.Equal(t, "alice@example.com", e.Email())
	assert.Equal(t, "Alice Adams", e.DisplayName())
	assert.Equal(t, "Alice", e.FirstName())
	assert.Equal(t, "Adams", e.LastName())
	assert.Equal(t, "2065551234", e.Phone())
	assert.Equal(t, "alice.im", e.IM())
}

func TestEntry_CustomMapping(t *testing.T) {
	s := testSettings(t, map[string]string{
		settings.KeyEmailField: "userPrincipalName",
	})

	raw := ldap.NewEntry("cn=Bob,ou=people,dc=example,dc=com", map[string][]string{
		"mail":              {"wrong@example.com"},
		"userPrincipalName": {"bob@example.com"},
	})
	e := NewEntry(raw, s)

	assert.Equal(t, "bob@example.com", e.Email())
}

func TestEntry_ValidEmail(t *testing.T) {
	s := testSettings(t, map[string]string{})

	tests := []struct {
		name   string
		mail   []string
		want   string
		wantOK bool
	}{
		{name: "valid", mail: []string{"alice@example.com"}, want: "alice@example.com", wantOK: true},
		{name: "absent", mail: nil},
		{name: "malformed", mail: []string{"not an email"}},
		{name: "no domain", mail: []string{"alice@"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attrs := map[string][]string{}
			if tt.mail != nil {
				attrs["mail"] = tt.mail
			}
			e := NewEntry(ldap.NewEntry("cn=x,dc=example,dc=com", attrs), s)

			got, ok := e.ValidEmail()
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEntry_Enabled(t *testing.T) {
	tests := []struct {
		name    string
		readUAC bool
		uac     []string
		want    bool
	}{
		{name: "feature off ignores disabled bit", readUAC: false, uac: []string{"514"}, want: true},
		{name: "disabled bit set", readUAC: true, uac: []string{"514"}, want: false},
		{name: "normal account", readUAC: true, uac: []string{"512"}, want: true},
		{name: "attribute absent", readUAC: true, uac: nil, want: true},
		{name: "malformed value", readUAC: true, uac: []string{"lots"}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			props := map[string]string{}
			if tt.readUAC {
				props[settings.KeyUserAccountControl] = "true"
			}
			s := testSettings(t, props)

			attrs := map[string][]string{"mail": {"x@example.com"}}
			if tt.uac != nil {
				attrs["userAccountControl"] = tt.uac
			}
			e := NewEntry(ldap.NewEntry("cn=x,dc=example,dc=com", attrs), s)

			assert.Equal(t, tt.want, e.Enabled())
		})
	}
}

func TestFormatPhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "2065551234", want: "(206) 555-1234"},
		{in: "206-555-1234", want: "(206) 555-1234"},
		{in: "(206) 555-1234", want: "(206) 555-1234"},
		{in: "555-1234", want: "555-1234"},
		{in: "+1 206 555 1234", want: "+1 206 555 1234"},
		{in: "", want: ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatPhone(tt.in), "input %q", tt.in)
	}
}
