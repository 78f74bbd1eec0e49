package directory

import (
	"net/mail"
	"strconv"
	"strings"

	"codeberg.org/dirsync/dirsync/pkg/settings"
	"github.com/go-ldap/ldap/v3"
)

// userAccountControl bit marking a disabled account.
const accountDisabledBit = 0x2

// Entry is a read-only view over one raw directory record, resolving
// normalized fields through the configured attribute mapping.
type Entry struct {
	raw      *ldap.Entry
	settings *settings.Settings
}

func NewEntry(raw *ldap.Entry, s *settings.Settings) *Entry {
	return &Entry{raw: raw, settings: s}
}

// DN is the stable external key for this entry.
func (e *Entry) DN() string {
	return e.raw.DN
}

func (e *Entry) attr(name string) string {
	return e.raw.GetAttributeValue(name)
}

// Email returns the raw mapped email attribute, which may be empty or
// malformed.
func (e *Entry) Email() string {
	return e.attr(e.settings.EmailField)
}

// ValidEmail returns the parsed address and whether it is usable as a
// local principal key.
func (e *Entry) ValidEmail() (string, bool) {
	raw := e.Email()
	if raw == "" {
		return "", false
	}
	addr, err := mail.ParseAddress(raw)
	if err != nil {
		return "", false
	}
	return addr.Address, true
}

func (e *Entry) DisplayName() string {
	return e.attr(e.settings.DisplayNameField)
}

func (e *Entry) FirstName() string {
	return e.attr(e.settings.FirstNameField)
}

func (e *Entry) LastName() string {
	return e.attr(e.settings.LastNameField)
}

func (e *Entry) Phone() string {
	return e.attr(e.settings.PhoneField)
}

func (e *Entry) IM() string {
	return e.attr(e.settings.IMField)
}

func (e *Entry) UID() string {
	return e.attr(e.settings.UIDField)
}

// Enabled derives the account state from the userAccountControl bitmask
// when that behavior is configured. An absent attribute, a malformed
// value, or the feature being off all mean enabled.
func (e *Entry) Enabled() bool {
	if !e.settings.ReadUserAccountControl {
		return true
	}
	v := e.attr("userAccountControl")
	if v == "" {
		return true
	}
	mask, err := strconv.Atoi(v)
	if err != nil {
		return true
	}
	return mask&accountDisabledBit == 0
}

// FormatPhone normalizes a phone number for comparison. Ten-digit
// numbers render as (123) 456-7890; anything else is returned as-is.
func FormatPhone(phone string) string {
	var digits strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()
	if len(d) != 10 {
		return phone
	}
	return "(" + d[0:3] + ") " + d[3:6] + "-" + d[6:10]
}
