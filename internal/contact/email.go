package contact

import (
	"net/url"
	"strings"
	"unicode"
)

// genericLocalParts are mailbox names that identify a function rather than a person.
var genericLocalParts = []string{
	"info",
	"contact",
	"support",
	"admin",
	"team",
	"hello",
	"general",
	"enquiries",
	"inquiries",
	"webmaster",
}

// GenericLocalParts returns a copy of the default role-alias list.
func GenericLocalParts() []string {
	return append([]string(nil), genericLocalParts...)
}

// NormalizeEmail lowercases and trims an address, stripping a mailto: scheme
// and any query string. It returns "" when nothing address-like remains.
func NormalizeEmail(raw string) string {
	s := strings.TrimSpace(raw)
	if len(s) >= 7 && strings.EqualFold(s[:7], "mailto:") {
		s = s[7:]
	}
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	if unescaped, err := url.PathUnescape(s); err == nil {
		s = unescaped
	}
	s = strings.Trim(strings.TrimSpace(s), ".,;:<>()[]\"'")
	s = strings.ToLower(s)
	if !strings.Contains(s, "@") {
		return ""
	}
	return s
}

// LocalPart returns the portion of email before the last '@'.
func LocalPart(email string) string {
	i := strings.LastIndex(email, "@")
	if i < 0 {
		return email
	}
	return email[:i]
}

// DomainOf returns the lowercase portion of email after the last '@'.
func DomainOf(email string) string {
	i := strings.LastIndex(email, "@")
	if i < 0 {
		return ""
	}
	return strings.ToLower(email[i+1:])
}

// NormalizeDomain accepts a bare domain or a URL and returns the lowercase host
// without a leading "www.".
func NormalizeDomain(raw string) string {
	s := strings.TrimSpace(strings.ToLower(raw))
	if s == "" {
		return ""
	}
	if strings.Contains(s, "://") {
		if u, err := url.Parse(s); err == nil {
			s = u.Hostname()
		}
	} else {
		if i := strings.IndexAny(s, "/?#"); i >= 0 {
			s = s[:i]
		}
		if i := strings.LastIndex(s, ":"); i >= 0 {
			s = s[:i]
		}
	}
	s = strings.TrimSuffix(s, ".")
	return strings.TrimPrefix(s, "www.")
}

// IsGenericRoleLocal reports whether local matches one of aliases exactly or by prefix.
// A nil aliases slice uses the default list.
func IsGenericRoleLocal(local string, aliases []string) bool {
	if aliases == nil {
		aliases = genericLocalParts
	}
	local = strings.ToLower(strings.TrimSpace(local))
	if local == "" {
		return false
	}
	for _, a := range aliases {
		if local == a || strings.HasPrefix(local, a) {
			return true
		}
	}
	return false
}

// InferName makes a best-effort display name from an address's local part.
// Generic mailboxes yield "". Two-token dotted/underscored locals become
// title-cased names ("jane.doe" -> "Jane Doe").
func InferName(email string) string {
	local := strings.ToLower(LocalPart(email))
	for _, g := range genericLocalParts {
		if local == g {
			return ""
		}
	}
	parts := strings.FieldsFunc(local, func(r rune) bool { return r == '.' || r == '_' })
	if len(parts) != 2 {
		return ""
	}
	for _, p := range parts {
		if len(p) < 2 || !allLetters(p) {
			return ""
		}
	}
	return titleCase(parts[0]) + " " + titleCase(parts[1])
}

func allLetters(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

func titleCase(s string) string {
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
