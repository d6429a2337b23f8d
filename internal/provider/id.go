package provider

import "strings"

const (
	userServer  = "c.us"
	groupServer = "g.us"
)

// FormatID turns a user-supplied number into a provider address. Numbers
// containing '-' are treated as group ids; everything else is stripped to
// digits and addressed as a user.
func FormatID(number string) string {
	if strings.Contains(number, "@") {
		return number
	}
	if strings.Contains(number, "-") {
		return number + "@" + groupServer
	}
	var digits strings.Builder
	for _, r := range number {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	return digits.String() + "@" + userServer
}

// BareID strips the server and any device suffix from a provider address,
// leaving the bare number or group id.
func BareID(id string) string {
	if i := strings.IndexByte(id, '@'); i >= 0 {
		id = id[:i]
	}
	if i := strings.IndexByte(id, ':'); i >= 0 {
		id = id[:i]
	}
	return id
}

// IsGroupID reports whether a provider address names a group.
func IsGroupID(id string) bool {
	return strings.Contains(id, groupServer)
}
