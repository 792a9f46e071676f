package types

import (
	"strings"
	"unicode/utf8"
)

// RedactEmail masks an address for logging: "john@gmail.com" becomes
// "j***@gmail.com". A value without "@" is masked entirely.
func RedactEmail(email string) string {
	if email == "" {
		return ""
	}

	local, domain, ok := strings.Cut(email, "@")
	if !ok {
		return "***"
	}
	if local == "" {
		return "***@" + domain
	}
	_, size := utf8.DecodeRuneInString(local)
	return local[:size] + "***@" + domain
}
