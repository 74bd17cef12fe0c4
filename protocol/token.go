package protocol

import "regexp"

var tokenPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidToken reports whether s is usable as a session token. Tokens appear in
// URLs and file names, so the alphabet is restricted.
func ValidToken(s string) bool {
	return tokenPattern.MatchString(s)
}
