package flow

import "fmt"

// Issued token ids are short zero-padded decimal strings written back to the
// card; raw hardware serials are long hex strings. maxTokenLen is generous —
// a session sees at most a few thousand cards.
const maxTokenLen = 6

// IsTokenID reports whether a card read looks like a previously-issued token
// id rather than a raw hardware serial.
func IsTokenID(s string) bool {
	if s == "" || len(s) > maxTokenLen {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// FormatToken renders an auto-init counter value as a token id.
func FormatToken(n int64) string {
	return fmt.Sprintf("%03d", n)
}
