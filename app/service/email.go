package service

import "strings"

// NormalizeEmail trims and lowercases an address before lookups and writes.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
