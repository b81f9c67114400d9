package dataplane

import (
	"strconv"
	"strings"
)

// ParseNumber parses a non-negative integer token with base-prefix
// detection: 0x or 0X for hex, a leading 0 for octal, decimal otherwise.
// The whole token must be consumed. Signs, underscores and the 0b and 0o
// prefixes are syntax errors. Failures are *strconv.NumError wrapping
// strconv.ErrSyntax or strconv.ErrRange.
func ParseNumber(s string) (int64, error) {
	lower := strings.ToLower(s)
	if s == "" || strings.ContainsAny(s, "_+-") ||
		strings.HasPrefix(lower, "0b") || strings.HasPrefix(lower, "0o") {
		return 0, &strconv.NumError{Func: "ParseNumber", Num: s, Err: strconv.ErrSyntax}
	}
	return strconv.ParseInt(s, 0, 64)
}
