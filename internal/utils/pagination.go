// Package utils holds small helpers shared by the handler layer.
package utils

import "strconv"

// IntOrDefault parses s as a base-10 int, falling back to def when s is
// empty or not a valid integer. Handlers use it for numeric query parameters
// where a missing or garbled value means "use the default", never an error.
func IntOrDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}
