package utils

import (
	"os"
	"strconv"
	"strings"
)

// GetEnvOrDefault returns the environment value for key, or def when unset
// or blank.
func GetEnvOrDefault(key, def string) string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

// ParseInteger parses s as an int, returning def on empty or invalid input.
func ParseInteger(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

// ParseBoolean parses s as a bool, returning def on empty or invalid input.
func ParseBoolean(s string, def bool) bool {
	if s == "" {
		return def
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return def
	}
	return b
}

// ParseArray splits a comma-separated value into trimmed, non-empty items.
func ParseArray(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			result = append(result, p)
		}
	}
	return result
}
