package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseUserID parses a platform user id from a path or key segment.
func ParseUserID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid user id %q", raw)
	}
	if id <= 0 {
		return 0, fmt.Errorf("user id must be positive, got %d", id)
	}
	return id, nil
}

// ValidateLimit applies a default when limit is zero and bounds-checks it otherwise.
func ValidateLimit(limit, def, max int) (int, error) {
	if limit == 0 {
		return def, nil
	}
	if limit < 1 || limit > max {
		return 0, fmt.Errorf("limit must be between 1 and %d, got %d", max, limit)
	}
	return limit, nil
}
