// Package cursor implements opaque keyset-pagination pointers. A cursor is the
// id of the last item seen; backward pages consume it as "strictly less than",
// forward pages as "strictly greater than". Offsets are never used.
package cursor

import (
	"errors"
	"strconv"
	"strings"
)

// ErrInvalid is returned for a cursor that is not a decimal id.
var ErrInvalid = errors.New("cursor: invalid")

// Parse decodes a cursor. The empty string means "no boundary" and decodes to
// zero.
func Parse(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvalid
	}
	return id, nil
}

// Format encodes a boundary id. Zero encodes to the empty cursor.
func Format(id int64) string {
	if id <= 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}

// Clamp normalizes a requested page size into (0, max], falling back to def.
func Clamp(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
