package device

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// sigBaseSuffix is the Bluetooth SIG base UUID tail (xxxxxxxx-0000-1000-8000-00805f9b34fb) in canonical form.
const sigBaseSuffix = "00001000800000805f9b34fb"

// CanonicalUUID converts a UUID string to its canonical comparison form: lowercase with dash
// separators removed. "18-00", "1800" and "1800" upper-cased all canonicalize to "1800".
func CanonicalUUID(id string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(id), "-", ""))
}

// SameUUID reports whether a and b name the same UUID in canonical form.
func SameUUID(a, b string) bool {
	return CanonicalUUID(a) == CanonicalUUID(b)
}

// ShortUUID canonicalizes id and additionally folds the 0x prefix and Bluetooth SIG base 128-bit
// UUIDs down to their 16-bit form ("0000180d-0000-1000-8000-00805f9b34fb" -> "180d").
// Radio implementations use it to match user-supplied identifiers against stack-reported ones,
// which may come in either width.
func ShortUUID(id string) string {
	c := CanonicalUUID(id)
	c = strings.TrimPrefix(strings.Trim(c, "{}"), "0x")
	if len(c) == 32 && strings.HasPrefix(c, "0000") && strings.HasSuffix(c, sigBaseSuffix) {
		return c[4:8]
	}
	return c
}

// ValidateUUID validates that UUID strings are non-empty and well-formed 16-bit, 32-bit or
// 128-bit identifiers. Returns canonical UUID strings or an error.
func ValidateUUID(uuids ...string) ([]string, error) {
	if len(uuids) == 0 {
		return nil, fmt.Errorf("at least one UUID is required")
	}

	result := make([]string, 0, len(uuids))
	for i, id := range uuids {
		if strings.TrimSpace(id) == "" {
			return nil, fmt.Errorf("UUID at index %d cannot be empty", i)
		}

		c := strings.TrimPrefix(CanonicalUUID(id), "0x")
		switch len(c) {
		case 4, 8:
			if !isHex(c) {
				return nil, fmt.Errorf("invalid UUID format at index %d: %s", i, id)
			}
		case 32:
			if _, err := uuid.Parse(c); err != nil {
				return nil, fmt.Errorf("invalid UUID format at index %d: %s: %w", i, id, err)
			}
		default:
			return nil, fmt.Errorf("invalid UUID length at index %d: %s", i, id)
		}
		result = append(result, c)
	}
	return result, nil
}

func isHex(s string) bool {
	for _, r := range s {
		if !strings.ContainsRune("0123456789abcdef", r) {
			return false
		}
	}
	return true
}
