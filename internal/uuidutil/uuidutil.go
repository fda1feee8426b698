// Package uuidutil normalizes UUID predicate values so that equivalent
// string forms compare and deduplicate identically.
package uuidutil

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Normalize returns the canonical lower-case form of a UUID value.
// It accepts uuid.UUID, string, and RFC-order []byte inputs.
func Normalize(value any) (string, error) {
	switch v := value.(type) {
	case uuid.UUID:
		return strings.ToLower(v.String()), nil
	case string:
		parsed, err := uuid.Parse(strings.TrimSpace(v))
		if err != nil {
			return "", fmt.Errorf("invalid UUID value")
		}
		return strings.ToLower(parsed.String()), nil
	case []byte:
		parsed, err := uuid.FromBytes(v)
		if err != nil {
			return "", fmt.Errorf("invalid UUID bytes")
		}
		return strings.ToLower(parsed.String()), nil
	default:
		return "", fmt.Errorf("unsupported UUID value type %T", value)
	}
}

// IsUUID reports whether the value parses as a UUID in any supported form.
func IsUUID(value any) bool {
	_, err := Normalize(value)
	return err == nil
}
