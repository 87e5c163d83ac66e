package utils

import (
	"strings"

	"github.com/google/uuid"
)

// GenerateID generates a new UUID v4 string
func GenerateID() string {
	return uuid.NewString()
}

// NormalizeUUID returns the canonical lowercase form of a UUID, or false
func NormalizeUUID(u string) (string, bool) {
	id, err := uuid.Parse(strings.TrimSpace(u))
	if err != nil {
		return "", false
	}
	return id.String(), true
}
