// Package utils holds small helpers shared by the upload pipeline.
package utils

import (
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// GenerateUUID generates a new UUID v4 string.
func GenerateUUID() string {
	return uuid.New().String()
}

// IsValidUUID checks if a string is a valid UUID.
func IsValidUUID(uuidStr string) bool {
	_, err := uuid.Parse(uuidStr)
	return err == nil
}

// GenerateShortUUID generates a shorter UUID (first 8 characters).
// Only for correlation IDs in logs, never for record keys.
func GenerateShortUUID() string {
	return uuid.New().String()[:8]
}

// ObjectKey builds "<prefix>/<uuid><ext>" using the extension of name.
func ObjectKey(prefix, name string) string {
	key := GenerateUUID() + strings.ToLower(filepath.Ext(name))
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}

// ScopedObjectKey builds "<prefix>/<owner>/<uuid><ext>".
func ScopedObjectKey(prefix, owner, name string) string {
	if owner == "" {
		return ObjectKey(prefix, name)
	}
	return ObjectKey(strings.Trim(prefix, "/")+"/"+owner, name)
}
