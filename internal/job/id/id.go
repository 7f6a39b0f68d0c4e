// Package id provides unique identifier generation for jobs.
package id

import (
	"strings"

	"github.com/google/uuid"
)

// DefaultPrefix is used when Generate is called with an empty prefix.
const DefaultPrefix = "job"

// Generate creates a new unique job ID of the form <prefix>-<uuid>.
// Example: composite-5f0c2a4e-0d4b-4b8f-9a63-2a7d1e0c9b11
func Generate(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "-")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return prefix + "-" + uuid.NewString()
}
