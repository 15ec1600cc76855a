package resource

import (
	"strings"

	"github.com/google/uuid"
)

// NewRI generates a globally unique resource identifier, grounded on
// spec.md §3 ("ri never reused") and the DOMAIN STACK's choice of
// google/uuid for ri generation.
func NewRI() string {
	return uuid.New().String()
}

// BuildSRN composes the structured resource name "/cse-rn/.../rn" from a
// parent srn and a child's own rn, per spec.md §3's identifier index.
func BuildSRN(parentSRN, rn string) string {
	if parentSRN == "" {
		return "/" + rn
	}
	return strings.TrimRight(parentSRN, "/") + "/" + rn
}

// SplitSRN splits a structured resource name into its path segments,
// dropping the leading empty segment produced by the leading "/".
func SplitSRN(srn string) []string {
	trimmed := strings.Trim(srn, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
