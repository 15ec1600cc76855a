package cseconfig

import (
	"strings"

	"github.com/google/uuid"
)

// IDAllocator issues the CSE-assigned unstructured identifiers spec.md line
// 49 calls out ("unique-ID allocation"): an <AE>'s aei and a newly
// registered remote CSE's csi, both namespaced under this CSE's SP-ID.
type IDAllocator struct {
	SPID string
}

// NewIDAllocator builds an IDAllocator scoped to cfg's SP-ID.
func NewIDAllocator(cfg *CSEConfig) *IDAllocator {
	return &IDAllocator{SPID: cfg.Identity.SPID}
}

// AllocateAEID returns a CSE-assigned AE-ID for requested, following the
// oneM2M convention that a "C"-prefixed unstructured ID means CSE-assigned.
// If requested already looks CSE-assigned (non-empty and not "C"), it is
// returned unchanged - re-registration keeps its existing aei.
func (a *IDAllocator) AllocateAEID(requested string) string {
	if requested != "" && requested != "C" {
		return requested
	}
	return "C" + strings.ReplaceAll(uuid.New().String(), "-", "")[:16]
}

// AllocateCSEID returns a CSE-assigned csi for a newly registered remote
// CSE (<CSR>), SP-relative per spec.md's "SP-relative" glossary entry.
func (a *IDAllocator) AllocateCSEID() string {
	return a.SPID + "/cse-" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}
