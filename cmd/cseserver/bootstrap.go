package main

import (
	"context"
	"fmt"
	"time"

	"github.com/onem2m-cse/cse/internal/cseconfig"
	"github.com/onem2m-cse/cse/internal/resource"
	"github.com/onem2m-cse/cse/internal/store"
)

// bootstrapCSEBase ensures the configured CSE-ID names a <CSEBase> resource,
// seeding one on first start. Mirrors the dispatcher/httptransport test
// helpers' seed pattern: a resource row plus its structured-name identifier
// entry, since every "/"-prefixed "to" address resolves through
// Store.GetRIBySRN (internal/dispatch's resolveTarget).
func bootstrapCSEBase(ctx context.Context, st store.Store, cfg *cseconfig.IdentityConfig) (string, error) {
	ri := cfg.CSEID
	if existing, err := st.GetResource(ctx, ri); err == nil && existing != nil {
		return ri, nil
	}

	now := time.Now().UTC()
	base := resource.New(resource.TypeCSEBase, now)
	base.RI = ri
	base.RN = cfg.CSERN
	base.Set("csi", cfg.CSEID)
	base.Set("cst", cseTypeCode(cfg.CSEType))
	base.Set("srt", cfg.ReleaseVersions)
	base.Set("rr", true)
	base.Set("srv", cfg.ReleaseVersions)
	base.Set("poa", []interface{}{})

	if err := st.PutResource(ctx, base); err != nil {
		return "", fmt.Errorf("bootstrap cse base resource: %w", err)
	}
	if err := st.PutIdentifier(ctx, store.IdentifierEntry{RI: ri, RN: base.RN, SRN: "/" + base.RN, Ty: resource.TypeCSEBase}); err != nil {
		return "", fmt.Errorf("bootstrap cse base identifier: %w", err)
	}
	if err := st.UpdateStatistics(ctx, func(s *store.Statistics) { s.StartedAt = now }); err != nil {
		return "", fmt.Errorf("bootstrap statistics: %w", err)
	}
	return ri, nil
}

// cseTypeCode maps the configured CSE-Type string to its oneM2M cst
// numeric enumeration (TS-0004 table 6.3.2.1).
func cseTypeCode(cseType string) int {
	switch cseType {
	case "MN-CSE":
		return 2
	case "ASN-CSE":
		return 3
	default:
		return 1 // IN-CSE
	}
}
