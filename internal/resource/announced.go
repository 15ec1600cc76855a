package resource

import "time"

// AnnouncementDisposition classifies how an attribute is mirrored to an
// announced counterpart, per spec.md §4.5.
type AnnouncementDisposition int

const (
	// DispositionNA: never announced.
	DispositionNA AnnouncementDisposition = iota
	// DispositionOA: announced only when listed in the origin's aa.
	DispositionOA
	// DispositionMA: always announced when the resource is announced.
	DispositionMA
)

// AnnouncedResource is the single generic mirror type every *Annc resource
// uses, replacing the original's ~20 near-duplicate *Annc.py files (each
// around 40 lines of the same lnk/attribute-subset pattern — see
// acme/resources/AnnouncedResource.py, CNTAnnc.py, CINAnnc.py, etc.). It
// wraps a base Resource whose Ty is the announced type code (Announced(base)).
type AnnouncedResource struct {
	*Resource
	// Lnk is the SP-relative URI of the original resource.
	Lnk string
	// OriginCSEID is the CSE-ID that owns the original (where bi-directional
	// sync echoes updates back to).
	OriginCSEID string
	// BiDirectional enables mirror->original echo-back on update (single
	// hop only, per spec.md §4.5 "to prevent loops").
	BiDirectional bool
}

// NewAnnounced builds an announced mirror resource for baseTy, seeded with
// lnk and the given mirrored attribute subset.
func NewAnnounced(baseTy Type, lnk, originCSEID string, attrs map[string]interface{}, now time.Time) *AnnouncedResource {
	r := New(Announced(baseTy), now)
	for k, v := range attrs {
		r.Set(k, v)
	}
	return &AnnouncedResource{
		Resource:    r,
		Lnk:         lnk,
		OriginCSEID: originCSEID,
	}
}

// MirroredAttributes selects the subset of src's attributes to announce:
// every MA attribute in dispositions, plus OA attributes also named in aa.
func MirroredAttributes(src *Resource, dispositions map[string]AnnouncementDisposition, aa []string) map[string]interface{} {
	wantOA := make(map[string]bool, len(aa))
	for _, name := range aa {
		wantOA[name] = true
	}
	out := make(map[string]interface{})
	for name, disp := range dispositions {
		v, ok := src.Get(name)
		if !ok {
			continue
		}
		switch disp {
		case DispositionMA:
			out[name] = v
		case DispositionOA:
			if wantOA[name] {
				out[name] = v
			}
		}
	}
	return out
}
