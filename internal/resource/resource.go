package resource

import (
	"encoding/json"
	"time"
)

// AccessControlRef is an access-control-policy identifier list entry (acpi).
type AccessControlRef = string

// Resource is the universal node in the oneM2M hierarchy: the common
// envelope attributes plus a type-specific attribute bag. Per spec.md §3 and
// DESIGN NOTES ("prefer the map representation at storage boundaries"),
// type-specific fields live in Attrs; common fields are promoted to typed
// struct members because every pipeline stage (ACL, indexing, expiry) reads
// them directly.
type Resource struct {
	Ty   Type   `json:"ty"`
	RI   string `json:"ri"`
	PI   string `json:"pi,omitempty"`
	RN   string `json:"rn"`
	CT   time.Time `json:"ct"`
	LT   time.Time `json:"lt"`
	ET   time.Time `json:"et,omitempty"`
	ST   int       `json:"st,omitempty"` // state tag, increments on update

	ACPI []AccessControlRef `json:"acpi,omitempty"`
	LBL  []string           `json:"lbl,omitempty"`
	AT   []string           `json:"at,omitempty"` // announcement targets (cse-id or cse-id/mirrorRi)
	AA   []string           `json:"aa,omitempty"` // additional OA attributes to announce
	CR   string             `json:"cr,omitempty"` // creator originator

	// MgmtObjType is only meaningful when Ty == TypeMGMTOBJ.
	MgmtObjType MgmtObjType `json:"mgd,omitempty"`

	// Attrs holds every type-specific attribute, keyed by oneM2M short name.
	Attrs map[string]interface{} `json:"-"`
}

// New builds a bare resource envelope with timestamps set to now and ST=0.
// Callers (the dispatcher, via the resource factory) populate RI/PI/RN/Attrs
// before handing it to storage.
func New(ty Type, now time.Time) *Resource {
	return &Resource{
		Ty:    ty,
		CT:    now,
		LT:    now,
		Attrs: make(map[string]interface{}),
	}
}

// Get returns a type-specific attribute by short name.
func (r *Resource) Get(name string) (interface{}, bool) {
	if r.Attrs == nil {
		return nil, false
	}
	v, ok := r.Attrs[name]
	return v, ok
}

// Set assigns a type-specific attribute by short name.
func (r *Resource) Set(name string, value interface{}) {
	if r.Attrs == nil {
		r.Attrs = make(map[string]interface{})
	}
	r.Attrs[name] = value
}

// Touch bumps LT to now and increments ST, per the Update lifecycle
// ("touch lt", "st increments on each successful update", spec.md §3/§8).
func (r *Resource) Touch(now time.Time) {
	r.LT = now
	r.ST++
}

// Expired reports whether the resource's et has passed now. A zero ET means
// "no expiration".
func (r *Resource) Expired(now time.Time) bool {
	return !r.ET.IsZero() && r.ET.Before(now)
}

// IsAnnounced reports whether this resource carries at least one
// announcement target (spec.md §4.5: "A resource is announced when at is
// non-empty").
func (r *Resource) IsAnnounced() bool {
	return len(r.AT) > 0
}

// commonFieldNames are the envelope attributes promoted to struct fields;
// MarshalJSON/UnmarshalJSON use this to keep Attrs from colliding with them
// when flattening the type-specific bag into the same JSON object.
var commonFieldNames = map[string]bool{
	"ty": true, "ri": true, "pi": true, "rn": true, "ct": true, "lt": true,
	"et": true, "st": true, "acpi": true, "lbl": true, "at": true, "aa": true,
	"cr": true, "mgd": true,
}

// resourceEnvelope mirrors Resource's struct-backed fields for marshaling;
// kept in sync by hand since Resource itself defines custom (Un)MarshalJSON.
type resourceEnvelope struct {
	Ty   Type      `json:"ty"`
	RI   string    `json:"ri"`
	PI   string    `json:"pi,omitempty"`
	RN   string    `json:"rn"`
	CT   time.Time `json:"ct"`
	LT   time.Time `json:"lt"`
	ET   time.Time `json:"et,omitempty"`
	ST   int       `json:"st,omitempty"`

	ACPI []AccessControlRef `json:"acpi,omitempty"`
	LBL  []string           `json:"lbl,omitempty"`
	AT   []string           `json:"at,omitempty"`
	AA   []string           `json:"aa,omitempty"`
	CR   string             `json:"cr,omitempty"`

	MgmtObjType MgmtObjType `json:"mgd,omitempty"`
}

// MarshalJSON flattens Attrs alongside the common envelope fields into a
// single JSON object, matching the oneM2M wire representation where every
// attribute (common and type-specific) sits in one resource document.
func (r *Resource) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(resourceEnvelope{
		Ty: r.Ty, RI: r.RI, PI: r.PI, RN: r.RN, CT: r.CT, LT: r.LT, ET: r.ET, ST: r.ST,
		ACPI: r.ACPI, LBL: r.LBL, AT: r.AT, AA: r.AA, CR: r.CR, MgmtObjType: r.MgmtObjType,
	})
	if err != nil {
		return nil, err
	}
	if len(r.Attrs) == 0 {
		return base, nil
	}

	var flat map[string]json.RawMessage
	if err := json.Unmarshal(base, &flat); err != nil {
		return nil, err
	}
	for k, v := range r.Attrs {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		flat[k] = raw
	}
	return json.Marshal(flat)
}

// UnmarshalJSON reverses MarshalJSON: known envelope fields populate the
// typed struct members, everything else lands in Attrs.
func (r *Resource) UnmarshalJSON(data []byte) error {
	var env resourceEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	r.Ty, r.RI, r.PI, r.RN = env.Ty, env.RI, env.PI, env.RN
	r.CT, r.LT, r.ET, r.ST = env.CT, env.LT, env.ET, env.ST
	r.ACPI, r.LBL, r.AT, r.AA, r.CR = env.ACPI, env.LBL, env.AT, env.AA, env.CR
	r.MgmtObjType = env.MgmtObjType

	var flat map[string]json.RawMessage
	if err := json.Unmarshal(data, &flat); err != nil {
		return err
	}
	r.Attrs = make(map[string]interface{}, len(flat))
	for k, raw := range flat {
		if commonFieldNames[k] {
			continue
		}
		var v interface{}
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		r.Attrs[k] = v
	}
	return nil
}

// Clone returns a deep-enough copy safe for a background task to retain
// across a suspension point (spec.md DESIGN NOTES: "handlers ... re-read
// current state at execution" — Clone is used for the snapshot a scheduler
// hands to a one-shot handler before the real re-read).
func (r *Resource) Clone() *Resource {
	if r == nil {
		return nil
	}
	cp := *r
	cp.ACPI = append([]string(nil), r.ACPI...)
	cp.LBL = append([]string(nil), r.LBL...)
	cp.AT = append([]string(nil), r.AT...)
	cp.AA = append([]string(nil), r.AA...)
	cp.Attrs = make(map[string]interface{}, len(r.Attrs))
	for k, v := range r.Attrs {
		cp.Attrs[k] = v
	}
	return &cp
}
