package policy

import (
	"fmt"
	"sync"

	"github.com/onem2m-cse/cse/internal/resource"
)

// Cardinality describes how many values an attribute may carry.
type Cardinality int

const (
	CardinalitySingle Cardinality = iota
	CardinalityList
)

// Optionality is M(andatory)/O(ptional)/NP (not-permitted), evaluated
// per-operation (create/update/discovery), per spec.md §4.2.
type Optionality int

const (
	OptionalityMandatory Optionality = iota
	OptionalityOptional
	OptionalityNotPermitted
)

// AnnounceDisposition is an alias of resource.AnnouncementDisposition, so
// the policy table and the resource package share one disposition type;
// resource.MirroredAttributes is driven by the
// registry's disposition table via AnnounceDispositions().
type AnnounceDisposition = resource.AnnouncementDisposition

// AttributePolicy is one row of the per-type attribute-policy table, per
// spec.md §4.2 "Policy structure per attribute".
type AttributePolicy struct {
	ShortName       string
	LongName        string
	Namespace       string
	Type            DataType
	ListSubType     DataType // meaningful only when Type is List/NonEmptyList
	Cardinality     Cardinality
	OnCreate        Optionality
	OnUpdate        Optionality
	OnDiscovery     Optionality
	Announce        AnnounceDisposition
	EnumValues      map[string]bool // meaningful only when Type is Enum
	ApplicableTypes []resource.Type
	// ComplexAttributes: when Type is Complex, the nested attribute table
	// (e.g. m2m:contentInfo, a geo Point/Polygon).
	ComplexAttributes map[string]AttributePolicy
}

// FlexContainerSpec is a registered flexContainer specialization, per
// spec.md §4.2 "FlexContainer specializations".
type FlexContainerSpec struct {
	TPE        string // domain:short, e.g. "hd:temperature"
	LongName   string
	Attributes map[string]AttributePolicy
}

// Registry holds every type's attribute policies plus the flexContainer
// specialization table, built once at startup and thereafter read-only
// (spec.md DESIGN NOTES: "initialized once at startup ... hot-reload via a
// versioned snapshot swap").
type Registry struct {
	mu             sync.RWMutex
	byType         map[resource.Type]map[string]AttributePolicy
	flexContainers map[string]FlexContainerSpec
}

// NewRegistry builds a registry pre-populated with the common attribute set
// shared by every resource plus the representative per-type policies named
// in spec.md §3/§4.2/§8 (CNT/CIN/TS/TSI/SUB/GRP/ACP and the types the
// dispatcher's test scenarios exercise). Additional specializations register
// via RegisterFlexContainer at startup from declarative policy files.
func NewRegistry() *Registry {
	r := &Registry{
		byType:         make(map[resource.Type]map[string]AttributePolicy),
		flexContainers: make(map[string]FlexContainerSpec),
	}
	r.registerCommon()
	r.registerCNT()
	r.registerCIN()
	r.registerTS()
	r.registerTSI()
	r.registerSUB()
	r.registerCRS()
	r.registerGRP()
	r.registerACP()
	r.registerACTR()
	r.registerDEPR()
	r.registerAE()
	return r
}

func (r *Registry) define(ty resource.Type, policies ...AttributePolicy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	table, ok := r.byType[ty]
	if !ok {
		table = make(map[string]AttributePolicy)
		r.byType[ty] = table
	}
	for _, p := range policies {
		table[p.ShortName] = p
	}
}

// commonAttrs are present on every resource type (spec.md §3's universal
// envelope). Individual per-type tables only need to add type-specific
// attributes; Validate merges common + per-type automatically.
func (r *Registry) commonAttrs() []AttributePolicy {
	req := func(name string, t DataType) AttributePolicy {
		return AttributePolicy{ShortName: name, Type: t, OnCreate: OptionalityNotPermitted, OnUpdate: OptionalityNotPermitted, Announce: resource.DispositionMA}
	}
	return []AttributePolicy{
		req("ty", TypeInteger),
		req("ri", TypeString),
		req("pi", TypeString),
		{ShortName: "rn", Type: TypeString, OnCreate: OptionalityOptional, OnUpdate: OptionalityNotPermitted},
		req("ct", TypeTimestamp),
		req("lt", TypeTimestamp),
		{ShortName: "et", Type: TypeTimestamp, OnCreate: OptionalityOptional, OnUpdate: OptionalityOptional, Announce: resource.DispositionMA},
		{ShortName: "acpi", Type: TypeNonEmptyList, ListSubType: TypeString, Cardinality: CardinalityList, OnCreate: OptionalityOptional, OnUpdate: OptionalityOptional},
		{ShortName: "lbl", Type: TypeList, ListSubType: TypeString, Cardinality: CardinalityList, OnCreate: OptionalityOptional, OnUpdate: OptionalityOptional, Announce: resource.DispositionOA},
		{ShortName: "at", Type: TypeList, ListSubType: TypeString, Cardinality: CardinalityList, OnCreate: OptionalityOptional, OnUpdate: OptionalityOptional},
		{ShortName: "aa", Type: TypeList, ListSubType: TypeString, Cardinality: CardinalityList, OnCreate: OptionalityOptional, OnUpdate: OptionalityOptional},
		{ShortName: "cr", Type: TypeString, OnCreate: OptionalityOptional, OnUpdate: OptionalityNotPermitted},
		{ShortName: "st", Type: TypeNonNegativeInteger, OnCreate: OptionalityNotPermitted, OnUpdate: OptionalityNotPermitted},
	}
}

func (r *Registry) registerCommon() {
	// Common attrs are applicable to every type; registered lazily by
	// Validate via mergedTable rather than duplicated into every map.
}

func (r *Registry) registerAE() {
	r.define(resource.TypeAE,
		AttributePolicy{ShortName: "api", Type: TypeString, OnCreate: OptionalityMandatory, OnUpdate: OptionalityNotPermitted, Announce: resource.DispositionMA},
		AttributePolicy{ShortName: "aei", Type: TypeString, OnCreate: OptionalityOptional, OnUpdate: OptionalityNotPermitted},
		AttributePolicy{ShortName: "rr", Type: TypeBoolean, OnCreate: OptionalityMandatory, OnUpdate: OptionalityOptional, Announce: resource.DispositionMA},
		AttributePolicy{ShortName: "poa", Type: TypeList, ListSubType: TypeURI, Cardinality: CardinalityList, OnCreate: OptionalityOptional, OnUpdate: OptionalityOptional, Announce: resource.DispositionOA},
	)
}

func (r *Registry) registerCNT() {
	r.define(resource.TypeCNT,
		AttributePolicy{ShortName: "cr", Type: TypeString, OnCreate: OptionalityOptional, OnUpdate: OptionalityNotPermitted},
		AttributePolicy{ShortName: "mni", Type: TypePositiveInteger, OnCreate: OptionalityOptional, OnUpdate: OptionalityOptional, Announce: resource.DispositionMA},
		AttributePolicy{ShortName: "mbs", Type: TypePositiveInteger, OnCreate: OptionalityOptional, OnUpdate: OptionalityOptional, Announce: resource.DispositionMA},
		AttributePolicy{ShortName: "mia", Type: TypePositiveInteger, OnCreate: OptionalityOptional, OnUpdate: OptionalityOptional},
		AttributePolicy{ShortName: "cni", Type: TypeNonNegativeInteger, OnCreate: OptionalityNotPermitted, OnUpdate: OptionalityNotPermitted},
		AttributePolicy{ShortName: "cbs", Type: TypeNonNegativeInteger, OnCreate: OptionalityNotPermitted, OnUpdate: OptionalityNotPermitted},
		AttributePolicy{ShortName: "li", Type: TypeURI, OnCreate: OptionalityOptional, OnUpdate: OptionalityNotPermitted},
	)
}

func (r *Registry) registerCIN() {
	r.define(resource.TypeCIN,
		AttributePolicy{ShortName: "cnf", Type: TypeString, OnCreate: OptionalityOptional, OnUpdate: OptionalityNotPermitted, Announce: resource.DispositionMA},
		AttributePolicy{ShortName: "con", Type: TypeString, OnCreate: OptionalityMandatory, OnUpdate: OptionalityNotPermitted, Announce: resource.DispositionMA},
		AttributePolicy{ShortName: "cs", Type: TypeNonNegativeInteger, OnCreate: OptionalityNotPermitted, OnUpdate: OptionalityNotPermitted},
		AttributePolicy{ShortName: "dgt", Type: TypeTimestamp, OnCreate: OptionalityOptional, OnUpdate: OptionalityNotPermitted},
	)
}

func (r *Registry) registerTS() {
	r.define(resource.TypeTS,
		AttributePolicy{ShortName: "pei", Type: TypePositiveInteger, OnCreate: OptionalityOptional, OnUpdate: OptionalityOptional},
		AttributePolicy{ShortName: "peid", Type: TypePositiveInteger, OnCreate: OptionalityOptional, OnUpdate: OptionalityOptional},
		AttributePolicy{ShortName: "mdt", Type: TypePositiveInteger, OnCreate: OptionalityOptional, OnUpdate: OptionalityOptional},
		AttributePolicy{ShortName: "mdd", Type: TypeBoolean, OnCreate: OptionalityOptional, OnUpdate: OptionalityOptional},
		AttributePolicy{ShortName: "mdn", Type: TypePositiveInteger, OnCreate: OptionalityOptional, OnUpdate: OptionalityOptional},
		AttributePolicy{ShortName: "mdc", Type: TypeNonNegativeInteger, OnCreate: OptionalityNotPermitted, OnUpdate: OptionalityNotPermitted},
		AttributePolicy{ShortName: "mdlt", Type: TypeList, ListSubType: TypeTimestamp, Cardinality: CardinalityList, OnCreate: OptionalityNotPermitted, OnUpdate: OptionalityNotPermitted},
		AttributePolicy{ShortName: "mni", Type: TypePositiveInteger, OnCreate: OptionalityOptional, OnUpdate: OptionalityOptional},
		AttributePolicy{ShortName: "mbs", Type: TypePositiveInteger, OnCreate: OptionalityOptional, OnUpdate: OptionalityOptional},
		AttributePolicy{ShortName: "cni", Type: TypeNonNegativeInteger, OnCreate: OptionalityNotPermitted, OnUpdate: OptionalityNotPermitted},
		AttributePolicy{ShortName: "cbs", Type: TypeNonNegativeInteger, OnCreate: OptionalityNotPermitted, OnUpdate: OptionalityNotPermitted},
	)
}

func (r *Registry) registerTSI() {
	r.define(resource.TypeTSI,
		AttributePolicy{ShortName: "dgt", Type: TypeTimestamp, OnCreate: OptionalityMandatory, OnUpdate: OptionalityNotPermitted},
		AttributePolicy{ShortName: "con", Type: TypeString, OnCreate: OptionalityMandatory, OnUpdate: OptionalityNotPermitted},
		AttributePolicy{ShortName: "cs", Type: TypeNonNegativeInteger, OnCreate: OptionalityNotPermitted, OnUpdate: OptionalityNotPermitted},
		AttributePolicy{ShortName: "snr", Type: TypeNonNegativeInteger, OnCreate: OptionalityOptional, OnUpdate: OptionalityNotPermitted},
	)
}

func (r *Registry) registerSUB() {
	r.define(resource.TypeSUB,
		AttributePolicy{ShortName: "net", Type: TypeNonEmptyList, ListSubType: TypeInteger, Cardinality: CardinalityList, OnCreate: OptionalityMandatory, OnUpdate: OptionalityOptional},
		AttributePolicy{ShortName: "nct", Type: TypeEnum, EnumValues: map[string]bool{"all": true, "modifiedAttributes": true, "ri": true, "triggerPayload": true, "timeSeriesNotification": true}, OnCreate: OptionalityOptional, OnUpdate: OptionalityOptional},
		AttributePolicy{ShortName: "nu", Type: TypeNonEmptyList, ListSubType: TypeURI, Cardinality: CardinalityList, OnCreate: OptionalityMandatory, OnUpdate: OptionalityOptional},
		AttributePolicy{ShortName: "ln", Type: TypeBoolean, OnCreate: OptionalityOptional, OnUpdate: OptionalityOptional},
		AttributePolicy{ShortName: "exc", Type: TypePositiveInteger, OnCreate: OptionalityOptional, OnUpdate: OptionalityOptional},
		AttributePolicy{ShortName: "nec", Type: TypePositiveInteger, OnCreate: OptionalityOptional, OnUpdate: OptionalityOptional},
		AttributePolicy{ShortName: "nse", Type: TypeBoolean, OnCreate: OptionalityOptional, OnUpdate: OptionalityOptional},
		AttributePolicy{ShortName: "su", Type: TypeURI, OnCreate: OptionalityOptional, OnUpdate: OptionalityNotPermitted},
		AttributePolicy{ShortName: "bn", Type: TypeComplex, OnCreate: OptionalityOptional, OnUpdate: OptionalityOptional},
		AttributePolicy{ShortName: "enc", Type: TypeComplex, OnCreate: OptionalityOptional, OnUpdate: OptionalityOptional},
	)
}

func (r *Registry) registerCRS() {
	r.define(resource.TypeCRS,
		AttributePolicy{ShortName: "nu", Type: TypeNonEmptyList, ListSubType: TypeURI, Cardinality: CardinalityList, OnCreate: OptionalityMandatory, OnUpdate: OptionalityOptional},
		AttributePolicy{ShortName: "rrat", Type: TypeNonEmptyList, ListSubType: TypeString, Cardinality: CardinalityList, OnCreate: OptionalityMandatory, OnUpdate: OptionalityOptional},
		AttributePolicy{ShortName: "eem", Type: TypePositiveInteger, OnCreate: OptionalityOptional, OnUpdate: OptionalityOptional},
		AttributePolicy{ShortName: "twt", Type: TypeEnum, EnumValues: map[string]bool{"PERIODICWINDOW": true, "SLIDINGWINDOW": true}, OnCreate: OptionalityOptional, OnUpdate: OptionalityOptional},
		AttributePolicy{ShortName: "tws", Type: TypePositiveInteger, OnCreate: OptionalityMandatory, OnUpdate: OptionalityOptional},
	)
}

func (r *Registry) registerGRP() {
	r.define(resource.TypeGRP,
		AttributePolicy{ShortName: "mt", Type: TypeInteger, OnCreate: OptionalityMandatory, OnUpdate: OptionalityOptional},
		AttributePolicy{ShortName: "mid", Type: TypeNonEmptyList, ListSubType: TypeString, Cardinality: CardinalityList, OnCreate: OptionalityMandatory, OnUpdate: OptionalityOptional},
		AttributePolicy{ShortName: "cnm", Type: TypeNonNegativeInteger, OnCreate: OptionalityNotPermitted, OnUpdate: OptionalityNotPermitted},
		AttributePolicy{ShortName: "mnm", Type: TypePositiveInteger, OnCreate: OptionalityOptional, OnUpdate: OptionalityOptional},
		AttributePolicy{ShortName: "csy", Type: TypeEnum, EnumValues: map[string]bool{"ABANDON_MEMBER": true, "ABANDON_GROUP": true, "SET_MIXED": true}, OnCreate: OptionalityOptional, OnUpdate: OptionalityOptional},
	)
}

func (r *Registry) registerACP() {
	r.define(resource.TypeACP,
		AttributePolicy{ShortName: "pv", Type: TypeComplex, OnCreate: OptionalityMandatory, OnUpdate: OptionalityOptional},
		AttributePolicy{ShortName: "pvs", Type: TypeNonEmptyList, Cardinality: CardinalityList, OnCreate: OptionalityMandatory, OnUpdate: OptionalityOptional},
	)
}

func (r *Registry) registerACTR() {
	r.define(resource.TypeACTR,
		AttributePolicy{ShortName: "sri", Type: TypeString, OnCreate: OptionalityMandatory, OnUpdate: OptionalityNotPermitted},
		AttributePolicy{ShortName: "evm", Type: TypeEnum, EnumValues: map[string]bool{"off": true, "once": true, "periodic": true, "continuous": true}, OnCreate: OptionalityMandatory, OnUpdate: OptionalityOptional},
		AttributePolicy{ShortName: "ecp", Type: TypePositiveInteger, OnCreate: OptionalityOptional, OnUpdate: OptionalityOptional},
		AttributePolicy{ShortName: "orc", Type: TypeString, OnCreate: OptionalityMandatory, OnUpdate: OptionalityOptional},
		AttributePolicy{ShortName: "prst", Type: TypeEnum, EnumValues: map[string]bool{"off": true, "armed": true, "fired": true}, OnCreate: OptionalityNotPermitted, OnUpdate: OptionalityNotPermitted},
		// evc is the evaluation criterion: {sbjt: subject attribute name,
		// op: one of eq/ne/lt/le/gt/ge/contains, thld: comparison threshold}.
		AttributePolicy{ShortName: "evc", Type: TypeComplex, OnCreate: OptionalityMandatory, OnUpdate: OptionalityOptional},
		// apv is the action primitive: {op: C/U/D, to: target URI, pc: content}.
		AttributePolicy{ShortName: "apv", Type: TypeComplex, OnCreate: OptionalityMandatory, OnUpdate: OptionalityOptional},
	)
}

func (r *Registry) registerDEPR() {
	r.define(resource.TypeDEPR,
		// evc mirrors <ACTR>'s evaluation criterion, evaluated against its
		// own sri instead of the owning <ACTR>'s subject.
		AttributePolicy{ShortName: "sri", Type: TypeString, OnCreate: OptionalityMandatory, OnUpdate: OptionalityNotPermitted},
		AttributePolicy{ShortName: "evc", Type: TypeComplex, OnCreate: OptionalityMandatory, OnUpdate: OptionalityOptional},
		// sfc: "simultaneous" when true (criterion must hold at evaluation
		// time), "ever-been-true since arming" when false.
		AttributePolicy{ShortName: "sfc", Type: TypeBoolean, OnCreate: OptionalityOptional, OnUpdate: OptionalityOptional},
	)
}

// RegisterFlexContainer installs a flexContainer specialization loaded from
// a declarative policy file, per spec.md §4.2: "Registered at startup from
// declarative attribute-policy files ... Container definitions must be
// unique across the registry."
func (r *Registry) RegisterFlexContainer(spec FlexContainerSpec) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.flexContainers[spec.TPE]; exists {
		return fmt.Errorf("flexContainer specialization %q already registered", spec.TPE)
	}
	r.flexContainers[spec.TPE] = spec
	return nil
}

// FlexContainer looks up a registered specialization by tpe.
func (r *Registry) FlexContainer(tpe string) (FlexContainerSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.flexContainers[tpe]
	return spec, ok
}

// mergedTable returns the common attribute table merged with ty's
// type-specific table (type-specific entries win on short-name collision,
// which never happens in practice since per-type names are distinct from
// the common envelope).
func (r *Registry) mergedTable(ty resource.Type) map[string]AttributePolicy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	merged := make(map[string]AttributePolicy)
	for _, p := range r.commonAttrs() {
		merged[p.ShortName] = p
	}
	for name, p := range r.byType[resource.BaseType(ty)] {
		merged[name] = p
	}
	return merged
}

// AnnounceDispositions returns the short-name -> disposition table for ty,
// used by resource.MirroredAttributes when building an announced mirror.
func (r *Registry) AnnounceDispositions(ty resource.Type) map[string]AnnounceDisposition {
	table := r.mergedTable(ty)
	out := make(map[string]AnnounceDisposition, len(table))
	for name, p := range table {
		out[name] = p.Announce
	}
	return out
}
