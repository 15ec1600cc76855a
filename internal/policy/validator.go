package policy

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/onem2m-cse/cse/internal/resource"
)

// ValidationError is the Ok|Err result type spec.md DESIGN NOTES calls for
// ("replace [exceptions] with a result type (Ok | Err{code, attribute,
// message}) propagated through validator calls") instead of panicking.
type ValidationError struct {
	Attribute string
	Message   string
}

func (e *ValidationError) Error() string {
	if e.Attribute == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Attribute, e.Message)
}

// scheduleRegexp matches the fixed 7-field cron-like schedule string
// (sec min hour dom mon dow year), per spec.md §4.2.
var scheduleRegexp = regexp.MustCompile(`^\S+\s+\S+\s+\S+\s+\S+\s+\S+\s+\S+\s+\S+$`)

// cnfRegexp matches "<mediaType>:<enc>[:<contentSecurity>]", per spec.md §4.2.
var cnfRegexp = regexp.MustCompile(`^[^:]+:[^:]+(:[^:]+)?$`)

// Validator applies a Registry's policies to candidate attribute
// dictionaries for create/update/announce, per spec.md §4.2.
type Validator struct {
	registry *Registry
}

// NewValidator builds a Validator bound to reg.
func NewValidator(reg *Registry) *Validator {
	return &Validator{registry: reg}
}

// Validate checks dict against ty's merged attribute table for the given
// operation. internallyCreated relaxes NotPermitted-on-create checks for
// fields the dispatcher itself seeds (ri, ct, lt, st, ...).
func (v *Validator) Validate(ty resource.Type, op resource.Operation, dict map[string]interface{}, internallyCreated bool) *ValidationError {
	table := v.registry.mergedTable(ty)

	for name, policy := range table {
		val, present := dict[name]
		opt := v.optionalityFor(policy, op)

		if !present {
			if opt == OptionalityMandatory && !internallyCreated {
				return &ValidationError{Attribute: name, Message: "mandatory attribute is missing"}
			}
			continue
		}

		if opt == OptionalityNotPermitted && !internallyCreated {
			return &ValidationError{Attribute: name, Message: "attribute is not permitted for this operation"}
		}

		if err := v.validateValue(name, policy, val); err != nil {
			return err
		}
	}

	if err := v.validateSpecial(ty, dict); err != nil {
		return err
	}

	return nil
}

func (v *Validator) optionalityFor(p AttributePolicy, op resource.Operation) Optionality {
	switch op {
	case resource.OpCreate, resource.OpAnnounce:
		return p.OnCreate
	case resource.OpUpdate:
		return p.OnUpdate
	default:
		return p.OnDiscovery
	}
}

func (v *Validator) validateValue(name string, p AttributePolicy, val interface{}) *ValidationError {
	switch p.Type {
	case TypeList, TypeNonEmptyList:
		items, ok := toSlice(val)
		if !ok {
			return &ValidationError{Attribute: name, Message: "expected a list"}
		}
		if p.Type == TypeNonEmptyList && len(items) == 0 {
			return &ValidationError{Attribute: name, Message: "list must be non-empty"}
		}
		for i, item := range items {
			if err := v.scalarCheck(fmt.Sprintf("%s[%d]", name, i), p.ListSubType, item, p.EnumValues); err != nil {
				return err
			}
		}
		return nil
	case TypeComplex:
		// Nested dictionaries are validated by the owning resource's
		// behavior hook (e.g. SUB's bn/enc), not generically here.
		return nil
	default:
		return v.scalarCheck(name, p.Type, val, p.EnumValues)
	}
}

func (v *Validator) scalarCheck(name string, t DataType, val interface{}, enumValues map[string]bool) *ValidationError {
	switch t {
	case TypePositiveInteger:
		n, ok := toInt(val)
		if !ok || n <= 0 {
			return &ValidationError{Attribute: name, Message: "expected a positive integer"}
		}
	case TypeNonNegativeInteger, TypeUnsignedInteger:
		n, ok := toInt(val)
		if !ok || n < 0 {
			return &ValidationError{Attribute: name, Message: "expected a non-negative integer"}
		}
	case TypeInteger:
		if _, ok := toInt(val); !ok {
			return &ValidationError{Attribute: name, Message: "expected an integer"}
		}
	case TypeFloat:
		if _, ok := toFloat(val); !ok {
			return &ValidationError{Attribute: name, Message: "expected a float"}
		}
	case TypeBoolean:
		if _, ok := val.(bool); !ok {
			return &ValidationError{Attribute: name, Message: "expected a boolean"}
		}
	case TypeString, TypeURI, TypeTimestamp, TypeAbsRelTimestamp, TypeDuration, TypeBase64:
		if _, ok := val.(string); !ok {
			return &ValidationError{Attribute: name, Message: "expected a string"}
		}
	case TypeEnum:
		s, ok := val.(string)
		if !ok {
			return &ValidationError{Attribute: name, Message: "expected an enum string"}
		}
		if len(enumValues) > 0 && !enumValues[s] {
			return &ValidationError{Attribute: name, Message: fmt.Sprintf("%q is not a valid enum value", s)}
		}
	case TypeSchedule:
		s, ok := val.(string)
		if !ok || !scheduleRegexp.MatchString(s) {
			return &ValidationError{Attribute: name, Message: "expected a 7-field cron-like schedule string"}
		}
	case TypeGeoCoordinate:
		if err := validateGeo(val); err != nil {
			return &ValidationError{Attribute: name, Message: err.Error()}
		}
	case TypeDict:
		if _, ok := val.(map[string]interface{}); !ok {
			return &ValidationError{Attribute: name, Message: "expected a dictionary"}
		}
	}
	return nil
}

// validateSpecial applies the cross-cutting checks spec.md §4.2 calls out
// by name: pvs non-empty rule list, cnf media-type format, and (handled via
// scalarCheck on declared geoCoordinate attributes) geo-point shape.
func (v *Validator) validateSpecial(ty resource.Type, dict map[string]interface{}) *ValidationError {
	if resource.BaseType(ty) == resource.TypeACP {
		if raw, ok := dict["pvs"]; ok {
			items, ok := toSlice(raw)
			if !ok || len(items) == 0 {
				return &ValidationError{Attribute: "pvs", Message: "must be a non-empty list of access-control rules"}
			}
		}
	}
	if resource.BaseType(ty) == resource.TypeCIN {
		if raw, ok := dict["cnf"]; ok {
			s, ok := raw.(string)
			if !ok || !cnfRegexp.MatchString(s) {
				return &ValidationError{Attribute: "cnf", Message: "must match <mediaType>:<enc>[:<contentSecurity>]"}
			}
		}
	}
	return nil
}

// validateGeo checks point/polygon/multi-polygon shapes, per spec.md §4.2:
// "Geo-point coordinates must be [lon,lat] floats; polygon first and last
// coordinate must be equal; multi-polygon is an array of such polygons."
func validateGeo(val interface{}) error {
	coords, ok := toSlice(val)
	if !ok || len(coords) < 2 {
		return fmt.Errorf("expected [lon,lat] or a polygon/multi-polygon array")
	}
	// Point: [lon, lat].
	if _, lonOK := toFloat(coords[0]); lonOK {
		if _, latOK := toFloat(coords[1]); latOK && len(coords) == 2 {
			return nil
		}
	}
	// Polygon: list of [lon,lat] pairs, first == last.
	if isPolygon(coords) {
		return validatePolygonClosure(coords)
	}
	// Multi-polygon: list of polygons.
	for _, ring := range coords {
		sub, ok := toSlice(ring)
		if !ok || !isPolygon(sub) {
			return fmt.Errorf("multi-polygon entries must each be a closed polygon")
		}
		if err := validatePolygonClosure(sub); err != nil {
			return err
		}
	}
	return nil
}

func isPolygon(coords []interface{}) bool {
	if len(coords) == 0 {
		return false
	}
	first, ok := toSlice(coords[0])
	if !ok || len(first) != 2 {
		return false
	}
	_, lonOK := toFloat(first[0])
	_, latOK := toFloat(first[1])
	return lonOK && latOK
}

func validatePolygonClosure(coords []interface{}) error {
	first, _ := toSlice(coords[0])
	last, _ := toSlice(coords[len(coords)-1])
	fLon, _ := toFloat(first[0])
	fLat, _ := toFloat(first[1])
	lLon, _ := toFloat(last[0])
	lLat, _ := toFloat(last[1])
	if fLon != lLon || fLat != lLat {
		return fmt.Errorf("polygon first and last coordinate must be equal")
	}
	return nil
}

func toSlice(v interface{}) ([]interface{}, bool) {
	switch s := v.(type) {
	case []interface{}:
		return s, true
	case []string:
		out := make([]interface{}, len(s))
		for i, x := range s {
			out[i] = x
		}
		return out, true
	}
	return nil, false
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), n == float64(int(n))
	case string:
		var i int
		if _, err := fmt.Sscanf(n, "%d", &i); err == nil && strings.TrimSpace(n) != "" {
			return i, true
		}
	}
	return 0, false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		var f float64
		if _, err := fmt.Sscanf(n, "%g", &f); err == nil && strings.TrimSpace(n) != "" {
			return f, true
		}
	}
	return 0, false
}
