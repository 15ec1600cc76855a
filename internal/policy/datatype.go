// Package policy implements the oneM2M attribute-policy registry and
// validator: declarative per-type, per-attribute rules (cardinality,
// optionality, data type, enumerations) applied to candidate attribute
// dictionaries on create/update/announce, per spec.md §4.2.
package policy

// DataType enumerates every attribute data type spec.md §4.2 lists.
type DataType int

const (
	TypeAny DataType = iota
	TypePositiveInteger
	TypeNonNegativeInteger
	TypeUnsignedInteger
	TypeInteger
	TypeFloat
	TypeBoolean
	TypeString
	TypeURI
	TypeTimestamp
	TypeAbsRelTimestamp
	TypeDuration // ISO-8601 duration
	TypeBase64
	TypeGeoCoordinate
	TypeEnum
	TypeSchedule // cron-like 7-field schedule string
	TypeList
	TypeNonEmptyList
	TypeDict
	TypeComplex // recursively validated against a named complex-type table
)

func (d DataType) String() string {
	switch d {
	case TypePositiveInteger:
		return "positiveInteger"
	case TypeNonNegativeInteger:
		return "nonNegativeInteger"
	case TypeUnsignedInteger:
		return "unsignedInteger"
	case TypeInteger:
		return "integer"
	case TypeFloat:
		return "float"
	case TypeBoolean:
		return "boolean"
	case TypeString:
		return "string"
	case TypeURI:
		return "anyURI"
	case TypeTimestamp:
		return "timestamp"
	case TypeAbsRelTimestamp:
		return "absRelTimestamp"
	case TypeDuration:
		return "duration"
	case TypeBase64:
		return "base64"
	case TypeGeoCoordinate:
		return "geoCoordinate"
	case TypeEnum:
		return "enum"
	case TypeSchedule:
		return "schedule"
	case TypeList:
		return "list"
	case TypeNonEmptyList:
		return "nonEmptyList"
	case TypeDict:
		return "dict"
	case TypeComplex:
		return "complex"
	default:
		return "any"
	}
}
