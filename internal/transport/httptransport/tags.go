package httptransport

import "github.com/onem2m-cse/cse/internal/resource"

// shortTag maps a resource type to the "m2m:<tag>" element name the HTTP
// binding wraps a resource document in, per the oneM2M TS-0004 naming
// convention. This mapping is a transport-layer concern (the wire envelope),
// distinct from resource.Resource's own attribute short-name mapping.
var shortTag = map[resource.Type]string{
	resource.TypeACP:     "acp",
	resource.TypeAE:      "ae",
	resource.TypeCNT:     "cnt",
	resource.TypeCIN:     "cin",
	resource.TypeCSEBase: "cb",
	resource.TypeGRP:     "grp",
	resource.TypeMGMTOBJ: "mgo",
	resource.TypeNOD:     "nod",
	resource.TypePCH:     "pch",
	resource.TypeCSR:     "csr",
	resource.TypeREQ:     "req",
	resource.TypeSCH:     "sch",
	resource.TypeSMD:     "smd",
	resource.TypeFCNT:    "fcnt",
	resource.TypeTS:      "ts",
	resource.TypeTSI:     "tsi",
	resource.TypeSUB:     "sub",
	resource.TypeCRS:     "crs",
	resource.TypeACTR:    "actr",
	resource.TypeDEPR:    "dep",
	resource.TypeTSB:     "tsb",
}

// wrapEnvelope wraps pc under "m2m:<tag>" for the single resource it
// represents, falling back to the raw value when the type is unknown.
func wrapEnvelope(ty resource.Type, pc interface{}) interface{} {
	tag, ok := shortTag[ty]
	if !ok {
		return pc
	}
	return map[string]interface{}{"m2m:" + tag: pc}
}

// typeForTag reverses shortTag, used to recover a create payload's resource
// type from its "m2m:<tag>" envelope wrapper.
func typeForTag(tag string) resource.Type {
	for ty, t := range shortTag {
		if t == tag {
			return ty
		}
	}
	return resource.TypeUnknown
}
