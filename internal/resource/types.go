// Package resource defines the oneM2M resource tree: the common resource
// envelope, the concrete type catalog, and the per-type lifecycle hooks the
// dispatcher drives on create/update/delete.
package resource

// Type is a oneM2M resource type code (ty).
type Type int

// Resource type codes, grounded on acme/etc/Types.py's ResourceTypes enum.
const (
	TypeUnknown Type = 0
	TypeACP     Type = 1
	TypeAE      Type = 2
	TypeCNT     Type = 3
	TypeCIN     Type = 4
	TypeCSEBase Type = 5
	TypeGRP     Type = 9
	TypeLCP     Type = 10
	TypeMGMTCMD Type = 13
	TypeMGMTOBJ Type = 14
	TypeNOD     Type = 15
	TypePCH     Type = 16
	TypeCSR     Type = 17
	TypeREQ     Type = 18
	TypeSCH     Type = 19
	TypeSMD     Type = 24
	TypeFCNT    Type = 28
	TypeTS      Type = 29
	TypeTSI     Type = 30
	TypeSUB     Type = 23
	TypeCRS     Type = 48
	TypeACTR    Type = 163
	TypeDEPR    Type = 164
	TypeTSB     Type = 165

	// Virtual resources and announced-resource indicator are modeled as
	// distinct, non-enumerated markers rather than ty codes: la/ol/fopt/pcu
	// are resolved by structured-name suffix (see VirtualSuffix), and
	// announced counterparts carry typeAnncBit|baseType.
	typeAnncBit Type = 0x4000
)

// MgmtObjType narrows TypeMGMTOBJ to a management-object specialization
// (mgd), grounded on acme/resources/mgmtobjs/*.py.
type MgmtObjType int

const (
	MgmtObjUnknown MgmtObjType = 0
	MgmtObjFWR     MgmtObjType = 1001 // firmware
	MgmtObjSWR     MgmtObjType = 1002 // software
	MgmtObjMEM     MgmtObjType = 1003
	MgmtObjBAT     MgmtObjType = 1006
	MgmtObjDVI     MgmtObjType = 1007 // device info
	MgmtObjANDI    MgmtObjType = 1009 // area network device info
	MgmtObjANI     MgmtObjType = 1010 // area network info
)

// Announced returns the announced-counterpart type code for a base type
// (e.g. AE -> AEAnnc), used by the generic AnnouncedResource wrapper instead
// of per-type *Annc structs (see announced.go).
func Announced(base Type) Type { return base | typeAnncBit }

// IsAnnounced reports whether ty is an announced-counterpart type code.
func IsAnnounced(ty Type) bool { return ty&typeAnncBit != 0 }

// BaseType strips the announced-counterpart marker, returning the original type.
func BaseType(ty Type) Type { return ty &^ typeAnncBit }

var typeNames = map[Type]string{
	TypeACP: "ACP", TypeAE: "AE", TypeCNT: "CNT", TypeCIN: "CIN",
	TypeCSEBase: "CSEBase", TypeGRP: "GRP", TypeLCP: "LCP",
	TypeMGMTCMD: "mgmtCmd", TypeMGMTOBJ: "mgmtObj", TypeNOD: "NOD",
	TypePCH: "PCH", TypeCSR: "CSR", TypeREQ: "request", TypeSCH: "schedule",
	TypeSMD: "SMD", TypeFCNT: "FCNT", TypeTS: "TS", TypeTSI: "TSI",
	TypeSUB: "SUB", TypeCRS: "CRS", TypeACTR: "action", TypeDEPR: "dependency",
	TypeTSB: "TSB",
}

// String returns the oneM2M resource type short name, with an "Annc" suffix
// for announced-counterpart codes.
func (t Type) String() string {
	if IsAnnounced(t) {
		return typeNames[BaseType(t)] + "Annc"
	}
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "unknown"
}

// VirtualSuffix names the virtual-child path segments the dispatcher
// recognizes beneath a structured resource name.
type VirtualSuffix string

const (
	VirtualLatest  VirtualSuffix = "la"
	VirtualOldest  VirtualSuffix = "ol"
	VirtualFanOut  VirtualSuffix = "fopt"
	VirtualPCU     VirtualSuffix = "pcu"
)
