// Package dispatch implements the CRUDN request pipeline, spec.md §4.1:
// resolve target, validate framing, check access control, validate and
// activate the resource, commit, emit events, format the response.
package dispatch

import (
	"time"

	"github.com/onem2m-cse/cse/internal/resource"
)

// ResponseType is the oneM2M rt/nm (response type) enumeration controlling
// synchronous vs. non-blocking request handling.
type ResponseType int

const (
	ResponseTypeBlocking ResponseType = iota
	ResponseTypeNonBlockingSynch
	ResponseTypeNonBlockingAsynch
	ResponseTypeFlexBlocking
)

// ResultContent is the oneM2M rcn (result content) enumeration controlling
// what formatResource puts in the response's pc.
type ResultContent int

const (
	ResultContentAttributes ResultContent = iota
	ResultContentHierarchicalAddress
	ResultContentHierarchicalAddressAttributes
	ResultContentAttributesChildResources
	ResultContentAttributesChildResourceRefs
	ResultContentChildResourceRefs
	ResultContentOriginalResource
	ResultContentChildResources
	ResultContentModifiedAttributes
	ResultContentDiscoveryResultReferences
	ResultContentNothing
)

// Request is one CRUDN primitive as the dispatcher sees it: the parsed
// request framing parameters (spec.md §4.1 step 2) plus the create/update
// payload.
type Request struct {
	Operation resource.Operation
	// To is the target address: an ri (possibly CSE-relative), an
	// unstructured id, or a structured resource name (srn) starting with "/".
	To         string
	Originator string
	// Ty is the resource type being created; zero for non-create operations.
	Ty resource.Type
	// Payload is the candidate attribute dictionary for create/update.
	Payload map[string]interface{}

	RQI string // request identifier, echoed in the response
	RVI string // release version

	RQET time.Time // request expiration timestamp
	OET  time.Time // operation execution time
	RSET time.Time // result expiration timestamp

	RT  ResponseType
	RCN ResultContent

	// Discovery, when true, treats Operation=Retrieve as a discovery
	// request (spec.md §4.1 step 3: "discovery→DISCOVERY").
	Discovery    bool
	FilterCriteria map[string]interface{}
}

// Response is the dispatcher's CRUDN result, spec.md §4.1 step 8.
type Response struct {
	RSC int
	RQI string
	To  string
	// PC is the primitive content: shape depends on RCN (attributes dict,
	// child-resource-ref list, discovery URI list, etc.).
	PC interface{}
	OT time.Time
}
