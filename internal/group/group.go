// Package group implements spec.md §4.4's group fan-out: routing a request
// targeting ".../fopt[/<suffix>]" to every member of a <GRP>, recursing
// through nested groups, and aggregating the per-member responses. It also
// implements the group consistency strategy (csy) enforced on member-list
// changes.
package group

import (
	"context"
	"fmt"
	"strings"

	"github.com/onem2m-cse/cse/infrastructure/errors"
	"github.com/onem2m-cse/cse/internal/resource"
	"github.com/onem2m-cse/cse/internal/store"
)

// ConsistencyStrategy is a <GRP>'s csy, applied when a member turns out
// to be missing or type-incompatible with mt.
type ConsistencyStrategy string

const (
	AbandonMember ConsistencyStrategy = "ABANDON_MEMBER"
	AbandonGroup  ConsistencyStrategy = "ABANDON_GROUP"
	SetMixed      ConsistencyStrategy = "SET_MIXED"
)

// SubRequest is the minimal request shape the group fan-out needs to drive
// a per-member sub-dispatch; it intentionally doesn't import
// internal/dispatch's Request to avoid a package cycle (dispatch wires
// group in, not the reverse). A transport/dispatch-facing adapter maps
// between the two.
type SubRequest struct {
	Operation  resource.Operation
	To         string
	Originator string
	Ty         resource.Type
	Payload    map[string]interface{}
	RQI        string
}

// SubResponse is the matching minimal per-member result.
type SubResponse struct {
	RSC int
	RQI string
	To  string
	PC  interface{}
	RVI string
}

// SubDispatcher executes one SubRequest against the CSE (local or, for a
// remote member, forwarded through a CSR) and returns its SubResponse.
type SubDispatcher interface {
	Dispatch(ctx context.Context, req SubRequest) SubResponse
}

// Fanout drives group fan-out requests.
type Fanout struct {
	Store store.Store
	Sub   SubDispatcher
}

// New builds a Fanout.
func New(st store.Store, sub SubDispatcher) *Fanout {
	return &Fanout{Store: st, Sub: sub}
}

// ParseFanoutTarget splits a "to" address of the form
// ".../<groupRI>/fopt" or ".../<groupRI>/fopt/<suffix>" into the group's
// ri and the suffix to append to each member's target. ok is false when to
// does not name a fopt virtual resource.
func ParseFanoutTarget(to string) (groupRI, suffix string, ok bool) {
	marker := "/" + string(resource.VirtualFanOut)
	idx := strings.Index(to, marker)
	if idx < 0 {
		return "", "", false
	}
	groupRI = to[:idx]
	rest := to[idx+len(marker):]
	suffix = strings.TrimPrefix(rest, "/")
	return groupRI, suffix, true
}

// Handle resolves groupRI's members and fans req out to each, recursing
// into nested groups, then returns the {m2m:agr} aggregate. Per spec.md
// §4.4, the overall rsc is always OK; individual failures surface only in
// their sub-entry.
func (f *Fanout) Handle(ctx context.Context, groupRI, suffix string, req SubRequest) (*SubResponse, error) {
	grp, err := f.Store.GetResource(ctx, groupRI)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, errors.NotFound(groupRI)
		}
		return nil, err
	}
	if grp.Ty != resource.TypeGRP {
		return nil, errors.BadRequest(fmt.Sprintf("%s is not a group", groupRI))
	}

	members := memberList(grp)
	entries := make([]map[string]interface{}, 0, len(members))
	for _, memberRI := range members {
		entries = append(entries, f.fanOne(ctx, memberRI, suffix, req))
	}

	agr := map[string]interface{}{"m2m:agr": map[string]interface{}{"m2m:rsp": entries}}
	return &SubResponse{RSC: int(errors.RSCOK), RQI: req.RQI, To: req.To, PC: agr}, nil
}

// fanOne dispatches req against a single member, recursing through the
// member's own fopt if it is itself a group.
func (f *Fanout) fanOne(ctx context.Context, memberRI, suffix string, req SubRequest) map[string]interface{} {
	memberTarget := memberRI
	if suffix != "" {
		memberTarget = memberRI + "/" + suffix
	}

	if member, err := f.Store.GetResource(ctx, memberRI); err == nil && member.Ty == resource.TypeGRP {
		nested, nestedErr := f.Handle(ctx, memberRI, suffix, withTo(req, memberRI+"/"+string(resource.VirtualFanOut)))
		if nestedErr != nil {
			return entryFromError(req.RQI, memberRI, nestedErr)
		}
		return map[string]interface{}{"rsc": nested.RSC, "rqi": nested.RQI, "to": memberRI, "pc": nested.PC}
	}

	subReq := withTo(req, memberTarget)
	resp := f.Sub.Dispatch(ctx, subReq)
	return map[string]interface{}{"rsc": resp.RSC, "rqi": resp.RQI, "to": resp.To, "pc": resp.PC}
}

func withTo(req SubRequest, to string) SubRequest {
	req.To = to
	return req
}

func entryFromError(rqi, to string, err error) map[string]interface{} {
	if se, ok := err.(*errors.ServiceError); ok {
		return map[string]interface{}{"rsc": int(se.RSC), "rqi": rqi, "to": to, "pc": se.Error()}
	}
	return map[string]interface{}{"rsc": int(errors.RSCInternalServerError), "rqi": rqi, "to": to, "pc": err.Error()}
}

func memberList(grp *resource.Resource) []string {
	mid, _ := grp.Get("mid")
	switch list := mid.(type) {
	case []string:
		return list
	case []interface{}:
		out := make([]string, 0, len(list))
		for _, v := range list {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// ValidateMembership enforces spec.md §4.4's consistency strategy on group
// create/update: every mid entry must resolve to an existing resource of a
// type compatible with mt, and |mid| must not exceed mnm. Violations are
// handled per csy: ABANDON_MEMBER drops the offending entry from mid,
// ABANDON_GROUP fails the whole operation, SET_MIXED rewrites mt to the
// mixed-type marker (TypeUnknown) and keeps every member.
func ValidateMembership(ctx context.Context, lookup resource.Lookup, grp *resource.Resource) error {
	mid := memberList(grp)
	mnm, hasMnm := intAttrValue(grp, "mnm")
	if hasMnm && len(mid) > mnm {
		return errors.MaxNumberOfMemberExceeded(mnm)
	}

	mt, _ := intAttrValue(grp, "mt")
	csy := ConsistencyStrategy(stringAttrValue(grp, "csy"))
	if csy == "" {
		csy = AbandonMember
	}

	kept := make([]string, 0, len(mid))
	mixed := false
	for _, ri := range mid {
		member, found, err := lookup.GetByRI(ctx, ri)
		if err != nil {
			return err
		}
		compatible := !found || mt == 0 || int(member.Ty) == mt
		if found && compatible {
			kept = append(kept, ri)
			continue
		}

		switch csy {
		case AbandonGroup:
			return errors.GroupMemberTypeInconsistent(ri)
		case SetMixed:
			kept = append(kept, ri)
			mixed = true
		default: // AbandonMember
			continue
		}
	}

	grp.Set("mid", kept)
	grp.Set("cnm", len(kept))
	if mixed {
		grp.Set("mt", 0)
	}
	return nil
}

func intAttrValue(r *resource.Resource, name string) (int, bool) {
	v, ok := r.Get(name)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	}
	return 0, false
}

func stringAttrValue(r *resource.Resource, name string) string {
	v, ok := r.Get(name)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
