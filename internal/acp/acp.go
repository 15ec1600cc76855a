// Package acp evaluates oneM2M access-control-policy privileges: the
// dispatcher's step 3 ("Evaluate ACPs referenced by the target... deny →
// ORIGINATOR_HAS_NO_PRIVILEGE", spec.md §4.1).
package acp

import (
	"context"

	"github.com/onem2m-cse/cse/internal/resource"
)

// Permission is the oneM2M access-control operation bitmask (acod/op).
type Permission int

const (
	PermCreate   Permission = 1 << iota // C
	PermRetrieve                        // R
	PermUpdate                          // U
	PermDelete                         // D
	PermNotify                          // N
	PermDiscovery                       // DISCOVERY
)

// PermissionFor maps a dispatcher operation to the permission bit it
// requires, per spec.md §4.1 step 3: "C→CREATE, R→RETRIEVE, U→UPDATE,
// D→DELETE, N→NOTIFY, discovery→DISCOVERY".
func PermissionFor(op resource.Operation, isDiscovery bool) Permission {
	if isDiscovery {
		return PermDiscovery
	}
	switch op {
	case resource.OpCreate:
		return PermCreate
	case resource.OpRetrieve:
		return PermRetrieve
	case resource.OpUpdate:
		return PermUpdate
	case resource.OpDelete:
		return PermDelete
	case resource.OpNotify:
		return PermNotify
	default:
		return 0
	}
}

// AccessControlRule is one entry of an ACP's pv/pvs attribute: a set of
// allowed originators (acor), the permission bitmask (acod/op), and an
// optional set of allowed originating IP addresses (acip) — left
// unenforced here (network-layer concern, not a dispatcher decision).
type AccessControlRule struct {
	Originators []string
	Operations  Permission
}

// wildcard matches any originator, per the oneM2M "all" acor convention.
const wildcard = "all"

func (r AccessControlRule) allows(originator string, perm Permission) bool {
	if r.Operations&perm == 0 {
		return false
	}
	for _, o := range r.Originators {
		if o == wildcard || o == originator {
			return true
		}
	}
	return false
}

// Policy is the evaluated form of an <ACP> resource's pv (self-privileges,
// governs access to the resources that reference this ACP via acpi) and pvs
// (privileges-for-self, governs access to the ACP resource itself).
type Policy struct {
	RI  string
	PV  []AccessControlRule
	PVS []AccessControlRule
}

// Allows reports whether originator holds perm under pv.
func (p Policy) Allows(originator string, perm Permission) bool {
	for _, rule := range p.PV {
		if rule.allows(originator, perm) {
			return true
		}
	}
	return false
}

// AllowsSelf reports whether originator holds perm over the ACP resource
// itself, evaluated against pvs rather than pv.
func (p Policy) AllowsSelf(originator string, perm Permission) bool {
	for _, rule := range p.PVS {
		if rule.allows(originator, perm) {
			return true
		}
	}
	return false
}

// ParseRules decodes the raw pv/pvs attribute value (a list of
// {acor: [...], op: int} dicts, as produced by the wire codec) into
// AccessControlRules. Entries that are not dicts are skipped rather than failing the
// whole policy, since attribute-level shape was already checked by the
// validator (§4.2) before activation runs.
func ParseRules(raw interface{}) []AccessControlRule {
	list, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	var out []AccessControlRule
	for _, item := range list {
		dict, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		rule := AccessControlRule{}
		if acor, ok := dict["acor"].([]interface{}); ok {
			for _, o := range acor {
				if s, ok := o.(string); ok {
					rule.Originators = append(rule.Originators, s)
				}
			}
		}
		switch v := dict["op"].(type) {
		case int:
			rule.Operations = Permission(v)
		case int64:
			rule.Operations = Permission(v)
		case float64:
			rule.Operations = Permission(v)
		}
		out = append(out, rule)
	}
	return out
}

// FromResource builds a Policy from an <ACP> resource, reading pv/pvs out
// of its attribute bag.
func FromResource(r *resource.Resource) Policy {
	pv, _ := r.Get("pv")
	pvs, _ := r.Get("pvs")
	return Policy{
		RI:  r.RI,
		PV:  ParseRules(pv),
		PVS: ParseRules(pvs),
	}
}

// Evaluator resolves a target resource's acpi list into Policies and
// decides whether an originator holds the required permission. The creator
// (cr) of a resource always implicitly holds full privileges over it, per
// common oneM2M CSE practice (not explicitly re-stated per attribute in
// spec.md, but implied by "creator" semantics throughout §3/§4).
type Evaluator struct {
	Lookup resource.Lookup
}

// NewEvaluator builds an Evaluator backed by the given resource lookup.
func NewEvaluator(lookup resource.Lookup) *Evaluator {
	return &Evaluator{Lookup: lookup}
}

// Allow evaluates access for a non-ACP target: true if any ACP referenced
// by target.ACPI grants perm to originator under pv, or if originator is
// the resource's creator.
func (e *Evaluator) Allow(ctx context.Context, target *resource.Resource, originator string, perm Permission) (bool, error) {
	if target.CR != "" && target.CR == originator {
		return true, nil
	}
	for _, acpRI := range target.ACPI {
		acpRes, found, err := e.Lookup.GetByRI(ctx, acpRI)
		if err != nil {
			return false, err
		}
		if !found {
			continue
		}
		if FromResource(acpRes).Allows(originator, perm) {
			return true, nil
		}
	}
	return false, nil
}

// AllowSelf evaluates access to the <ACP> resource itself, against pvs
// rather than pv, per spec.md §4.1 step 3: "Evaluate ACPs referenced by
// the target (or by the target's creator for <ACP> itself)".
func (e *Evaluator) AllowSelf(acpRes *resource.Resource, originator string, perm Permission) bool {
	if acpRes.CR != "" && acpRes.CR == originator {
		return true
	}
	return FromResource(acpRes).AllowsSelf(originator, perm)
}
