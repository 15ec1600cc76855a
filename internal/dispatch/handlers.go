package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/onem2m-cse/cse/infrastructure/errors"
	"github.com/onem2m-cse/cse/internal/acp"
	"github.com/onem2m-cse/cse/internal/eventbus"
	"github.com/onem2m-cse/cse/internal/resource"
	"github.com/onem2m-cse/cse/internal/store"
)

// handleCreate implements spec.md §4.1 steps 3-8 for Create: ACP check
// against the parent, child-type allowance, validation, activation,
// commit, and event emission.
func (d *Dispatcher) handleCreate(ctx context.Context, req *Request, parentRI string, now time.Time) *Response {
	parent, err := d.Store.GetResource(ctx, parentRI)
	if err != nil {
		if err == store.ErrNotFound {
			return d.fail(req, errors.NotFound(parentRI))
		}
		return d.fail(req, errors.Internal("loading parent", err))
	}

	if allowed, err := d.checkAccess(ctx, parent, req.Originator, acp.PermCreate); err != nil {
		return d.fail(req, errors.Internal("evaluating access control", err))
	} else if !allowed {
		return d.fail(req, errors.OriginatorHasNoPrivilege(req.Originator, parentRI))
	}

	if !d.Behaviors.AllowsChild(parent.Ty, req.Ty) {
		return d.fail(req, errors.InvalidChildResourceType(parent.Ty.String(), req.Ty.String()))
	}

	if verr := d.Validator.Validate(req.Ty, resource.OpCreate, req.Payload, false); verr != nil {
		return d.fail(req, errors.ContentsUnacceptable(verr.Error()))
	}

	child := resource.New(req.Ty, now)
	child.RI = resource.NewRI()
	child.PI = parentRI
	child.CR = req.Originator
	applyPayload(child, req.Payload)
	if child.RN == "" {
		child.RN = child.RI
	}

	behavior := d.Behaviors.Behavior(req.Ty)
	if behavior != nil {
		actx := resource.ActivationContext{Now: now, Parent: parent, Originator: req.Originator, Store: store.Lookup{Store: d.Store}}
		if err := behavior.Activate(ctx, child, actx); err != nil {
			return d.fail(req, errors.ContentsUnacceptable(err.Error()))
		}
	}

	parentSRN, _ := d.Store.GetIdentifierByRI(ctx, parentRI)
	srn := resource.BuildSRN(parentSRN.SRN, child.RN)

	if err := d.Store.PutResource(ctx, child); err != nil {
		return d.fail(req, errors.DatabaseError("put resource", err))
	}
	if err := d.Store.PutIdentifier(ctx, store.IdentifierEntry{RI: child.RI, RN: child.RN, SRN: srn, Ty: child.Ty}); err != nil {
		return d.fail(req, errors.DatabaseError("put identifier", err))
	}
	if err := d.Store.AddChild(ctx, parentRI, store.ChildRef{RI: child.RI, Ty: child.Ty}); err != nil {
		return d.fail(req, errors.DatabaseError("add child", err))
	}

	if resp := d.wireDerivedState(ctx, req, child); resp != nil {
		return resp
	}

	if d.Bus != nil {
		d.Bus.Publish(ctx, eventbus.Event{Kind: eventbus.KindCreateDirectChild, Target: child, ParentRI: parentRI, Originator: req.Originator})
	}

	return &Response{RSC: int(errors.RSCCreated), RQI: req.RQI, To: req.To, PC: formatResource(child, req.RCN), OT: now}
}

// wireDerivedState populates the store rows a <SUB> or <CRS> create needs
// beyond the generic resource/identifier/child-ref commit: a
// store.SubscriptionRecord for <SUB> (so ListSubscriptionsByParent and the
// Notifier can ever see it), and CRS windowing registration plus Acrs
// tagging of each rrat source subscription for <CRS>, per spec.md §4.3.
// Both run the vrq verification handshake against every new nu target first
// and roll the create back on failure, per spec.md §4.3's "verification
// handshake". Returns a non-nil failure Response if the create must be
// aborted, nil otherwise.
func (d *Dispatcher) wireDerivedState(ctx context.Context, req *Request, child *resource.Resource) *Response {
	switch child.Ty {
	case resource.TypeSUB:
		rec := buildSubscriptionRecord(child)
		if resp := d.verifyTargets(ctx, req, child, rec.RI, rec.Nu); resp != nil {
			return resp
		}
		if err := d.Store.PutSubscription(ctx, rec); err != nil {
			d.rollbackCreate(ctx, child)
			return d.fail(req, errors.DatabaseError("put subscription", err))
		}

	case resource.TypeCRS:
		nu := toStringSlice(childAttr(child, "nu"))
		if resp := d.verifyTargets(ctx, req, child, child.RI, nu); resp != nil {
			return resp
		}
		rrat := toStringSlice(childAttr(child, "rrat"))
		for _, srcRI := range rrat {
			srcRec, err := d.Store.GetSubscription(ctx, srcRI)
			if err != nil {
				d.rollbackCreate(ctx, child)
				return d.fail(req, errors.BadRequest(fmt.Sprintf("rrat %q does not reference an existing subscription", srcRI)))
			}
			if !containsString(srcRec.Acrs, child.RI) {
				srcRec.Acrs = append(srcRec.Acrs, child.RI)
				if err := d.Store.PutSubscription(ctx, srcRec); err != nil {
					return d.fail(req, errors.DatabaseError("tag source subscription", err))
				}
			}
		}
		if d.CRSRegistrar != nil {
			eem, ok := attrInt(child, "eem")
			if !ok || eem == 0 {
				eem = 1 // EventEvaluationAll
			}
			periodic := false
			if twt, ok := childAttr(child, "twt").(string); ok {
				periodic = strings.EqualFold(twt, "PERIODICWINDOW")
			}
			twsMS, _ := attrInt(child, "tws")
			d.CRSRegistrar.Register(child.RI, nu, rrat, eem, periodic, time.Duration(twsMS)*time.Millisecond)
		}
	}
	return nil
}

// verifyTargets runs the vrq handshake against every target, rolling child's
// already-committed rows back and returning
// SUBSCRIPTION_VERIFICATION_INITIATION_FAILED on the first non-ack.
func (d *Dispatcher) verifyTargets(ctx context.Context, req *Request, child *resource.Resource, subRI string, targets []string) *Response {
	if d.Verifier == nil {
		return nil
	}
	for _, target := range targets {
		ok, err := d.Verifier.VerifyNewTarget(ctx, subRI, target)
		if err != nil || !ok {
			d.rollbackCreate(ctx, child)
			return d.fail(req, errors.SubscriptionVerificationInitiationFailed(fmt.Sprintf("verification handshake failed for nu target %q", target)))
		}
	}
	return nil
}

// rollbackCreate undoes the resource/identifier/child-ref rows already
// committed for child when a later post-commit step (verification, CRS
// source registration) fails.
func (d *Dispatcher) rollbackCreate(ctx context.Context, child *resource.Resource) {
	_ = d.Store.DeleteResource(ctx, child.RI)
	_ = d.Store.DeleteIdentifier(ctx, child.RI)
	if child.PI != "" {
		_ = d.Store.RemoveChild(ctx, child.PI, child.RI)
	}
}

// buildSubscriptionRecord flattens a <SUB> resource's attributes into the
// store.SubscriptionRecord the Notifier evaluates against, per spec.md §3's
// "subscriptions(ri -> subRecord)" derived table. bn/enc are oneM2M complex
// attributes (TS-0004 m2m:batchNotify / m2m:eventNotificationCriteria)
// whose sub-fields arrive as nested JSON objects under the "bn"/"enc" keys.
func buildSubscriptionRecord(child *resource.Resource) store.SubscriptionRecord {
	rec := store.SubscriptionRecord{
		RI: child.RI,
		PI: child.PI,
		Nu: toStringSlice(childAttr(child, "nu")),
		Cr: child.CR,
	}
	rec.Net = toIntSlice(childAttr(child, "net"))
	if nct, ok := childAttr(child, "nct").(string); ok {
		rec.Nct = nct
	}
	if ln, ok := childAttr(child, "ln").(bool); ok {
		rec.Ln = ln
	}
	if exc, ok := attrInt(child, "exc"); ok {
		rec.Exc = exc
	}
	if nec, ok := attrInt(child, "nec"); ok {
		rec.Nec = nec
	}
	if nse, ok := childAttr(child, "nse").(bool); ok {
		rec.Nse = nse
	}
	if su, ok := childAttr(child, "su").(string); ok {
		rec.Su = su
	}
	if bn, ok := childAttr(child, "bn").(map[string]interface{}); ok {
		policy := &store.BatchPolicy{}
		if num, ok := toInt(bn["num"]); ok {
			policy.Num = num
		}
		if dur, ok := toInt(bn["dur"]); ok {
			policy.Dur = time.Duration(dur) * time.Millisecond
		}
		rec.Bn = policy
	}
	if enc, ok := childAttr(child, "enc").(map[string]interface{}); ok {
		rec.EncAtr = toStringSlice(enc["atr"])
		for _, ty := range toIntSlice(enc["chty"]) {
			rec.EncChty = append(rec.EncChty, resource.Type(ty))
		}
	}
	return rec
}

func childAttr(r *resource.Resource, name string) interface{} {
	v, _ := r.Get(name)
	return v
}

func attrInt(r *resource.Resource, name string) (int, bool) {
	return toInt(childAttr(r, name))
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

func toIntSlice(v interface{}) []int {
	switch list := v.(type) {
	case []int:
		return list
	case []interface{}:
		out := make([]int, 0, len(list))
		for _, item := range list {
			if n, ok := toInt(item); ok {
				out = append(out, n)
			}
		}
		return out
	default:
		return nil
	}
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// handleRetrieve implements spec.md §4.1 for Retrieve/Discovery.
func (d *Dispatcher) handleRetrieve(ctx context.Context, req *Request, ri string) *Response {
	r, err := d.Store.GetResource(ctx, ri)
	if err != nil {
		if err == store.ErrNotFound {
			return d.fail(req, errors.NotFound(ri))
		}
		return d.fail(req, errors.Internal("loading resource", err))
	}

	perm := acp.PermissionFor(resource.OpRetrieve, req.Discovery)
	if allowed, err := d.checkAccess(ctx, r, req.Originator, perm); err != nil {
		return d.fail(req, errors.Internal("evaluating access control", err))
	} else if !allowed {
		return d.fail(req, errors.OriginatorHasNoPrivilege(req.Originator, ri))
	}

	if behavior := d.Behaviors.Behavior(r.Ty); behavior != nil {
		if err := behavior.WillBeRetrieved(ctx, r, req.Originator); err != nil {
			return d.fail(req, errors.Internal("preparing retrieved resource", err))
		}
	}

	// A <PCH> retrieve is the long-poll half of polling-channel mode
	// (spec.md §4.1): drain its queued Notify payloads instead of returning
	// the generic resource representation.
	if resource.BaseType(r.Ty) == resource.TypePCH {
		return &Response{RSC: int(errors.RSCOK), RQI: req.RQI, To: req.To, PC: d.pch.drain(r.RI), OT: time.Now()}
	}

	if req.Discovery {
		children, err := d.Store.ListChildren(ctx, ri)
		if err != nil {
			return d.fail(req, errors.DatabaseError("list children", err))
		}
		refs := make([]string, 0, len(children))
		for _, c := range children {
			if matchesFilter(c, req.FilterCriteria) {
				refs = append(refs, c.RI)
			}
		}
		return &Response{RSC: int(errors.RSCOK), RQI: req.RQI, To: req.To, PC: refs, OT: time.Now()}
	}

	return &Response{RSC: int(errors.RSCOK), RQI: req.RQI, To: req.To, PC: formatResource(r, req.RCN), OT: time.Now()}
}

// handleUpdate implements spec.md §4.1 for Update.
func (d *Dispatcher) handleUpdate(ctx context.Context, req *Request, ri string, now time.Time) *Response {
	r, err := d.Store.GetResource(ctx, ri)
	if err != nil {
		if err == store.ErrNotFound {
			return d.fail(req, errors.NotFound(ri))
		}
		return d.fail(req, errors.Internal("loading resource", err))
	}

	if allowed, err := d.checkAccess(ctx, r, req.Originator, acp.PermUpdate); err != nil {
		return d.fail(req, errors.Internal("evaluating access control", err))
	} else if !allowed {
		return d.fail(req, errors.OriginatorHasNoPrivilege(req.Originator, ri))
	}

	if verr := d.Validator.Validate(r.Ty, resource.OpUpdate, req.Payload, false); verr != nil {
		return d.fail(req, errors.ContentsUnacceptable(verr.Error()))
	}

	changed := make(map[string]bool, len(req.Payload))
	for k := range req.Payload {
		changed[k] = true
	}
	applyPayload(r, req.Payload)
	r.Touch(now)

	if behavior := d.Behaviors.Behavior(r.Ty); behavior != nil {
		if err := behavior.Update(ctx, r, req.Payload, req.Originator, now); err != nil {
			return d.fail(req, errors.ContentsUnacceptable(err.Error()))
		}
	}

	if err := d.Store.PutResource(ctx, r); err != nil {
		return d.fail(req, errors.DatabaseError("put resource", err))
	}

	if d.Bus != nil {
		d.Bus.Publish(ctx, eventbus.Event{Kind: eventbus.KindUpdateResource, Target: r, ParentRI: r.RI, ChangedAttrs: changed, Originator: req.Originator})
	}

	return &Response{RSC: int(errors.RSCUpdated), RQI: req.RQI, To: req.To, PC: formatResource(r, req.RCN), OT: now}
}

// handleDelete implements spec.md §4.1 for Delete: it cascades through every
// descendant in post-order (a child's own children are removed before the
// child itself) before removing the target, per spec.md §3's delete
// lifecycle and §8's invariant that deleting r leaves no dangling
// identifiers, children, subscriptions[pi=r.ri], or batchNotifications
// [ri=r.ri]. Grounded on uppertester.Tester.deleteSubtree's recursive
// ListChildren walk, generalized to also emit per-descendant events and run
// each descendant's type-specific teardown.
func (d *Dispatcher) handleDelete(ctx context.Context, req *Request, ri string, now time.Time) *Response {
	r, err := d.Store.GetResource(ctx, ri)
	if err != nil {
		if err == store.ErrNotFound {
			return d.fail(req, errors.NotFound(ri))
		}
		return d.fail(req, errors.Internal("loading resource", err))
	}

	if allowed, err := d.checkAccess(ctx, r, req.Originator, acp.PermDelete); err != nil {
		return d.fail(req, errors.Internal("evaluating access control", err))
	} else if !allowed {
		return d.fail(req, errors.OriginatorHasNoPrivilege(req.Originator, ri))
	}

	if err := d.cascadeDeleteChildren(ctx, ri, req.Originator, now); err != nil {
		return d.fail(req, errors.DatabaseError("cascade delete children", err))
	}

	if err := d.deleteOne(ctx, r, req.Originator, now); err != nil {
		return d.fail(req, errors.DatabaseError("delete resource", err))
	}

	return &Response{RSC: int(errors.RSCDeleted), RQI: req.RQI, To: req.To, PC: nil, OT: now}
}

// cascadeDeleteChildren recursively deletes every descendant of ri, deepest
// first, before the caller deletes ri itself.
func (d *Dispatcher) cascadeDeleteChildren(ctx context.Context, ri, originator string, now time.Time) error {
	children, err := d.Store.ListChildren(ctx, ri)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := d.cascadeDeleteChildren(ctx, child.RI, originator, now); err != nil {
			return err
		}
		cr, err := d.Store.GetResource(ctx, child.RI)
		if err != nil {
			if err == store.ErrNotFound {
				continue
			}
			return err
		}
		if err := d.deleteOne(ctx, cr, originator, now); err != nil {
			return err
		}
	}
	return nil
}

// deleteOne tears down r: its behavior's Deactivate hook, any derived
// subscription/CRS state, its resource/identifier/child-ref rows, the
// deletedResources counter, and the deleteResource/deleteDirectChild events.
// Used both for the directly targeted resource and for each cascaded
// descendant, so every deletion — top-level or cascaded — gets identical
// teardown.
func (d *Dispatcher) deleteOne(ctx context.Context, r *resource.Resource, originator string, now time.Time) error {
	if behavior := d.Behaviors.Behavior(r.Ty); behavior != nil {
		if err := behavior.Deactivate(ctx, r, originator); err != nil {
			return err
		}
	}

	d.teardownDerivedState(ctx, r)

	if err := d.Store.DeleteResource(ctx, r.RI); err != nil {
		return err
	}
	if err := d.Store.DeleteIdentifier(ctx, r.RI); err != nil {
		return err
	}
	if r.PI != "" {
		if err := d.Store.RemoveChild(ctx, r.PI, r.RI); err != nil {
			return err
		}
	}

	if err := d.Store.UpdateStatistics(ctx, func(s *store.Statistics) { s.DeletedResources++ }); err != nil && d.Log != nil {
		d.Log.WithError(err).Warn("statistics update failed")
	}

	if d.Bus != nil {
		d.Bus.Publish(ctx, eventbus.Event{Kind: eventbus.KindDeleteResource, Target: r, ParentRI: r.RI, Originator: originator})
		if r.PI != "" {
			d.Bus.Publish(ctx, eventbus.Event{Kind: eventbus.KindDeleteDirectChild, Target: r, ParentRI: r.PI, Originator: originator})
		}
	}
	return nil
}

// teardownDerivedState removes notifier/CRS-tracker state derived from r,
// per spec.md §8's no-dangling-reference invariant: a deleted <SUB> sends
// its sud deletion notice, drops its pending batch buffers, and is removed
// from the subscription store; a deleted <CRS> drops its windowing
// registration.
func (d *Dispatcher) teardownDerivedState(ctx context.Context, r *resource.Resource) {
	switch r.Ty {
	case resource.TypeSUB:
		rec, err := d.Store.GetSubscription(ctx, r.RI)
		if err != nil {
			return
		}
		if err := d.Store.DeleteSubscription(ctx, r.RI); err != nil && d.Log != nil {
			d.Log.WithError(err).Warn("delete subscription record failed")
		}
		for _, target := range rec.Nu {
			_, _ = d.Store.DrainNotifications(ctx, rec.RI, target)
		}
		if d.Verifier != nil {
			d.Verifier.NotifyDeletion(ctx, rec)
		}
	case resource.TypeCRS:
		if d.CRSRegistrar != nil {
			d.CRSRegistrar.Unregister(r.RI)
		}
	}
}

// handleNotify implements spec.md §4.1's Notify operation for
// polling-channel mode: a notification addressed to a <PCH> is queued in
// memory and drained by the next Retrieve against that same <PCH>, the
// round trip an AE without a reachable nu target uses to receive
// notifications.
func (d *Dispatcher) handleNotify(ctx context.Context, req *Request, ri string, now time.Time) *Response {
	r, err := d.Store.GetResource(ctx, ri)
	if err != nil {
		if err == store.ErrNotFound {
			return d.fail(req, errors.NotFound(ri))
		}
		return d.fail(req, errors.Internal("loading resource", err))
	}

	if allowed, err := d.checkAccess(ctx, r, req.Originator, acp.PermNotify); err != nil {
		return d.fail(req, errors.Internal("evaluating access control", err))
	} else if !allowed {
		return d.fail(req, errors.OriginatorHasNoPrivilege(req.Originator, ri))
	}

	if resource.BaseType(r.Ty) != resource.TypePCH {
		return d.fail(req, errors.OperationNotAllowed("notify", r.Ty.String()))
	}

	d.pch.enqueue(r.RI, req.Payload)
	return &Response{RSC: int(errors.RSCOK), RQI: req.RQI, To: req.To, PC: nil, OT: now}
}

func (d *Dispatcher) checkAccess(ctx context.Context, target *resource.Resource, originator string, perm acp.Permission) (bool, error) {
	if d.ACP == nil {
		return true, nil
	}
	if target.Ty == resource.TypeACP {
		return d.ACP.AllowSelf(target, originator, perm), nil
	}
	return d.ACP.Allow(ctx, target, originator, perm)
}

// applyPayload merges a candidate attribute dictionary into r, routing
// common envelope attributes (rn, lbl, acpi, et, aa) to their typed fields
// and the rest into Attrs.
func applyPayload(r *resource.Resource, payload map[string]interface{}) {
	for k, v := range payload {
		switch k {
		case "rn":
			if s, ok := v.(string); ok {
				r.RN = s
			}
		case "lbl":
			r.LBL = toStringSlice(v)
		case "acpi":
			r.ACPI = toStringSlice(v)
		case "aa":
			r.AA = toStringSlice(v)
		case "at":
			r.AT = toStringSlice(v)
		case "et":
			if t, ok := v.(time.Time); ok {
				r.ET = t
			}
		default:
			r.Set(k, v)
		}
	}
}

func toStringSlice(v interface{}) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []interface{}:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// matchesFilter applies discovery filter criteria (currently type-only;
// label/attribute filters are layered on by the codec/query-parameter
// translation in the transport layer).
func matchesFilter(c store.ChildRef, criteria map[string]interface{}) bool {
	if criteria == nil {
		return true
	}
	if tyFilter, ok := criteria["ty"]; ok {
		if ty, ok := tyFilter.(resource.Type); ok && ty != c.Ty {
			return false
		}
	}
	return true
}

// formatResource renders r per the requested result content, per spec.md
// §4.1 step 8. Only the attribute-dict and ri-only shapes are modeled
// directly; richer shapes (child resources, discovery refs) are assembled
// by the caller from separate store reads.
func formatResource(r *resource.Resource, rcn ResultContent) interface{} {
	if rcn == ResultContentNothing {
		return nil
	}
	if rcn == ResultContentHierarchicalAddress {
		return r.RI
	}
	return r
}
