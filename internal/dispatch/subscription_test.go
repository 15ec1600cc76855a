package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/onem2m-cse/cse/infrastructure/errors"
	"github.com/onem2m-cse/cse/internal/resource"
	"github.com/onem2m-cse/cse/internal/store"
)

// fakeVerifier stands in for *notify.Notifier's two dispatch-facing methods,
// so these tests exercise the dispatcher's own create/delete wiring without
// standing up the full notify package (and without the event delivery these
// tests aren't about).
type fakeVerifier struct {
	rejectTarget string
	verified     []string
	deleted      []store.SubscriptionRecord
}

func (f *fakeVerifier) VerifyNewTarget(ctx context.Context, subRI, target string) (bool, error) {
	f.verified = append(f.verified, target)
	return target != f.rejectTarget, nil
}

func (f *fakeVerifier) NotifyDeletion(ctx context.Context, sub store.SubscriptionRecord) {
	f.deleted = append(f.deleted, sub)
}

type fakeCRSRegistrar struct {
	registered []string
	unregistered []string
}

func (f *fakeCRSRegistrar) Register(ri string, nu, rrat []string, eem int, periodic bool, tws time.Duration) {
	f.registered = append(f.registered, ri)
}

func (f *fakeCRSRegistrar) Unregister(crsRI string) {
	f.unregistered = append(f.unregistered, crsRI)
}

func TestDispatcher_CreateSUB_PersistsSubscriptionRecord(t *testing.T) {
	d, cseRI := newTestDispatcher(t)
	ctx := context.Background()

	resp := d.Dispatch(ctx, &Request{
		Operation:  resource.OpCreate,
		To:         cseRI,
		Originator: "CAdmin",
		Ty:         resource.TypeSUB,
		Payload: map[string]interface{}{
			"rn":  "mySub",
			"nu":  []string{"http://example.com/notify"},
			"net": []interface{}{1},
		},
		RQI: "rqi-sub-1",
	})
	if resp.RSC != int(errors.RSCCreated) {
		t.Fatalf("expected CREATED, got %d (%v)", resp.RSC, resp.PC)
	}
	created := resp.PC.(*resource.Resource)

	subs, err := d.Store.ListSubscriptionsByParent(ctx, cseRI)
	if err != nil {
		t.Fatalf("list subscriptions: %v", err)
	}
	if len(subs) != 1 || subs[0].RI != created.RI {
		t.Fatalf("expected the new subscription reachable via ListSubscriptionsByParent, got %#v", subs)
	}
	if len(subs[0].Nu) != 1 || subs[0].Nu[0] != "http://example.com/notify" {
		t.Fatalf("unexpected nu on persisted record: %#v", subs[0])
	}
}

func TestDispatcher_CreateSUB_VerificationFailureRollsBack(t *testing.T) {
	d, cseRI := newTestDispatcher(t)
	ctx := context.Background()
	verifier := &fakeVerifier{rejectTarget: "http://bad.example.com/notify"}
	d.Verifier = verifier

	resp := d.Dispatch(ctx, &Request{
		Operation:  resource.OpCreate,
		To:         cseRI,
		Originator: "CAdmin",
		Ty:         resource.TypeSUB,
		Payload: map[string]interface{}{
			"rn":  "badSub",
			"nu":  []string{"http://bad.example.com/notify"},
			"net": []interface{}{1},
		},
		RQI: "rqi-sub-2",
	})
	if resp.RSC != int(errors.RSCSubscriptionVerificationInitiationFailed) {
		t.Fatalf("expected SUBSCRIPTION_VERIFICATION_INITIATION_FAILED, got %d (%v)", resp.RSC, resp.PC)
	}

	subs, err := d.Store.ListSubscriptionsByParent(ctx, cseRI)
	if err != nil {
		t.Fatalf("list subscriptions: %v", err)
	}
	if len(subs) != 0 {
		t.Fatalf("expected no subscription persisted after rollback, got %#v", subs)
	}
	children, err := d.Store.ListChildren(ctx, cseRI)
	if err != nil {
		t.Fatalf("list children: %v", err)
	}
	if len(children) != 0 {
		t.Fatalf("expected create to be fully rolled back, got children %#v", children)
	}
}

func TestDispatcher_DeleteCascadesSubscriptions(t *testing.T) {
	d, cseRI := newTestDispatcher(t)
	ctx := context.Background()
	verifier := &fakeVerifier{}
	d.Verifier = verifier

	aeResp := d.Dispatch(ctx, &Request{
		Operation:  resource.OpCreate,
		To:         cseRI,
		Originator: "CAdmin",
		Ty:         resource.TypeAE,
		Payload:    map[string]interface{}{"rn": "ae1", "api": "Nmyapp", "rr": true},
		RQI:        "rqi-ae-1",
	})
	if aeResp.RSC != int(errors.RSCCreated) {
		t.Fatalf("expected AE created, got %d", aeResp.RSC)
	}
	ae := aeResp.PC.(*resource.Resource)

	subResp := d.Dispatch(ctx, &Request{
		Operation:  resource.OpCreate,
		To:         ae.RI,
		Originator: "CAdmin",
		Ty:         resource.TypeSUB,
		Payload: map[string]interface{}{
			"rn":  "childSub",
			"nu":  []string{"http://example.com/notify"},
			"net": []interface{}{1},
		},
		RQI: "rqi-sub-3",
	})
	if subResp.RSC != int(errors.RSCCreated) {
		t.Fatalf("expected SUB created, got %d (%v)", subResp.RSC, subResp.PC)
	}
	sub := subResp.PC.(*resource.Resource)

	delResp := d.Dispatch(ctx, &Request{Operation: resource.OpDelete, To: ae.RI, Originator: "CAdmin", RQI: "rqi-del-1"})
	if delResp.RSC != int(errors.RSCDeleted) {
		t.Fatalf("expected AE deleted, got %d", delResp.RSC)
	}

	if _, err := d.Store.GetResource(ctx, sub.RI); err != store.ErrNotFound {
		t.Fatalf("expected cascaded SUB resource row gone, got err=%v", err)
	}
	if _, err := d.Store.GetSubscription(ctx, sub.RI); err != store.ErrNotFound {
		t.Fatalf("expected cascaded subscription record gone, got err=%v", err)
	}
	if len(verifier.deleted) != 1 || verifier.deleted[0].RI != sub.RI {
		t.Fatalf("expected sud deletion notice for cascaded subscription, got %#v", verifier.deleted)
	}
}

func TestDispatcher_CreateCRS_RegistersAndTagsSources(t *testing.T) {
	d, cseRI := newTestDispatcher(t)
	ctx := context.Background()
	registrar := &fakeCRSRegistrar{}
	d.CRSRegistrar = registrar

	subResp := d.Dispatch(ctx, &Request{
		Operation:  resource.OpCreate,
		To:         cseRI,
		Originator: "CAdmin",
		Ty:         resource.TypeSUB,
		Payload: map[string]interface{}{
			"rn":  "sourceSub",
			"nu":  []string{"http://example.com/notify"},
			"net": []interface{}{1},
		},
		RQI: "rqi-sub-4",
	})
	if subResp.RSC != int(errors.RSCCreated) {
		t.Fatalf("expected source SUB created, got %d (%v)", subResp.RSC, subResp.PC)
	}
	sourceSub := subResp.PC.(*resource.Resource)

	crsResp := d.Dispatch(ctx, &Request{
		Operation:  resource.OpCreate,
		To:         cseRI,
		Originator: "CAdmin",
		Ty:         resource.TypeCRS,
		Payload: map[string]interface{}{
			"rn":   "myCRS",
			"nu":   []string{"http://example.com/crs-notify"},
			"rrat": []string{sourceSub.RI},
			"tws":  2000,
		},
		RQI: "rqi-crs-1",
	})
	if crsResp.RSC != int(errors.RSCCreated) {
		t.Fatalf("expected CRS created, got %d (%v)", crsResp.RSC, crsResp.PC)
	}
	crs := crsResp.PC.(*resource.Resource)

	if len(registrar.registered) != 1 || registrar.registered[0] != crs.RI {
		t.Fatalf("expected CRSRegistrar.Register called with the new CRS's ri, got %#v", registrar.registered)
	}

	rec, err := d.Store.GetSubscription(ctx, sourceSub.RI)
	if err != nil {
		t.Fatalf("get source subscription: %v", err)
	}
	if len(rec.Acrs) != 1 || rec.Acrs[0] != crs.RI {
		t.Fatalf("expected source subscription tagged with Acrs=[%s], got %#v", crs.RI, rec.Acrs)
	}
}

func TestDispatcher_CreateCRS_UnknownSourceRollsBack(t *testing.T) {
	d, cseRI := newTestDispatcher(t)
	ctx := context.Background()
	registrar := &fakeCRSRegistrar{}
	d.CRSRegistrar = registrar

	resp := d.Dispatch(ctx, &Request{
		Operation:  resource.OpCreate,
		To:         cseRI,
		Originator: "CAdmin",
		Ty:         resource.TypeCRS,
		Payload: map[string]interface{}{
			"rn":   "orphanCRS",
			"nu":   []string{"http://example.com/crs-notify"},
			"rrat": []string{"no-such-sub"},
			"tws":  2000,
		},
		RQI: "rqi-crs-2",
	})
	if resp.RSC != int(errors.RSCBadRequest) {
		t.Fatalf("expected BAD_REQUEST for unknown rrat source, got %d (%v)", resp.RSC, resp.PC)
	}
	if len(registrar.registered) != 0 {
		t.Fatalf("expected no CRS registration for a rolled-back create, got %#v", registrar.registered)
	}
	children, err := d.Store.ListChildren(ctx, cseRI)
	if err != nil {
		t.Fatalf("list children: %v", err)
	}
	if len(children) != 0 {
		t.Fatalf("expected create to be fully rolled back, got children %#v", children)
	}
}

func TestDispatcher_Notify_PollingChannelRoundTrip(t *testing.T) {
	d, cseRI := newTestDispatcher(t)
	ctx := context.Background()

	aeResp := d.Dispatch(ctx, &Request{
		Operation:  resource.OpCreate,
		To:         cseRI,
		Originator: "CAdmin",
		Ty:         resource.TypeAE,
		Payload:    map[string]interface{}{"rn": "ae2", "api": "Nmyapp", "rr": true},
		RQI:        "rqi-ae-2",
	})
	if aeResp.RSC != int(errors.RSCCreated) {
		t.Fatalf("expected AE created, got %d", aeResp.RSC)
	}
	ae := aeResp.PC.(*resource.Resource)

	pchResp := d.Dispatch(ctx, &Request{
		Operation:  resource.OpCreate,
		To:         ae.RI,
		Originator: "CAdmin",
		Ty:         resource.TypePCH,
		Payload:    map[string]interface{}{"rn": "myPCH"},
		RQI:        "rqi-pch-1",
	})
	if pchResp.RSC != int(errors.RSCCreated) {
		t.Fatalf("expected PCH created, got %d (%v)", pchResp.RSC, pchResp.PC)
	}
	pch := pchResp.PC.(*resource.Resource)

	notifyResp := d.Dispatch(ctx, &Request{
		Operation:  resource.OpNotify,
		To:         pch.RI,
		Originator: "CAdmin",
		Payload:    map[string]interface{}{"m2m:sgn": map[string]interface{}{"sur": "sub1"}},
		RQI:        "rqi-notify-1",
	})
	if notifyResp.RSC != int(errors.RSCOK) {
		t.Fatalf("expected OK for notify, got %d (%v)", notifyResp.RSC, notifyResp.PC)
	}

	retrieveResp := d.Dispatch(ctx, &Request{Operation: resource.OpRetrieve, To: pch.RI, Originator: "CAdmin", RQI: "rqi-retrieve-1"})
	if retrieveResp.RSC != int(errors.RSCOK) {
		t.Fatalf("expected OK for retrieve, got %d", retrieveResp.RSC)
	}
	queued, ok := retrieveResp.PC.([]interface{})
	if !ok || len(queued) != 1 {
		t.Fatalf("expected one queued notify payload drained on retrieve, got %#v", retrieveResp.PC)
	}

	drainedAgain := d.Dispatch(ctx, &Request{Operation: resource.OpRetrieve, To: pch.RI, Originator: "CAdmin", RQI: "rqi-retrieve-2"})
	if again, ok := drainedAgain.PC.([]interface{}); !ok || len(again) != 0 {
		t.Fatalf("expected the queue to be empty on the next retrieve, got %#v", drainedAgain.PC)
	}
}

func TestDispatcher_Notify_RejectsNonPCHTarget(t *testing.T) {
	d, cseRI := newTestDispatcher(t)
	ctx := context.Background()

	resp := d.Dispatch(ctx, &Request{
		Operation:  resource.OpNotify,
		To:         cseRI,
		Originator: "CAdmin",
		Payload:    map[string]interface{}{"foo": "bar"},
		RQI:        "rqi-notify-2",
	})
	if resp.RSC != int(errors.RSCOperationNotAllowed) {
		t.Fatalf("expected OPERATION_NOT_ALLOWED notifying a non-PCH target, got %d (%v)", resp.RSC, resp.PC)
	}
}
