package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/onem2m-cse/cse/internal/eventbus"
	"github.com/onem2m-cse/cse/internal/resource"
	"github.com/onem2m-cse/cse/internal/store"
	"github.com/onem2m-cse/cse/internal/store/memstore"
)

type fakeSender struct {
	mu       sync.Mutex
	sent     []sentCall
	acceptFn func(targetURI string, envelope map[string]interface{}) bool
}

type sentCall struct {
	target   string
	envelope map[string]interface{}
}

func (f *fakeSender) Send(_ context.Context, targetURI string, envelope map[string]interface{}) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentCall{target: targetURI, envelope: envelope})
	if f.acceptFn != nil {
		return f.acceptFn(targetURI, envelope), nil
	}
	return true, nil
}

func (f *fakeSender) calls() []sentCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentCall, len(f.sent))
	copy(out, f.sent)
	return out
}

func newTestNotifier(t *testing.T) (*Notifier, *fakeSender, store.Store) {
	t.Helper()
	st := memstore.New()
	sender := &fakeSender{}
	n := New(st, sender, nil, nil, nil)
	return n, sender, st
}

func TestNotifier_HandleEvent_DeliversOnNetMatch(t *testing.T) {
	n, sender, st := newTestNotifier(t)
	ctx := context.Background()

	sub := store.SubscriptionRecord{
		RI:  "sub1",
		PI:  "cnt1",
		Net: []int{int(eventbus.KindUpdateResource)},
		Nct: "all",
		Nu:  []string{"http://example.com/notify"},
	}
	if err := st.PutSubscription(ctx, sub); err != nil {
		t.Fatalf("put subscription: %v", err)
	}

	target := resource.New(resource.TypeCIN, time.Now())
	target.RI = "cin1"
	target.PI = "cnt1"

	n.HandleEvent(ctx, eventbus.Event{
		Kind: eventbus.KindUpdateResource, Target: target, ParentRI: "cnt1",
		ChangedAttrs: map[string]bool{"con": true},
	})

	calls := sender.calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(calls))
	}
	if calls[0].target != "http://example.com/notify" {
		t.Fatalf("unexpected target: %s", calls[0].target)
	}
	sgn, ok := calls[0].envelope["m2m:sgn"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected m2m:sgn envelope, got %#v", calls[0].envelope)
	}
	if sgn["sur"] != "sub1" {
		t.Fatalf("expected sur=sub1, got %v", sgn["sur"])
	}
}

func TestNotifier_HandleEvent_SkipsNetMismatch(t *testing.T) {
	n, sender, st := newTestNotifier(t)
	ctx := context.Background()

	sub := store.SubscriptionRecord{
		RI: "sub1", PI: "cnt1",
		Net: []int{int(eventbus.KindDeleteResource)},
		Nu:  []string{"http://example.com/notify"},
	}
	if err := st.PutSubscription(ctx, sub); err != nil {
		t.Fatalf("put subscription: %v", err)
	}

	target := resource.New(resource.TypeCIN, time.Now())
	target.RI = "cin1"

	n.HandleEvent(ctx, eventbus.Event{Kind: eventbus.KindUpdateResource, Target: target, ParentRI: "cnt1"})

	if len(sender.calls()) != 0 {
		t.Fatalf("expected no delivery on net mismatch, got %d", len(sender.calls()))
	}
}

func TestNotifier_HandleEvent_ChildTypeFilter(t *testing.T) {
	n, sender, st := newTestNotifier(t)
	ctx := context.Background()

	sub := store.SubscriptionRecord{
		RI: "sub1", PI: "cnt1",
		Net:     []int{int(eventbus.KindCreateDirectChild)},
		EncChty: []resource.Type{resource.TypeSUB},
		Nu:      []string{"http://example.com/notify"},
	}
	if err := st.PutSubscription(ctx, sub); err != nil {
		t.Fatalf("put subscription: %v", err)
	}

	child := resource.New(resource.TypeCIN, time.Now())
	child.RI = "cin1"

	n.HandleEvent(ctx, eventbus.Event{Kind: eventbus.KindCreateDirectChild, Target: child, ParentRI: "cnt1"})

	if len(sender.calls()) != 0 {
		t.Fatalf("expected chty filter to exclude CIN, got %d deliveries", len(sender.calls()))
	}
}

func TestNotifier_ExpirationCounter_DeletesAtZero(t *testing.T) {
	n, sender, st := newTestNotifier(t)
	ctx := context.Background()

	sub := store.SubscriptionRecord{
		RI: "sub1", PI: "cnt1",
		Net: []int{int(eventbus.KindUpdateResource)},
		Nu:  []string{"http://example.com/notify"},
		Exc: 1,
	}
	if err := st.PutSubscription(ctx, sub); err != nil {
		t.Fatalf("put subscription: %v", err)
	}

	target := resource.New(resource.TypeCIN, time.Now())
	target.RI = "cin1"
	n.HandleEvent(ctx, eventbus.Event{Kind: eventbus.KindUpdateResource, Target: target, ParentRI: "cnt1"})

	if _, err := st.GetSubscription(ctx, "sub1"); err != store.ErrNotFound {
		t.Fatalf("expected subscription deleted after exc reaches zero, got err=%v", err)
	}

	// the deletion notification (sud=true) should have been sent in addition
	// to the original firing.
	calls := sender.calls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 sends (fire + deletion notice), got %d", len(calls))
	}
}

func TestNotifier_Batching_FlushesAtNum(t *testing.T) {
	n, sender, st := newTestNotifier(t)
	ctx := context.Background()

	sub := store.SubscriptionRecord{
		RI: "sub1", PI: "cnt1",
		Net: []int{int(eventbus.KindUpdateResource)},
		Nu:  []string{"http://example.com/notify"},
		Bn:  &store.BatchPolicy{Num: 2},
	}
	if err := st.PutSubscription(ctx, sub); err != nil {
		t.Fatalf("put subscription: %v", err)
	}

	target := resource.New(resource.TypeCIN, time.Now())
	target.RI = "cin1"

	n.HandleEvent(ctx, eventbus.Event{Kind: eventbus.KindUpdateResource, Target: target, ParentRI: "cnt1"})
	if len(sender.calls()) != 0 {
		t.Fatalf("expected no delivery before batch threshold, got %d", len(sender.calls()))
	}

	n.HandleEvent(ctx, eventbus.Event{Kind: eventbus.KindUpdateResource, Target: target, ParentRI: "cnt1"})
	calls := sender.calls()
	if len(calls) != 1 {
		t.Fatalf("expected exactly one aggregated delivery at threshold, got %d", len(calls))
	}
	if _, ok := calls[0].envelope["m2m:agn"]; !ok {
		t.Fatalf("expected aggregated m2m:agn envelope, got %#v", calls[0].envelope)
	}
}

func TestCRSTracker_SlidingWindow_FiresOnAllWithinWindow(t *testing.T) {
	n, sender, _ := newTestNotifier(t)
	tracker := NewCRSTracker()
	n.CRS = tracker

	tracker.Register(CRSConfig{
		RI:   "crs1",
		Nu:   []string{"http://example.com/crs"},
		Rrat: []string{"subA", "subB"},
		Eem:  EventEvaluationAll,
		Twt:  WindowSliding,
		Tws:  2 * time.Second,
	})

	ctx := context.Background()
	ev := eventbus.Event{Kind: eventbus.KindCreateDirectChild}

	tracker.RecordChildFire(ctx, n, "crs1", "subA", ev)
	if len(sender.calls()) != 0 {
		t.Fatalf("expected no CRS notification after only one source fired")
	}

	tracker.RecordChildFire(ctx, n, "crs1", "subB", ev)
	calls := sender.calls()
	if len(calls) != 1 {
		t.Fatalf("expected one CRS notification once both sources fired within window, got %d", len(calls))
	}
	sgn := calls[0].envelope["m2m:sgn"].(map[string]interface{})
	if sgn["sur"] != "crs1" {
		t.Fatalf("expected sur=crs1, got %v", sgn["sur"])
	}
}

func TestCRSTracker_AnyMode_FiresOnFirstSource(t *testing.T) {
	n, sender, _ := newTestNotifier(t)
	tracker := NewCRSTracker()
	n.CRS = tracker

	tracker.Register(CRSConfig{
		RI: "crs2", Nu: []string{"http://example.com/crs"},
		Rrat: []string{"subA", "subB"}, Eem: EventEvaluationAny,
		Twt: WindowSliding, Tws: 2 * time.Second,
	})

	ctx := context.Background()
	tracker.RecordChildFire(ctx, n, "crs2", "subA", eventbus.Event{Kind: eventbus.KindCreateDirectChild})

	if len(sender.calls()) != 1 {
		t.Fatalf("expected eem=any to fire on first source event, got %d", len(sender.calls()))
	}
}
