package announce

import (
	"context"
	"testing"
	"time"

	"github.com/onem2m-cse/cse/internal/policy"
	"github.com/onem2m-cse/cse/internal/resource"
	"github.com/onem2m-cse/cse/internal/store/memstore"
)

type fakeRemote struct {
	created map[string]map[string]interface{}
	updated map[string]map[string]interface{}
	deleted map[string]bool
	nextRI  int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{created: map[string]map[string]interface{}{}, updated: map[string]map[string]interface{}{}, deleted: map[string]bool{}}
}

func (f *fakeRemote) CreateAnnounced(_ context.Context, cseID, _ string, _ resource.Type, attrs map[string]interface{}) (string, error) {
	f.nextRI++
	ri := "remote-ri-" + string(rune('0'+f.nextRI))
	f.created[cseID] = attrs
	return ri, nil
}

func (f *fakeRemote) UpdateAnnounced(_ context.Context, cseID, remoteRI string, attrs map[string]interface{}) error {
	f.updated[cseID+"/"+remoteRI] = attrs
	return nil
}

func (f *fakeRemote) DeleteAnnounced(_ context.Context, cseID, remoteRI string) error {
	f.deleted[cseID+"/"+remoteRI] = true
	return nil
}

func (f *fakeRemote) RetrieveOriginal(_ context.Context, _ string, _ string) (*resource.Resource, error) {
	return nil, nil
}

func TestAnnouncer_Announce_ResolvesMirrorEntries(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	reg := policy.NewRegistry()
	remote := newFakeRemote()
	a := New(st, reg, remote, nil)

	cnt := resource.New(resource.TypeCNT, now)
	cnt.RI = "cnt1"
	cnt.AT = []string{"cse2"}

	if err := a.Announce(ctx, cnt, "/cse2parent", "/cse1/cnt1"); err != nil {
		t.Fatalf("announce: %v", err)
	}

	if len(cnt.AT) != 1 || cnt.AT[0] == "cse2" {
		t.Fatalf("expected at entry resolved to cse2/<remoteRi>, got %v", cnt.AT)
	}
	if _, ok := remote.created["cse2"]; !ok {
		t.Fatalf("expected a create call recorded for cse2")
	}

	stored, err := st.GetResource(ctx, "cnt1")
	if err != nil {
		t.Fatalf("get resource: %v", err)
	}
	if len(stored.AT) != 1 || stored.AT[0] == "cse2" {
		t.Fatalf("expected persisted at to carry resolved mirror entry, got %v", stored.AT)
	}
}

func TestAnnouncer_UnannounceOne_RemovesOnlyThatMirror(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()
	reg := policy.NewRegistry()
	remote := newFakeRemote()
	a := New(st, reg, remote, nil)

	cnt := resource.New(resource.TypeCNT, time.Now())
	cnt.RI = "cnt1"
	cnt.AT = []string{"cse2/remote-a", "cse3/remote-b"}
	if err := st.PutResource(ctx, cnt); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := a.UnannounceOne(ctx, cnt, "cse2"); err != nil {
		t.Fatalf("unannounce one: %v", err)
	}
	if len(cnt.AT) != 1 || cnt.AT[0] != "cse3/remote-b" {
		t.Fatalf("expected only cse2 mirror removed, got %v", cnt.AT)
	}
	if !remote.deleted["cse2/remote-a"] {
		t.Fatalf("expected delete call for cse2/remote-a")
	}
	if remote.deleted["cse3/remote-b"] {
		t.Fatalf("did not expect cse3 mirror deleted")
	}
}

func TestAnnouncer_UnannounceAll_ClearsAT(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()
	reg := policy.NewRegistry()
	remote := newFakeRemote()
	a := New(st, reg, remote, nil)

	cnt := resource.New(resource.TypeCNT, time.Now())
	cnt.RI = "cnt1"
	cnt.AT = []string{"cse2/remote-a", "cse3/remote-b"}

	if err := a.UnannounceAll(ctx, cnt); err != nil {
		t.Fatalf("unannounce all: %v", err)
	}
	if len(cnt.AT) != 0 {
		t.Fatalf("expected at cleared, got %v", cnt.AT)
	}
	if len(remote.deleted) != 2 {
		t.Fatalf("expected 2 delete calls, got %d", len(remote.deleted))
	}
}

func TestAnnouncer_UnannounceDeleted_SkipsStoreWrite(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()
	reg := policy.NewRegistry()
	remote := newFakeRemote()
	a := New(st, reg, remote, nil)

	cnt := resource.New(resource.TypeCNT, time.Now())
	cnt.RI = "cnt1"
	cnt.AT = []string{"cse2/remote-a"}

	a.UnannounceDeleted(ctx, cnt)

	if len(remote.deleted) != 1 {
		t.Fatalf("expected 1 delete call, got %d", len(remote.deleted))
	}
	if _, err := st.GetResource(ctx, "cnt1"); err == nil {
		t.Fatalf("expected cnt1 to stay absent from the store, UnannounceDeleted must not resurrect it")
	}
}
