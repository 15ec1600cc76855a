package resource

import (
	"testing"
	"time"
)

func TestResource_TouchIncrementsStateAndLT(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := New(TypeCNT, now)
	r.ST = 3

	later := now.Add(time.Minute)
	r.Touch(later)

	if r.ST != 4 {
		t.Fatalf("expected ST=4, got %d", r.ST)
	}
	if !r.LT.Equal(later) {
		t.Fatalf("expected LT=%v, got %v", later, r.LT)
	}
}

func TestResource_Expired(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := New(TypeCIN, now)

	if r.Expired(now) {
		t.Fatal("zero ET should never be expired")
	}

	r.ET = now.Add(-time.Second)
	if !r.Expired(now) {
		t.Fatal("expected expired resource")
	}
}

func TestResource_CloneIsIndependent(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := New(TypeAE, now)
	r.LBL = []string{"a"}
	r.Set("api", "Norg")

	cp := r.Clone()
	cp.LBL[0] = "mutated"
	cp.Set("api", "changed")

	if r.LBL[0] != "a" {
		t.Fatal("clone mutation leaked into original LBL")
	}
	v, _ := r.Get("api")
	if v != "Norg" {
		t.Fatal("clone mutation leaked into original Attrs")
	}
}

func TestType_StringAndAnnounced(t *testing.T) {
	if TypeAE.String() != "AE" {
		t.Fatalf("expected AE, got %s", TypeAE.String())
	}
	annc := Announced(TypeAE)
	if !IsAnnounced(annc) {
		t.Fatal("expected announced marker set")
	}
	if annc.String() != "AEAnnc" {
		t.Fatalf("expected AEAnnc, got %s", annc.String())
	}
	if BaseType(annc) != TypeAE {
		t.Fatalf("expected BaseType to recover AE")
	}
}

func TestBuildSRN(t *testing.T) {
	got := BuildSRN("/cse-in1/testAE", "testCNT")
	want := "/cse-in1/testAE/testCNT"
	if got != want {
		t.Fatalf("got %s want %s", got, want)
	}
	if BuildSRN("", "cse-in1") != "/cse-in1" {
		t.Fatal("root srn construction failed")
	}
}

func TestSplitSRN(t *testing.T) {
	segs := SplitSRN("/cse-in1/testAE/testCNT")
	want := []string{"cse-in1", "testAE", "testCNT"}
	if len(segs) != len(want) {
		t.Fatalf("got %v", segs)
	}
	for i := range want {
		if segs[i] != want[i] {
			t.Fatalf("got %v want %v", segs, want)
		}
	}
}
