package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/onem2m-cse/cse/infrastructure/logging"
	"github.com/onem2m-cse/cse/infrastructure/metrics"
	"github.com/onem2m-cse/cse/internal/dispatch"
	"github.com/onem2m-cse/cse/internal/policy"
	"github.com/onem2m-cse/cse/internal/resource"
	"github.com/onem2m-cse/cse/internal/resource/rilock"
	"github.com/onem2m-cse/cse/internal/store"
	"github.com/onem2m-cse/cse/internal/store/memstore"
	"github.com/onem2m-cse/cse/internal/uppertester"
)

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	st := memstore.New()
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	base := resource.New(resource.TypeCSEBase, now)
	base.RI = "cse-in1"
	base.RN = "cse-in1"
	if err := st.PutResource(ctx, base); err != nil {
		t.Fatalf("seed cse base: %v", err)
	}
	if err := st.PutIdentifier(ctx, store.IdentifierEntry{RI: base.RI, RN: base.RN, SRN: "/" + base.RN, Ty: resource.TypeCSEBase}); err != nil {
		t.Fatalf("seed cse base identifier: %v", err)
	}

	d := dispatch.New(
		st,
		policy.NewValidator(policy.NewRegistry()),
		resource.NewRegistry(),
		nil,
		nil,
		rilock.New(0),
		logging.New("cse-test", "error", "json"),
		metrics.NewWithRegistry("cse-test", prometheus.NewRegistry()),
		"cse-in1",
		100,
	)
	tester := uppertester.New(st, "cse-in1", nil)
	return New(d, tester, logging.New("cse-test", "error", "json"), nil), "cse-in1"
}

func TestServer_CreateAE_WrapsEnvelopeAndSetsRSCHeader(t *testing.T) {
	srv, cseRI := newTestServer(t)

	body := bytes.NewBufferString(`{"m2m:ae":{"rn":"myAE","api":"Nmyapp","rr":true}}`)
	req := httptest.NewRequest(http.MethodPost, "/"+cseRI, body)
	req.Header.Set("X-M2M-Origin", "CAdmin")
	req.Header.Set("X-M2M-RI", "rqi-1")
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Header().Get("X-M2M-RSC") != "2001" {
		t.Fatalf("expected RSC 2001 (created), got %q", rec.Header().Get("X-M2M-RSC"))
	}
	if rec.Header().Get("X-M2M-RI") != "rqi-1" {
		t.Fatalf("expected rqi echoed back, got %q", rec.Header().Get("X-M2M-RI"))
	}

	var envelope map[string]map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decoding response body: %v", err)
	}
	ae, ok := envelope["m2m:ae"]
	if !ok {
		t.Fatalf("expected m2m:ae envelope key, got %v", envelope)
	}
	if ae["rn"] != "myAE" {
		t.Fatalf("expected rn to survive, got %v", ae["rn"])
	}
}

func TestServer_RetrieveMissingResource_ReturnsNotFound(t *testing.T) {
	srv, cseRI := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/"+cseRI+"/doesNotExist", nil)
	req.Header.Set("X-M2M-Origin", "CAdmin")
	req.Header.Set("X-M2M-RI", "rqi-2")

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected HTTP 404, got %d", rec.Code)
	}
	if rec.Header().Get("X-M2M-RSC") != "4004" {
		t.Fatalf("expected RSC 4004 (not found), got %q", rec.Header().Get("X-M2M-RSC"))
	}
}

func TestServer_UpperTesterHook_ReturnsStatus(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/__ut__", nil)
	req.Header.Set("X-M2M-UTCMD", "Status")

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Header().Get("X-M2M-RSC") != "2000" {
		t.Fatalf("expected RSC 2000, got %q", rec.Header().Get("X-M2M-RSC"))
	}
	if rec.Header().Get("X-M2M-UTRSP") != "RUNNING" {
		t.Fatalf("expected UTRSP RUNNING, got %q", rec.Header().Get("X-M2M-UTRSP"))
	}
}

func TestUnwrapEnvelope_StripsM2MTagAndResolvesType(t *testing.T) {
	generic := map[string]interface{}{
		"m2m:cnt": map[string]interface{}{"rn": "myCnt"},
	}
	inner, ty := unwrapEnvelope(generic)
	if inner["rn"] != "myCnt" {
		t.Fatalf("expected inner rn, got %v", inner)
	}
	if ty != resource.TypeCNT {
		t.Fatalf("expected TypeCNT, got %v", ty)
	}
}
