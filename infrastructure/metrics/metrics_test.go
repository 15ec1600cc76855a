package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNew(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-cse", reg)

	if m == nil {
		t.Fatal("Expected metrics instance, got nil")
	}
	if m.RequestsTotal == nil {
		t.Error("RequestsTotal should not be nil")
	}
	if m.RequestDuration == nil {
		t.Error("RequestDuration should not be nil")
	}
	if m.ErrorsTotal == nil {
		t.Error("ErrorsTotal should not be nil")
	}
	if m.DispatchTotal == nil {
		t.Error("DispatchTotal should not be nil")
	}
}

func TestRecordHTTPRequest(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-cse", reg)

	m.RecordHTTPRequest("test-cse", "GET", "/~/cse-mn/AE1", "200", 100*time.Millisecond)
	m.RecordHTTPRequest("test-cse", "POST", "/~/cse-mn/AE1", "201", 200*time.Millisecond)
	m.RecordHTTPRequest("test-cse", "GET", "/~/cse-mn/AE1", "404", 50*time.Millisecond)
}

func TestRecordError(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-cse", reg)

	m.RecordError("test-cse", "validation", "create_resource")
	m.RecordError("test-cse", "storage", "retrieve")
}

func TestRecordDispatch(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-cse", reg)

	m.RecordDispatch("C", "CNT", "2001", 5*time.Millisecond)
	m.RecordDispatch("D", "AE", "5000", 1*time.Millisecond)
}

func TestRecordNotification(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-cse", reg)

	m.RecordNotification("3", "success", 20*time.Millisecond)
	m.RecordNotification("2", "failed", 2*time.Second)
}

func TestRecordStorageOp(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-cse", reg)

	m.RecordStorageOp("resources", "upsert", "success", 1*time.Millisecond)
	m.RecordStorageOp("children", "delete", "failed", 1*time.Millisecond)
}

func TestRecordScheduledTaskRun(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-cse", reg)

	m.RecordScheduledTaskRun("expirySweep", "success")
	m.RecordScheduledTaskRun("missingDataMonitor", "skipped")
}

func TestGaugeSetters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-cse", reg)

	m.SetResourcesStored(42)
	m.SetSubscriptionsActive(3)
	m.SetBatchBufferDepth(7)
	m.SetScheduledTasksActive(5)
}

func TestUpdateUptime(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-cse", reg)
	startTime := time.Now().Add(-1 * time.Hour)

	m.UpdateUptime(startTime)
}

func TestInFlightCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-cse", reg)

	m.IncrementInFlight()
	m.IncrementInFlight()
	m.DecrementInFlight()
	m.DecrementInFlight()
}

func TestNewWithRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-cse", reg)

	if m == nil {
		t.Fatal("Expected metrics instance, got nil")
	}

	metricFamilies, err := reg.Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}
	if len(metricFamilies) == 0 {
		t.Error("Expected metrics to be registered")
	}
}
