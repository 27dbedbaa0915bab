package metrics

import "testing"

func TestNewIsSingleton(t *testing.T) {
	m1 := New()
	m2 := New()
	if m1 != m2 {
		t.Fatalf("expected New() to return the same instance both times")
	}
	if m1.JobsSubmitted == nil || m1.JobsActive == nil || m1.JobDuration == nil ||
		m1.CrossingEvents == nil || m1.DetectorErrors == nil || m1.StoreErrors == nil ||
		m1.StreamSubscribers == nil || m1.APIRequests == nil || m1.APILatency == nil {
		t.Fatalf("expected all series to be populated: %+v", m1)
	}
}

func TestHandlerNotNil(t *testing.T) {
	m := New()
	if m.Handler() == nil {
		t.Fatalf("expected a non-nil promhttp handler")
	}
}
