package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	first := httpRequestsTotal
	Init()

	if httpRequestsTotal == nil || httpRequestDurationSeconds == nil || rateLimitedTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
	if httpRequestsTotal != first {
		t.Fatal("Init() replaced collectors on second call")
	}

	before := testutil.ToFloat64(rateLimitedTotal.WithLabelValues("memory"))
	ObserveRateLimited("memory")
	if val := testutil.ToFloat64(rateLimitedTotal.WithLabelValues("memory")); val != before+1 {
		t.Errorf("Expected rate limited counter to grow by 1, got %f -> %f", before, val)
	}
}

func TestRegisterQueueGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	pending, running := 4, 2
	status := func() (int, int) { return pending, running }

	if err := RegisterQueueGauges(reg, status); err != nil {
		t.Fatalf("register: %v", err)
	}
	// Registering the same names again is tolerated.
	if err := RegisterQueueGauges(reg, status); err != nil {
		t.Fatalf("re-register: %v", err)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	got := map[string]float64{}
	for _, mf := range families {
		got[mf.GetName()] = mf.GetMetric()[0].GetGauge().GetValue()
	}
	if got["scraper_queue_pending"] != 4 || got["scraper_queue_running"] != 2 {
		t.Errorf("unexpected gauges: %v", got)
	}

	pending = 0
	families, err = reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == "scraper_queue_pending" && mf.GetMetric()[0].GetGauge().GetValue() != 0 {
			t.Errorf("pending gauge did not follow status func")
		}
	}
}

func TestRegisterQueueGaugesRequiresStatus(t *testing.T) {
	if err := RegisterQueueGauges(prometheus.NewRegistry(), nil); err == nil {
		t.Fatal("expected error for nil status func")
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
