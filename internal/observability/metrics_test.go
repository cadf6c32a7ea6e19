package observability

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestEngineAndPipelineCounters(t *testing.T) {
	m := NewMetrics()

	m.ObserveAttempt("auto", 120*time.Millisecond, nil)
	m.ObserveAttempt("fr", 80*time.Millisecond, nil)
	m.ObserveAttempt("ar", 10*time.Millisecond, errors.New("boom"))
	m.ObserveSelectedHint("fr")
	m.ObserveRejectedClip("too_quiet")
	m.ObserveRejectedClip("too_quiet")
	m.ObserveSuppressedTranscript()
	m.ObserveIntent("create_reminder")
	m.ObserveIntent("")

	if got := testutil.ToFloat64(m.engineAttemptsTotal.WithLabelValues("ar", "error")); got != 1 {
		t.Fatalf("ar error attempts = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.engineAttemptsTotal.WithLabelValues("auto", "ok")); got != 1 {
		t.Fatalf("auto ok attempts = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.rejectedClipsTotal.WithLabelValues("too_quiet")); got != 2 {
		t.Fatalf("rejected clips = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.suppressedTotal); got != 1 {
		t.Fatalf("suppressed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.intentsTotal.WithLabelValues("unknown")); got != 1 {
		t.Fatalf("unknown intents = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.selectedHintsTotal.WithLabelValues("fr")); got != 1 {
		t.Fatalf("selected fr = %v, want 1", got)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveHTTP("/healthz", "GET", 200, time.Millisecond)
	m.ObserveUpstream("audio/transcriptions", 200, time.Millisecond)
	m.ObserveAttempt("auto", time.Millisecond, nil)
	m.ObserveSelectedHint("auto")
	m.ObserveRejectedClip("too_short")
	m.ObserveSuppressedTranscript()
	m.ObserveIntent("play_media")
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := NewMetrics()
	m.ObserveHTTP("/v1/process", "POST", 200, 50*time.Millisecond)
	m.ObserveUpstream("audio/transcriptions", 200, 30*time.Millisecond)

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rr.Body)
	for _, name := range []string{
		"seniorvoice_http_requests_total",
		"seniorvoice_upstream_request_duration_seconds",
		"go_goroutines",
	} {
		if !strings.Contains(string(body), name) {
			t.Fatalf("metrics output missing %s", name)
		}
	}
}
