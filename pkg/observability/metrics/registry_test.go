package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nimburion/dlqmanager/pkg/remediation"
)

func TestRegistry_HandlerExposesMetrics(t *testing.T) {
	reg := NewRegistry()
	reg.HTTP().Record(http.MethodGet, "/dlqs", http.StatusOK, 10*time.Millisecond)
	reg.Remediation().ActionRejected(remediation.ActionRedrive, "busy")

	srv := httptest.NewServer(reg.Handler())
	defer srv.Close()

	res, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)

	for _, name := range []string{
		"http_requests_total",
		"dlqmanager_action_rejections_total",
		"go_goroutines",
	} {
		if !strings.Contains(string(body), name) {
			t.Fatalf("expected %s in metrics output", name)
		}
	}
}

func TestRemediationMetrics_ActionFinished(t *testing.T) {
	m := newRemediationMetrics()

	m.ActionStarted(remediation.ActionRedrive)
	if got := testutil.ToFloat64(m.inFlight); got != 1 {
		t.Fatalf("expected inflight 1, got %v", got)
	}

	m.ActionFinished(remediation.Outcome{
		Request: remediation.ActionRequest{Sequence: 1, Kind: remediation.ActionRedrive},
		Results: []remediation.ActionResult{
			remediation.Success("q1", "redriven"),
			remediation.Failure("q3", "throttled"),
		},
	}, time.Millisecond)

	if got := testutil.ToFloat64(m.inFlight); got != 0 {
		t.Fatalf("expected inflight 0, got %v", got)
	}
	if got := testutil.ToFloat64(m.actions.WithLabelValues("redrive", "partial_failure")); got != 1 {
		t.Fatalf("expected partial_failure action, got %v", got)
	}
	if got := testutil.ToFloat64(m.queueResults.WithLabelValues("redrive", "failure")); got != 1 {
		t.Fatalf("expected one failed queue, got %v", got)
	}
}

func TestRemediationMetrics_StaleAndTransport(t *testing.T) {
	m := newRemediationMetrics()

	m.ActionStarted(remediation.ActionPurge)
	m.ActionFinished(remediation.Outcome{
		Request: remediation.ActionRequest{Sequence: 1, Kind: remediation.ActionPurge},
		Results: []remediation.ActionResult{remediation.Failure("", remediation.FailedActionMessage)},
		Stale:   true,
		Err:     errors.New("connection refused"),
	}, time.Millisecond)

	if got := testutil.ToFloat64(m.stale); got != 1 {
		t.Fatalf("expected one stale discard, got %v", got)
	}
	if got := testutil.ToFloat64(m.actions.WithLabelValues("purge", "transport_error")); got != 1 {
		t.Fatalf("expected transport_error action, got %v", got)
	}
	if got := testutil.CollectAndCount(m.queueResults); got != 0 {
		t.Fatalf("expected no per-queue results for transport error, got %d", got)
	}
}
