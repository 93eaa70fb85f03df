package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/atvirokodosprendimai/civreg/internal/core/domain"
)

func TestCountersAndExposition(t *testing.T) {
	m := New()
	m.ActionProcessed(domain.ActionDeclare, "accepted")
	m.ActionProcessed(domain.ActionDeclare, "accepted")
	m.AppendConflict()
	m.Dispatched("search.index.birth")
	m.Dispatched("search.index.death")
	m.Dead("confirmation.birth.VERIFY_ID")
	m.Failed("weird")
	m.ConfigCacheHit()

	if got := testutil.ToFloat64(m.ActionsProcessed.WithLabelValues("DECLARE", "accepted")); got != 2 {
		t.Fatalf("actions processed = %v", got)
	}
	if got := testutil.ToFloat64(m.OutboxDispatched.WithLabelValues("search.index")); got != 2 {
		t.Fatalf("search dispatches must share one label, got %v", got)
	}
	if got := testutil.ToFloat64(m.OutboxFailed.WithLabelValues("other")); got != 1 {
		t.Fatalf("unknown topics fall into other, got %v", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{"civreg_append_conflicts_total 1", `civreg_outbox_dead_total{topic="confirmation"} 1`, `civreg_config_lookups_total{result="hit"} 1`} {
		if !strings.Contains(string(body), want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}
