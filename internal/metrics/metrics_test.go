package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorsExposed(t *testing.T) {
	before := testutil.ToFloat64(CampaignsStarted.WithLabelValues("warmup"))
	CampaignsStarted.WithLabelValues("warmup").Inc()
	if got := testutil.ToFloat64(CampaignsStarted.WithLabelValues("warmup")); got != before+1 {
		t.Fatalf("expected counter to increase, got %v", got)
	}

	ActiveSessions.Inc()
	defer ActiveSessions.Dec()

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"lessonloop_campaigns_started_total", "lessonloop_active_sessions_current"} {
		if !strings.Contains(string(body), name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}
