package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestLiveness_Handler(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()

	Liveness()(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	ct := rr.Header().Get("Content-Type")
	if !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("content-type=%q want text/plain", ct)
	}
	if got := strings.TrimSpace(rr.Body.String()); got != "ok" {
		t.Fatalf("body=%q want ok", got)
	}
}

type fakeReporter struct {
	ready   bool
	backend string
}

func (f fakeReporter) Ready() (bool, string) { return f.ready, f.backend }

func TestReadiness_ReflectsBackendConnection(t *testing.T) {
	cases := []struct {
		ready      bool
		wantCode   int
		wantStatus string
	}{
		{true, http.StatusOK, "ready"},
		{false, http.StatusServiceUnavailable, "not_ready"},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		Readiness(fakeReporter{ready: tc.ready, backend: "https://openeo.example"})(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

		if rr.Code != tc.wantCode {
			t.Fatalf("ready=%v status=%d want %d", tc.ready, rr.Code, tc.wantCode)
		}
		var body struct {
			Status  string `json:"status"`
			Backend string `json:"backend"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.Status != tc.wantStatus || body.Backend != "https://openeo.example" {
			t.Fatalf("body=%+v", body)
		}
	}
}
