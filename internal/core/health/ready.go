package health

import (
	"encoding/json"
	"net/http"
)

// ReadinessReporter is satisfied by the process-wide backend connection.
type ReadinessReporter interface {
	Ready() (ready bool, backend string)
}

func Readiness(rr ReadinessReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		type resp struct {
			Status  string `json:"status"`
			Backend string `json:"backend,omitempty"`
		}
		ready, backend := rr.Ready()
		out := resp{Status: "not_ready", Backend: backend}
		if ready {
			out.Status = "ready"
		}
		w.Header().Set("Content-Type", "application/json")
		if !ready {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}
