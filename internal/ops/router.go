// internal/ops/router.go
// Operational endpoints served on a separate port

package ops

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const checkTimeout = 3 * time.Second

// Check is a dependency probed by /readyz.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

// CheckResult is the outcome of one Check.
type CheckResult struct {
	Status  string `json:"status"` // "pass" or "fail"
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

// ReadinessResponse is the /readyz body.
type ReadinessResponse struct {
	Status      string                 `json:"status"` // "ready" or "degraded"
	Checks      map[string]CheckResult `json:"checks"`
	Connections int                    `json:"connections"`
	Timestamp   string                 `json:"timestamp"`
}

// Options configures the router. Connections reports live websocket
// connections and may be nil.
type Options struct {
	Checks      []Check
	Connections func() int
}

// NewRouter serves /healthz, /readyz and /metrics.
func NewRouter(opts Options) *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", readiness(opts))
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func readiness(opts Options) http.HandlerFunc {
	checks := append([]Check(nil), opts.Checks...)
	sort.Slice(checks, func(i, j int) bool { return checks[i].Name < checks[j].Name })

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		defer cancel()

		resp := ReadinessResponse{
			Status:    "ready",
			Checks:    make(map[string]CheckResult, len(checks)),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}
		for _, c := range checks {
			start := time.Now()
			if err := c.Ping(ctx); err != nil {
				resp.Checks[c.Name] = CheckResult{Status: "fail", Message: err.Error()}
				resp.Status = "degraded"
				continue
			}
			resp.Checks[c.Name] = CheckResult{Status: "pass", Latency: time.Since(start).String()}
		}
		if opts.Connections != nil {
			resp.Connections = opts.Connections()
		}

		code := http.StatusOK
		if resp.Status != "ready" {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, resp)
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
