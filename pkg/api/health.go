package api

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/cuemby/portfolio-deploy/pkg/health"
	"github.com/cuemby/portfolio-deploy/pkg/log"
	"github.com/cuemby/portfolio-deploy/pkg/metrics"
	"github.com/cuemby/portfolio-deploy/pkg/types"
)

// Options configures the health HTTP service
type Options struct {
	Name        string
	Version     string
	Environment string

	// Interval between report refreshes
	Interval time.Duration

	// Ready is the readiness check, usually TCP on the main service port.
	// Nil means always ready.
	Ready health.Checker
}

// HealthServer serves the latest health report. A background loop refreshes
// the report; handlers only read the published snapshot.
type HealthServer struct {
	opts     Options
	reporter *health.Reporter
	metrics  *metrics.HealthMetrics
	router   chi.Router
	logger   zerolog.Logger
	started  time.Time

	report atomic.Pointer[types.HealthReport]
	status *health.Status
}

// HealthResponse is the body of /health/live
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    float64   `json:"uptime_seconds"`
}

// ReadyResponse is the body of /health/ready
type ReadyResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message,omitempty"`
}

// StatusResponse is the static identity served on /status
type StatusResponse struct {
	Name        string    `json:"name"`
	Version     string    `json:"version"`
	Environment string    `json:"environment"`
	PID         int       `json:"pid"`
	StartedAt   time.Time `json:"started_at"`
}

// NewHealthServer creates the health service. m may be nil when metrics
// are disabled, in which case /metrics is not routed.
func NewHealthServer(opts Options, reporter *health.Reporter, m *metrics.HealthMetrics) *HealthServer {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}

	hs := &HealthServer{
		opts:     opts,
		reporter: reporter,
		metrics:  m,
		logger:   log.WithComponent("health-server"),
		started:  time.Now(),
		status:   health.NewStatus(),
	}

	r := chi.NewRouter()
	r.Use(middleware.GetHead)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger(hs.logger))

	r.Get("/health", hs.healthHandler)
	r.Get("/health/live", hs.liveHandler)
	r.Get("/health/ready", hs.readyHandler)
	r.Get("/status", hs.statusHandler)
	if m != nil {
		r.Method(http.MethodGet, "/metrics", m.Handler())
	}
	hs.router = r

	return hs
}

// Handler returns the HTTP handler for embedding in other servers
func (hs *HealthServer) Handler() http.Handler {
	return hs.router
}

// Report returns the last published report, or nil before the first refresh
func (hs *HealthServer) Report() *types.HealthReport {
	return hs.report.Load()
}

// Refresh runs every check once and publishes the result
func (hs *HealthServer) Refresh(ctx context.Context) *types.HealthReport {
	report := hs.reporter.Run(ctx)
	hs.report.Store(report)

	if hs.metrics != nil {
		hs.metrics.Observe(report)
	}

	if hs.status.Update(report.Healthy(), report.Timestamp) {
		ev := hs.logger.Info()
		if !report.Healthy() {
			ev = hs.logger.Warn()
			for name, check := range report.Checks {
				if check.Status != types.HealthHealthy {
					ev = ev.Str(name, check.Error)
				}
			}
		}
		ev.Str("status", string(report.Status)).Msg("Health status changed")
	}
	return report
}

// Run refreshes immediately and then every Interval until ctx is done
func (hs *HealthServer) Run(ctx context.Context) {
	ticker := time.NewTicker(hs.opts.Interval)
	defer ticker.Stop()

	hs.Refresh(ctx)
	for {
		select {
		case <-ticker.C:
			hs.Refresh(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// healthHandler serves the full report: 200 when healthy, 503 otherwise
func (hs *HealthServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	report := hs.report.Load()
	if report == nil {
		writeJSON(w, http.StatusServiceUnavailable, &types.HealthReport{
			Status:    types.HealthUnknown,
			Timestamp: time.Now().UTC(),
			Uptime:    time.Since(hs.started).Seconds(),
			Version:   hs.opts.Version,
			Checks:    map[string]types.CheckResult{},
		})
		return
	}

	code := http.StatusOK
	if !report.Healthy() {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, report)
}

// liveHandler answers 200 while the process runs, whatever the checks say
func (hs *HealthServer) liveHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(hs.started).Seconds(),
	})
}

// readyHandler checks that the main service accepts connections
func (hs *HealthServer) readyHandler(w http.ResponseWriter, r *http.Request) {
	response := ReadyResponse{Status: "ready", Timestamp: time.Now().UTC()}
	code := http.StatusOK

	if hs.opts.Ready != nil {
		result := hs.opts.Ready.Check(r.Context())
		response.Message = result.Message
		if !result.Healthy {
			response.Status = "not ready"
			code = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, response)
}

func (hs *HealthServer) statusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		Name:        hs.opts.Name,
		Version:     hs.opts.Version,
		Environment: hs.opts.Environment,
		PID:         os.Getpid(),
		StartedAt:   hs.started.UTC(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
