package http

import (
	"context"
	"net/http"
	"runtime"
	"time"

	json "github.com/bytedance/sonic"

	"github.com/sawpanic/niftyrun/internal/persistence"
	"github.com/sawpanic/niftyrun/internal/pipeline"
	"github.com/sawpanic/niftyrun/internal/riskstate"
	"github.com/sawpanic/niftyrun/internal/stream"
)

// Health check states
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"

	CheckPass = "pass"
	CheckWarn = "warn"
	CheckFail = "fail"
)

// StatsSource reports runner counters; *pipeline.Runner satisfies it
type StatsSource interface {
	Stats() pipeline.Stats
}

// HealthDeps are the components the health endpoint inspects. All are optional.
type HealthDeps struct {
	Runner   StatsSource
	Risk     riskstate.Reader
	Bus      stream.Bus
	Database persistence.RepositoryHealth
	Version  string
}

// HealthHandler serves the system health summary
type HealthHandler struct {
	deps      HealthDeps
	startTime time.Time
}

// NewHealthHandler creates a health handler
func NewHealthHandler(deps HealthDeps) *HealthHandler {
	return &HealthHandler{deps: deps, startTime: time.Now()}
}

// HealthResponse is the /health payload
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Uptime    string                 `json:"uptime"`
	Version   string                 `json:"version"`
	System    SystemInfo             `json:"system"`
	Runner    *pipeline.Stats        `json:"runner,omitempty"`
	Checks    map[string]CheckResult `json:"checks"`
}

// SystemInfo provides system-level information
type SystemInfo struct {
	GoVersion     string `json:"go_version"`
	NumGoroutines int    `json:"num_goroutines"`
	MemAlloc      uint64 `json:"mem_alloc_bytes"`
	NumGC         uint32 `json:"num_gc"`
}

// CheckResult is the outcome of one health check
type CheckResult struct {
	Status    string        `json:"status"`
	Message   string        `json:"message"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	response := h.gather(r.Context())

	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	status := http.StatusOK
	if response.Status == StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, response)
}

func (h *HealthHandler) gather(ctx context.Context) HealthResponse {
	now := time.Now()
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	resp := HealthResponse{
		Timestamp: now,
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Version:   h.deps.Version,
		System: SystemInfo{
			GoVersion:     runtime.Version(),
			NumGoroutines: runtime.NumGoroutine(),
			MemAlloc:      mem.Alloc,
			NumGC:         mem.NumGC,
		},
		Checks: make(map[string]CheckResult),
	}

	if h.deps.Runner != nil {
		stats := h.deps.Runner.Stats()
		resp.Runner = &stats
		if stats.Halted {
			resp.Checks["runner"] = check(CheckFail, "runner halted on cycle fault", 0)
		} else {
			resp.Checks["runner"] = check(CheckPass, "runner active", 0)
		}
	}

	if h.deps.Risk != nil {
		state := h.deps.Risk.Current()
		switch {
		case state.VolSpikeHalt:
			resp.Checks["risk_state"] = check(CheckWarn, "vol spike halt raised", 0)
		case state.CooldownActive:
			resp.Checks["risk_state"] = check(CheckWarn, "cooldown active", 0)
		default:
			resp.Checks["risk_state"] = check(CheckPass, "no risk halts", 0)
		}
	}

	if h.deps.Bus != nil {
		bh := h.deps.Bus.Health()
		if bh.Healthy {
			resp.Checks["stream_bus"] = check(CheckPass, bh.Status, 0)
		} else {
			resp.Checks["stream_bus"] = check(CheckFail, bh.Status, 0)
		}
	}

	if h.deps.Database != nil {
		start := time.Now()
		dh := h.deps.Database.Health(ctx)
		if dh.Healthy {
			resp.Checks["database"] = check(CheckPass, "database reachable", time.Since(start))
		} else {
			msg := "database unhealthy"
			if len(dh.Errors) > 0 {
				msg = dh.Errors[0]
			}
			resp.Checks["database"] = check(CheckWarn, msg, time.Since(start))
		}
	}

	resp.Status = overallStatus(resp.Checks)
	return resp
}

func check(status, message string, d time.Duration) CheckResult {
	return CheckResult{Status: status, Message: message, Duration: d, Timestamp: time.Now()}
}

// overallStatus is unhealthy on any failed check and degraded on any warning
func overallStatus(checks map[string]CheckResult) string {
	status := StatusHealthy
	for _, c := range checks {
		switch c.Status {
		case CheckFail:
			return StatusUnhealthy
		case CheckWarn:
			status = StatusDegraded
		}
	}
	return status
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"failed to encode response"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
