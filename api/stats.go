package api

import (
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/pairpad/server/session"
)

type StatsHandler struct {
	registry *session.Registry
	started  time.Time
	proc     *process.Process
}

func NewStatsHandler(registry *session.Registry) *StatsHandler {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		slog.Warn("process stats unavailable", "error", err)
	}
	return &StatsHandler{registry: registry, started: time.Now(), proc: proc}
}

type StatsResponse struct {
	session.Stats
	UptimeSeconds int64   `json:"uptime_seconds"`
	RSSBytes      uint64  `json:"rss_bytes,omitempty"`
	CPUPercent    float64 `json:"cpu_percent,omitempty"`
	Threads       int32   `json:"threads,omitempty"`
}

func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{
		Stats:         h.registry.Stats(),
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
	}

	if h.proc != nil {
		if mem, err := h.proc.MemoryInfoWithContext(r.Context()); err == nil {
			resp.RSSBytes = mem.RSS
		}
		if cpu, err := h.proc.CPUPercentWithContext(r.Context()); err == nil {
			resp.CPUPercent = cpu
		}
		if n, err := h.proc.NumThreadsWithContext(r.Context()); err == nil {
			resp.Threads = n
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
