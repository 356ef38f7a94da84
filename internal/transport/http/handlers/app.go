package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"

	logctx "github.com/pribylovaa/go-auth-sessions/internal/pkg/log"
	"github.com/pribylovaa/go-auth-sessions/internal/transport/http/response"
)

type memoryUsage struct {
	HeapTotal string `json:"heapTotal"`
	HeapUsed  string `json:"heapUsed"`
}

type applicationHealth struct {
	Environment string      `json:"environment"`
	Uptime      string      `json:"uptime"`
	Goroutines  int         `json:"goroutines"`
	MemoryUsage memoryUsage `json:"memoryUsage"`
	Database    string      `json:"database"`
}

type systemHealth struct {
	CPUUsage    []float64 `json:"cpuUsage,omitempty"`
	TotalMemory string    `json:"totalMemory,omitempty"`
	FreeMemory  string    `json:"freeMemory,omitempty"`
}

type healthDocs struct {
	Application applicationHealth `json:"application"`
	System      systemHealth      `json:"system"`
	Timestamp   int64             `json:"timestamp"`
}

func megabytes(b uint64) string {
	return fmt.Sprintf("%.2f MB", float64(b)/1024/1024)
}

// Welcome — GET /.
func (h *Handlers) Welcome(w http.ResponseWriter, r *http.Request) {
	response.OK(w, r, http.StatusOK, "Welcome! Your backend is up and running.", nil)
}

// Self — GET /self.
func (h *Handlers) Self(w http.ResponseWriter, r *http.Request) {
	response.OK(w, r, http.StatusOK, "Success", nil)
}

// Health — GET /health: состояние процесса, хранилища и хоста.
// Недоступные метрики хоста пропускаются, ответ остаётся 200.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	db := "up"
	if err := h.svc.Ping(ctx); err != nil {
		db = "down"
		logctx.From(ctx).Warn("health_db_ping_failed", slog.Any("err", err))
	}

	docs := healthDocs{
		Application: applicationHealth{
			Environment: h.env,
			Uptime:      fmt.Sprintf("%.2f Second", time.Since(h.started).Seconds()),
			Goroutines:  runtime.NumGoroutine(),
			MemoryUsage: memoryUsage{
				HeapTotal: megabytes(ms.HeapSys),
				HeapUsed:  megabytes(ms.HeapAlloc),
			},
			Database: db,
		},
		Timestamp: time.Now().UnixMilli(),
	}

	if avg, err := load.AvgWithContext(ctx); err == nil {
		docs.System.CPUUsage = []float64{avg.Load1, avg.Load5, avg.Load15}
	} else {
		logctx.From(ctx).Debug("health_load_unavailable", slog.Any("err", err))
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		docs.System.TotalMemory = megabytes(vm.Total)
		docs.System.FreeMemory = megabytes(vm.Available)
	} else {
		logctx.From(ctx).Debug("health_memory_unavailable", slog.Any("err", err))
	}

	response.OK(w, r, http.StatusOK, "System health data fetched", docs)
}
