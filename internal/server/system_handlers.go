package server

import (
	"net/http"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemHandlers serves host-level status for the operations dashboard.
type SystemHandlers struct {
	log     zerolog.Logger
	dataDir string
	started time.Time
}

// NewSystemHandlers creates system handlers rooted at the data directory.
func NewSystemHandlers(log zerolog.Logger, dataDir string) *SystemHandlers {
	return &SystemHandlers{
		log:     log.With().Str("component", "system").Logger(),
		dataDir: dataDir,
		started: time.Now(),
	}
}

// SystemStatus is the response of HandleSystemStatus.
type SystemStatus struct {
	UptimeSeconds  float64 `json:"uptimeSeconds"`
	Goroutines     int     `json:"goroutines"`
	CPUPercent     float64 `json:"cpuPercent"`
	MemUsedPercent float64 `json:"memUsedPercent"`
	MemUsedMB      uint64  `json:"memUsedMb"`
	MemTotalMB     uint64  `json:"memTotalMb"`
}

// HandleSystemStatus reports process and host health.
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, _ *http.Request) {
	status := SystemStatus{
		UptimeSeconds: time.Since(h.started).Seconds(),
		Goroutines:    runtime.NumGoroutine(),
	}

	if percent, err := cpu.Percent(0, false); err == nil && len(percent) > 0 {
		status.CPUPercent = percent[0]
	} else if err != nil {
		h.log.Warn().Err(err).Msg("Failed to read CPU usage")
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		status.MemUsedPercent = vm.UsedPercent
		status.MemUsedMB = vm.Used / 1024 / 1024
		status.MemTotalMB = vm.Total / 1024 / 1024
	} else {
		h.log.Warn().Err(err).Msg("Failed to read memory usage")
	}

	writeJSON(w, http.StatusOK, status)
}

// DiskStatus is the response of HandleDiskUsage.
type DiskStatus struct {
	Path        string  `json:"path"`
	TotalGB     float64 `json:"totalGb"`
	FreeGB      float64 `json:"freeGb"`
	UsedPercent float64 `json:"usedPercent"`
}

// HandleDiskUsage reports disk usage of the data directory volume.
func (h *SystemHandlers) HandleDiskUsage(w http.ResponseWriter, _ *http.Request) {
	usage, err := disk.Usage(h.dataDir)
	if err != nil {
		h.log.Error().Err(err).Str("path", h.dataDir).Msg("Failed to read disk usage")
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, DiskStatus{
		Path:        h.dataDir,
		TotalGB:     float64(usage.Total) / 1024 / 1024 / 1024,
		FreeGB:      float64(usage.Free) / 1024 / 1024 / 1024,
		UsedPercent: usage.UsedPercent,
	})
}
