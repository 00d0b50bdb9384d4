package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/fleetsim/internal/fleet"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string           `json:"timestamp"`
	Version       string           `json:"version"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Runtime       RuntimeMetrics   `json:"runtime"`
	WebSocket     WSMetrics        `json:"websocket"`
	Fleet         FleetMetrics     `json:"fleet"`
	Database      *DatabaseMetrics `json:"database,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int               `json:"connected_clients"`
	Subscribers      map[string]int    `json:"subscribers,omitempty"`
	Delivered        map[string]uint64 `json:"delivered,omitempty"`
	Dropped          uint64            `json:"dropped"`
}

// FleetMetrics summarises the simulated fleet.
type FleetMetrics struct {
	Nodes          int            `json:"nodes"`
	Endpoints      int            `json:"endpoints"`
	NodeVersions   map[string]int `json:"node_versions"`
	LatestFirmware map[string]int `json:"latest_firmware"`
}

// DatabaseMetrics contains journal connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// handleMetrics returns runtime, hub and fleet statistics. Node versions
// are read without applying pending artifacts.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	reg := s.sim.Registry()
	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		Fleet: FleetMetrics{
			Nodes:          reg.NodeCount(),
			Endpoints:      reg.EndpointCount(),
			NodeVersions:   make(map[string]int),
			LatestFirmware: make(map[string]int),
		},
	}

	if s.hub != nil {
		stats := s.hub.Stats()
		metrics.WebSocket = WSMetrics{
			ConnectedClients: stats.Clients,
			Subscribers:      stats.Subscribers,
			Delivered:        stats.Delivered,
			Dropped:          stats.Dropped,
		}
	}

	for _, n := range reg.Nodes() {
		metrics.Fleet.NodeVersions[n.UUID] = n.Version
	}
	for _, hw := range fleet.HardwareTypes() {
		if v, err := reg.LatestEndpointVersion(hw); err == nil {
			metrics.Fleet.LatestFirmware[string(hw)] = v
		}
	}

	if s.db != nil {
		stats := s.db.Stats()
		metrics.Database = &DatabaseMetrics{
			OpenConnections: stats.OpenConnections,
			InUse:           stats.InUse,
			Idle:            stats.Idle,
			WaitCount:       stats.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}
