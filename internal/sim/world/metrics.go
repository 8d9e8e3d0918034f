package world

import (
	"time"

	"wasteland.fm/internal/aoi"
)

// WorldMetrics is a read-only view of runtime signals, refreshed every tick and read from HTTP
// handlers and tests.
type WorldMetrics struct {
	Tick uint64 `json:"tick"`

	Players           int `json:"players"`
	Devices           int `json:"devices"`
	Scanners          int `json:"scanners"`
	EncryptedChannels int `json:"encrypted_channels"`
	PendingTravel     int `json:"pending_travel"`

	Arrivals      int `json:"arrivals"`
	FlushedEvents int `json:"flushed_events"`

	Registry aoi.RegistryStats `json:"registry"`

	StepMS float64 `json:"step_ms"`
}

func (w *World) Metrics() WorldMetrics {
	if w == nil {
		return WorldMetrics{}
	}
	m, ok := w.metrics.Load().(WorldMetrics)
	if !ok {
		return WorldMetrics{}
	}
	return m
}

func (w *World) recordMetrics(tick uint64, arrivals, flushed int, step time.Duration) {
	w.metrics.Store(WorldMetrics{
		Tick:              tick,
		Players:           len(w.aoi.Registry().Players()),
		Devices:           w.devices.Count(),
		Scanners:          len(w.devices.Scanners()),
		EncryptedChannels: w.keys.Len(),
		PendingTravel:     w.planner.Len(),
		Arrivals:          arrivals,
		FlushedEvents:     flushed,
		Registry:          w.aoi.Registry().Stats(),
		StepMS:            float64(step.Microseconds()) / 1000,
	})
}
