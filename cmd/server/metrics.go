package main

import (
	"fmt"
	"net/http"

	"wasteland.fm/internal/persistence/indexdb"
	"wasteland.fm/internal/sim/world"
)

// metricsHandler renders world metrics in the Prometheus text format.
func metricsHandler(w *world.World, idx *indexdb.SQLiteIndex) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

		m := w.Metrics()
		tick := w.CurrentTick()
		if m.Tick != 0 {
			tick = m.Tick
		}

		gauge := func(name, help string, v any) {
			fmt.Fprintf(rw, "# HELP %s %s\n", name, help)
			fmt.Fprintf(rw, "# TYPE %s gauge\n", name)
			switch x := v.(type) {
			case float64:
				fmt.Fprintf(rw, "%s %.3f\n", name, x)
			default:
				fmt.Fprintf(rw, "%s %d\n", name, x)
			}
		}
		counter := func(name, help string, v uint64) {
			fmt.Fprintf(rw, "# HELP %s %s\n", name, help)
			fmt.Fprintf(rw, "# TYPE %s counter\n", name)
			fmt.Fprintf(rw, "%s %d\n", name, v)
		}

		gauge("wasteland_tick", "Current tick.", tick)
		gauge("wasteland_players", "Connected players.", m.Players)
		gauge("wasteland_radios", "Equipped radios.", m.Devices)
		gauge("wasteland_scanners", "Radios with the scanner on.", m.Scanners)
		gauge("wasteland_encrypted_channels", "Encrypted channels.", m.EncryptedChannels)
		gauge("wasteland_pending_travel", "Players in transit.", m.PendingTravel)
		gauge("wasteland_step_ms", "Last tick step duration in milliseconds.", m.StepMS)
		counter("wasteland_frames_sent_total", "Frames handed to connection outboxes.", m.Registry.FramesSent)
		counter("wasteland_frames_dropped_total", "Frames dropped on full or closed outboxes.", m.Registry.FramesDropped)
		counter("wasteland_events_dropped_total", "Buffered events dropped at the pending limit.", m.Registry.EventsDropped)

		if idx != nil {
			st := idx.Stats()
			gauge("wasteland_index_queue_depth", "Index writer backlog.", st.QueueDepth)
			counter("wasteland_index_dropped_total", "Index rows dropped because the writer fell behind.", st.DropAudit+st.DropTick+st.DropSnapshot)
		}
	}
}
