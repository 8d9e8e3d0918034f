package world

import (
	"context"
	"time"
)

func (w *World) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(w.tun.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case <-ticker.C:
			w.Tick(w.now())
		}
	}
}

func (w *World) Stop() { w.once.Do(func() { close(w.stop) }) }

// Tick resolves due travel, then flushes every connection's buffered events as one batch each.
func (w *World) Tick(now time.Time) {
	start := time.Now()
	tick := w.tick.Add(1)
	arrivals := w.resolveArrivals(now)
	flushed := w.aoi.FlushAll()
	w.recordMetrics(tick, arrivals, flushed, time.Since(start))

	if w.tickLogger != nil && (arrivals > 0 || flushed > 0) {
		_ = w.tickLogger.WriteTick(TickLogEntry{
			Tick:     tick,
			Time:     now.UTC().Format(time.RFC3339Nano),
			Players:  w.Metrics().Players,
			Arrivals: arrivals,
			Flushed:  flushed,
		})
	}
}

func (w *World) CurrentTick() uint64 { return w.tick.Load() }
