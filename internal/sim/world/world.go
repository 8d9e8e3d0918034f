package world

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"wasteland.fm/internal/aoi"
	"wasteland.fm/internal/protocol"
	"wasteland.fm/internal/radio/comms"
	"wasteland.fm/internal/radio/device"
	"wasteland.fm/internal/radio/keystore"
	"wasteland.fm/internal/sim/graph"
	"wasteland.fm/internal/sim/travel"
	"wasteland.fm/internal/sim/tuning"
)

// World wires the node graph, interest management, radio hardware, channel keys and travel into
// the event handlers each connection dispatches into. Handlers for one connection run on that
// connection's reader goroutine; every shared registry is guarded by its own lock.
type World struct {
	tun tuning.Tuning
	log *log.Logger

	graph   *graph.Graph
	aoi     *aoi.Manager
	devices *device.Manager
	keys    *keystore.Store
	comms   *comms.Service
	planner *travel.Planner

	store       Store
	auditLogger AuditLogger
	tickLogger  TickLogger

	now func() time.Time

	// sessMu orders Join and Leave. moveMu keeps position and pending intent consistent between
	// move handlers and arrivals.
	sessMu sync.Mutex
	moveMu sync.Mutex

	limMu    sync.Mutex
	limiters map[string]*rate.Limiter

	tick    atomic.Uint64
	metrics atomic.Value
	stop    chan struct{}
	once    sync.Once
}

type Store interface {
	SaveDevice(rec device.Record) error
	LoadDevice(playerID string) (device.Record, bool, error)
	DeleteDevice(playerID string) error
	SaveChannels(recs []keystore.Record) error
	LoadChannels() ([]keystore.Record, error)
}

type AuditLogger interface {
	WriteAudit(entry AuditEntry) error
}

type TickLogger interface {
	WriteTick(entry TickLogEntry) error
}

// TickLogEntry summarizes one tick that moved players or delivered events.
type TickLogEntry struct {
	Tick     uint64 `json:"tick"`
	Time     string `json:"time"`
	Players  int    `json:"players"`
	Arrivals int    `json:"arrivals"`
	Flushed  int    `json:"flushed"`
}

type AuditEntry struct {
	Tick    uint64         `json:"tick"`
	Time    string         `json:"time"`
	Actor   string         `json:"actor"`
	Action  string         `json:"action"` // e.g. "RADIO_EQUIP"
	Target  string         `json:"target,omitempty"`
	Reason  string         `json:"reason,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

func New(t tuning.Tuning, g *graph.Graph, logger *log.Logger) (*World, error) {
	t.ApplyDefaults()
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("tuning: %w", err)
	}
	if !g.Has(t.SpawnNode) {
		return nil, fmt.Errorf("spawn node %q not in map", t.SpawnNode)
	}
	if logger == nil {
		logger = log.Default()
	}
	cat, err := device.NewCatalog(t)
	if err != nil {
		return nil, err
	}
	cfg, err := comms.ConfigFrom(t)
	if err != nil {
		return nil, err
	}
	reg := aoi.NewRegistry(t.Outbox.MaxPendingEvents, logger)
	interest := aoi.NewManager(reg, g, logger)
	devices := device.NewManager(cat)
	keys := keystore.New()
	w := &World{
		tun:      t,
		log:      logger,
		graph:    g,
		aoi:      interest,
		devices:  devices,
		keys:     keys,
		comms:    comms.NewService(cfg, g, interest, devices, keys),
		planner:  travel.NewPlanner(),
		store:    NewMemStore(),
		now:      time.Now,
		limiters: map[string]*rate.Limiter{},
		stop:     make(chan struct{}),
	}
	w.metrics.Store(WorldMetrics{})
	return w, nil
}

func (w *World) SetStore(s Store)             { w.store = s }
func (w *World) SetAuditLogger(l AuditLogger) { w.auditLogger = l }
func (w *World) SetTickLogger(l TickLogger)   { w.tickLogger = l }

// SetClock replaces the wall clock used for travel scheduling.
func (w *World) SetClock(now func() time.Time) { w.now = now }

func (w *World) Tuning() tuning.Tuning    { return w.tun }
func (w *World) Graph() *graph.Graph      { return w.graph }
func (w *World) Interest() *aoi.Manager   { return w.aoi }
func (w *World) Comms() *comms.Service    { return w.comms }
func (w *World) Keys() *keystore.Store    { return w.keys }
func (w *World) Planner() *travel.Planner { return w.planner }

func (w *World) WorldParams() protocol.WorldParams {
	return protocol.WorldParams{
		TickRateHz:     w.tun.TickRateHz,
		SpawnNode:      w.tun.SpawnNode,
		TransmitCost:   w.tun.Radio.TransmitCost,
		MinFrequency:   w.tun.Radio.MinFrequency,
		MaxFrequency:   w.tun.Radio.MaxFrequency,
		MaxBatchEvents: w.tun.Outbox.MaxPendingEvents,
	}
}

// RestoreChannels loads encrypted channel state from the store.
func (w *World) RestoreChannels() error {
	recs, err := w.store.LoadChannels()
	if err != nil {
		return err
	}
	return w.keys.Import(recs)
}

func (w *World) persistChannels() {
	if err := w.store.SaveChannels(w.keys.Export()); err != nil {
		w.log.Printf("persist channels: %v", err)
	}
}

func (w *World) audit(actor, action, target, reason string, details map[string]any) {
	if w.auditLogger == nil {
		return
	}
	_ = w.auditLogger.WriteAudit(AuditEntry{
		Tick:    w.tick.Load(),
		Time:    w.now().UTC().Format(time.RFC3339Nano),
		Actor:   actor,
		Action:  action,
		Target:  target,
		Reason:  reason,
		Details: details,
	})
}

func (w *World) limiter(playerID string) *rate.Limiter {
	w.limMu.Lock()
	defer w.limMu.Unlock()
	l, ok := w.limiters[playerID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(w.tun.Limits.MessagesPerSecond), w.tun.Limits.Burst)
		w.limiters[playerID] = l
	}
	return l
}

func (w *World) dropLimiter(playerID string) {
	w.limMu.Lock()
	delete(w.limiters, playerID)
	w.limMu.Unlock()
}
