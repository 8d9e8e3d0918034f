package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"wasteland.fm/internal/auth"
	"wasteland.fm/internal/persistence/archive"
	"wasteland.fm/internal/persistence/indexdb"
	persistlog "wasteland.fm/internal/persistence/log"
	"wasteland.fm/internal/persistence/snapshot"
	"wasteland.fm/internal/sim/graph"
	"wasteland.fm/internal/sim/tuning"
	"wasteland.fm/internal/sim/world"
	"wasteland.fm/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		mapPath    = flag.String("map", "", "path to map.yaml (default: <configs>/map.yaml)")
		disableDB  = flag.Bool("disable_db", false, "keep radio state in memory only (no sqlite store or audit index)")
		logFile    = flag.String("log_file", "", "also write logs to this file, rotated by size")

		snapPath      = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest    = flag.Bool("load_latest_snapshot", true, "load latest snapshot from data dir if present (when -snapshot is empty)")
		snapshotEvery = flag.Duration("snapshot_every", 5*time.Minute, "snapshot interval (0 disables periodic snapshots)")
		snapshotKeep  = flag.Int("snapshot_keep", 48, "number of recent snapshots kept in <data>/snapshots (0 keeps all)")
		archiveDaily  = flag.Bool("archive_daily", true, "copy the first snapshot of each UTC day into <data>/archives")

		jwtSecret = flag.String("jwt_secret", "", "HS256 secret for player tokens (or set WFM_JWT_SECRET); empty trusts the HELLO player_id")
		jwtIssuer = flag.String("jwt_issuer", "", "required token issuer (optional)")
	)
	flag.Parse()

	var out io.Writer = os.Stdout
	if p := strings.TrimSpace(*logFile); p != "" {
		rot := &lumberjack.Logger{Filename: p, MaxSize: 64, MaxBackups: 5, MaxAge: 14, Compress: true}
		defer rot.Close()
		out = io.MultiWriter(os.Stdout, rot)
	}
	logger := log.New(out, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}
	if tune.ProtocolVersion != "" && tune.ProtocolVersion != "1.0" {
		logger.Fatalf("tuning protocol_version %q not supported", tune.ProtocolVersion)
	}

	mp := strings.TrimSpace(*mapPath)
	if mp == "" {
		mp = filepath.Join(*configDir, "map.yaml")
	}
	g, err := graph.Load(mp, graph.Weights{
		HopDuration:    tune.Travel.HopDuration(),
		DangerWeight:   tune.Travel.DangerWeight,
		RegionCrossing: tune.Travel.RegionCrossing,
	})
	if err != nil {
		logger.Fatalf("load map: %v", err)
	}

	w, err := world.New(tune, g, log.New(out, "[world] ", log.LstdFlags|log.Lmicroseconds))
	if err != nil {
		logger.Fatalf("world: %v", err)
	}

	_ = os.MkdirAll(*dataDir, 0o755)

	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		idx, err = indexdb.OpenSQLite(filepath.Join(*dataDir, "index", "radio.sqlite"))
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
		defer idx.Close()
		w.SetStore(idx)
		if err := w.RestoreChannels(); err != nil {
			logger.Fatalf("restore channels: %v", err)
		}
	}

	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest {
		snapshotToLoad = latestSnapshot(*dataDir)
	}
	if snapshotToLoad != "" {
		snap, err := snapshot.ReadSnapshot(snapshotToLoad)
		if err != nil {
			logger.Fatalf("read snapshot: %v", err)
		}
		if err := w.ImportSnapshot(snap); err != nil {
			logger.Fatalf("import snapshot: %v", err)
		}
		logger.Printf("resumed from snapshot=%s tick=%d devices=%d channels=%d",
			filepath.Base(snapshotToLoad), w.CurrentTick(), len(snap.Devices), len(snap.Channels))
	}

	tickLog := persistlog.NewTickLogger(*dataDir)
	auditLog := persistlog.NewAuditLogger(*dataDir)
	defer tickLog.Close()
	defer auditLog.Close()
	if idx != nil {
		w.SetTickLogger(multiTickLogger{a: tickLog, b: idx})
		w.SetAuditLogger(multiAuditLogger{a: auditLog, b: idx})
	} else {
		w.SetTickLogger(tickLog)
		w.SetAuditLogger(auditLog)
	}

	verifier, err := buildVerifier(*jwtSecret, *jwtIssuer)
	if err != nil {
		logger.Fatalf("auth: %v", err)
	}
	if _, dev := verifier.(auth.DevVerifier); dev {
		logger.Printf("no jwt secret configured; trusting HELLO player_id (dev mode)")
	}

	ctx, cancel := signalContext()
	defer cancel()

	snaps := &snapshotter{world: w, dir: *dataDir, index: idx, log: logger, keep: *snapshotKeep, archive: *archiveDaily}
	go snaps.run(ctx, *snapshotEvery)

	go func() {
		if err := w.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("world stopped: %v", err)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", metricsHandler(w, idx))
	if envBool("WFM_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	mux.HandleFunc("/v1/ws", ws.NewServer(w, verifier, log.New(out, "[ws] ", log.LstdFlags|log.Lmicroseconds)).Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
	w.Stop()
	if err := snaps.write(); err != nil {
		logger.Printf("final snapshot: %v", err)
	}
}

func buildVerifier(secret, issuer string) (auth.Verifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		secret = strings.TrimSpace(os.Getenv("WFM_JWT_SECRET"))
	}
	if secret == "" {
		return auth.DevVerifier{}, nil
	}
	return auth.NewJWTVerifier(secret, strings.TrimSpace(issuer))
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func latestSnapshot(dataDir string) string {
	dir := filepath.Join(dataDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	var bestTick uint64
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		tick, err := strconv.ParseUint(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		if best == "" || tick > bestTick {
			bestTick = tick
			best = filepath.Join(dir, name)
		}
	}
	return best
}

func envBool(name string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(name)))
	switch v {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

type multiTickLogger struct {
	a world.TickLogger
	b world.TickLogger
}

func (m multiTickLogger) WriteTick(entry world.TickLogEntry) error {
	if m.a != nil {
		_ = m.a.WriteTick(entry)
	}
	if m.b != nil {
		_ = m.b.WriteTick(entry)
	}
	return nil
}

type multiAuditLogger struct {
	a world.AuditLogger
	b world.AuditLogger
}

func (m multiAuditLogger) WriteAudit(entry world.AuditEntry) error {
	if m.a != nil {
		_ = m.a.WriteAudit(entry)
	}
	if m.b != nil {
		_ = m.b.WriteAudit(entry)
	}
	return nil
}

type snapshotter struct {
	world   *world.World
	dir     string
	index   *indexdb.SQLiteIndex
	log     *log.Logger
	keep    int
	archive bool
}

func (s *snapshotter) run(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := s.write(); err != nil {
				s.log.Printf("snapshot write: %v", err)
			}
		}
	}
}

func (s *snapshotter) write() error {
	snap, err := s.world.ExportSnapshot()
	if err != nil {
		return err
	}
	path := filepath.Join(s.dir, "snapshots", fmt.Sprintf("%d.snap.zst", snap.Header.Tick))
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		return err
	}
	if s.index != nil {
		s.index.RecordSnapshot(path, snap)
	}
	if s.archive {
		if dst, ok, err := archive.ArchiveDaily(s.dir, path, snap, time.Now()); err != nil {
			s.log.Printf("archive snapshot: %v", err)
		} else if ok {
			s.log.Printf("archived snapshot tick=%d to %s", snap.Header.Tick, dst)
		}
	}
	if s.keep > 0 {
		if _, err := archive.Prune(filepath.Dir(path), s.keep); err != nil {
			s.log.Printf("prune snapshots: %v", err)
		}
	}
	return nil
}
