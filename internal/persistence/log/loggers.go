// Package log keeps the append-only journals the server writes next to its snapshots: the audit
// trail of radio and key administration, and a per-tick activity summary. Each journal is a
// series of hourly zstd-compressed JSONL files, one JSON object per line.
package log

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"

	"wasteland.fm/internal/sim/world"
)

const hourLayout = "2006-01-02-15"

// Journal appends entries to <dir>/<name>-YYYY-MM-DD-HH.jsonl.zst, starting a new file when the
// UTC hour changes. Reopening an existing hour appends a new zstd frame to it.
type Journal struct {
	dir  string
	name string

	mu    sync.Mutex
	clock func() time.Time
	seg   *segment

	entries atomic.Uint64
}

// segment is the open file for one hour.
type segment struct {
	hour string
	file *os.File
	zw   *zstd.Encoder
	buf  *bufio.Writer
}

func (s *segment) close() error {
	_ = s.buf.Flush()
	err := s.zw.Close()
	if cerr := s.file.Close(); err == nil {
		err = cerr
	}
	return err
}

func NewJournal(dir, name string) *Journal {
	return &Journal{dir: dir, name: name, clock: time.Now}
}

// Path is the file an entry appended at t lands in.
func (j *Journal) Path(t time.Time) string {
	return filepath.Join(j.dir, j.name+"-"+t.UTC().Format(hourLayout)+".jsonl.zst")
}

// SetClock overrides the clock that picks the hourly file.
func (j *Journal) SetClock(now func() time.Time) {
	j.mu.Lock()
	j.clock = now
	j.mu.Unlock()
}

// Entries counts lines appended since the journal was created.
func (j *Journal) Entries() uint64 { return j.entries.Load() }

// Append writes v as one line and flushes it through the compressor, so a crash loses at most
// the entry being written.
func (j *Journal) Append(v any) error {
	line, err := json.Marshal(v)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()
	seg, err := j.segmentLocked(j.clock())
	if err != nil {
		return err
	}
	if _, err := seg.buf.Write(line); err != nil {
		return err
	}
	if err := seg.buf.Flush(); err != nil {
		return err
	}
	j.entries.Add(1)
	return nil
}

func (j *Journal) segmentLocked(now time.Time) (*segment, error) {
	hour := now.UTC().Format(hourLayout)
	if j.seg != nil && j.seg.hour == hour {
		return j.seg, nil
	}
	if j.seg != nil {
		err := j.seg.close()
		j.seg = nil
		if err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(j.dir, 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(j.Path(now), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	j.seg = &segment{hour: hour, file: f, zw: zw, buf: bufio.NewWriterSize(zw, 64*1024)}
	return j.seg, nil
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.seg == nil {
		return nil
	}
	err := j.seg.close()
	j.seg = nil
	return err
}

// AuditLogger journals the actions players take on shared radio state under <dataDir>/audit:
// RADIO_EQUIP, RADIO_UNEQUIP, RADIO_BATTERY_REPLACE, RADIO_RECHARGE, the KEY_* channel
// administration actions and DISCONNECT_CLEANUP failures.
type AuditLogger struct{ *Journal }

func NewAuditLogger(dataDir string) *AuditLogger {
	return &AuditLogger{NewJournal(filepath.Join(dataDir, "audit"), "audit")}
}

func (l *AuditLogger) WriteAudit(e world.AuditEntry) error { return l.Append(e) }

// TickLogger journals ticks that resolved arrivals or flushed events under <dataDir>/ticks.
type TickLogger struct{ *Journal }

func NewTickLogger(dataDir string) *TickLogger {
	return &TickLogger{NewJournal(filepath.Join(dataDir, "ticks"), "ticks")}
}

func (l *TickLogger) WriteTick(e world.TickLogEntry) error { return l.Append(e) }
