package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"

	"wasteland.fm/internal/persistence/archive"
	"wasteland.fm/internal/persistence/snapshot"
	"wasteland.fm/internal/radio/device"
	"wasteland.fm/internal/sim/world"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		case "audit":
			auditCmd(os.Args[2:])
			return
		case "prune":
			pruneCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "metrics":
			metricsCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	entries, err := os.ReadDir(filepath.Join(*dataDir, "snapshots"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, e := range entries {
		fmt.Println(e.Name())
	}
}

// channelSummary is a channel without its key material.
type channelSummary struct {
	ChannelID string   `json:"channel_id"`
	Creator   string   `json:"creator"`
	Version   uint32   `json:"version"`
	Versions  int      `json:"versions"`
	Holders   []string `json:"holders"`
}

type snapshotSummary struct {
	Header   snapshot.Header  `json:"header"`
	Devices  []device.Record  `json:"devices"`
	Channels []channelSummary `json:"channels"`
}

func summarize(snap snapshot.SnapshotV1) snapshotSummary {
	out := snapshotSummary{Header: snap.Header, Devices: snap.Devices, Channels: make([]channelSummary, 0, len(snap.Channels))}
	for _, c := range snap.Channels {
		holders := make([]string, 0, len(c.Holders))
		for h := range c.Holders {
			holders = append(holders, h)
		}
		sort.Strings(holders)
		out.Channels = append(out.Channels, channelSummary{
			ChannelID: c.ChannelID,
			Creator:   c.Creator,
			Version:   c.Version,
			Versions:  len(c.Keys),
			Holders:   holders,
		})
	}
	return out
}

func snapshotCmd(args []string) {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	snapPath := fs.String("snapshot", "", "snapshot path (optional; defaults to latest)")
	_ = fs.Parse(args)

	path := strings.TrimSpace(*snapPath)
	if path == "" {
		path = latestSnapshot(*dataDir)
	}
	if path == "" {
		fmt.Fprintln(os.Stderr, "no snapshots found")
		os.Exit(2)
	}
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	printJSON(summarize(snap))
}

type auditFilter struct {
	SinceTick uint64
	ToTick    uint64 // 0 means no upper bound
	Actor     string
	Action    string
}

func (f auditFilter) match(e world.AuditEntry) bool {
	if e.Tick < f.SinceTick {
		return false
	}
	if f.ToTick != 0 && e.Tick > f.ToTick {
		return false
	}
	if f.Actor != "" && e.Actor != f.Actor {
		return false
	}
	if f.Action != "" && !strings.EqualFold(e.Action, f.Action) {
		return false
	}
	return true
}

func auditCmd(args []string) {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	sinceTick := fs.Uint64("since_tick", 0, "first tick (inclusive)")
	toTick := fs.Uint64("to_tick", 0, "last tick (inclusive, optional)")
	actor := fs.String("actor", "", "actor filter")
	action := fs.String("action", "", "action filter, e.g. KEY_GRANT")
	_ = fs.Parse(args)

	recs, err := readAudit(*dataDir, auditFilter{SinceTick: *sinceTick, ToTick: *toTick, Actor: *actor, Action: *action})
	if err != nil {
		fmt.Fprintln(os.Stderr, "read audit:", err)
		os.Exit(1)
	}
	enc := json.NewEncoder(os.Stdout)
	for _, r := range recs {
		_ = enc.Encode(r)
	}
}

// readAudit returns matching entries from the hourly audit files in file order.
func readAudit(dataDir string, f auditFilter) ([]world.AuditEntry, error) {
	dir := filepath.Join(dataDir, "audit")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "audit-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var out []world.AuditEntry
	for _, name := range names {
		recs, err := readAuditFile(filepath.Join(dir, name), f)
		if err != nil {
			return nil, err
		}
		out = append(out, recs...)
	}
	return out, nil
}

func readAuditFile(path string, f auditFilter) ([]world.AuditEntry, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	dec, err := zstd.NewReader(fh)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var out []world.AuditEntry
	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for sc.Scan() {
		var e world.AuditEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
		}
		if f.match(e) {
			out = append(out, e)
		}
	}
	return out, sc.Err()
}

func pruneCmd(args []string) {
	fs := flag.NewFlagSet("prune", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	keep := fs.Int("keep", 10, "number of snapshots to keep")
	_ = fs.Parse(args)

	removed, err := archive.Prune(filepath.Join(*dataDir, "snapshots"), *keep)
	for _, p := range removed {
		fmt.Println("removed", p)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "prune:", err)
		os.Exit(1)
	}
}

func latestSnapshot(dataDir string) string {
	dir := filepath.Join(dataDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best uint64
	var bestPath string
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		tick, err := strconv.ParseUint(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		if bestPath == "" || tick > best {
			best = tick
			bestPath = filepath.Join(dir, name)
		}
	}
	return bestPath
}
