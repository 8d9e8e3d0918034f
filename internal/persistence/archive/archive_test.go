package archive

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"wasteland.fm/internal/persistence/snapshot"
	"wasteland.fm/internal/radio/device"
)

func TestArchiveDaily_OncePerDay(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "snapshots", "42.snap.zst")
	snap := snapshot.SnapshotV1{
		Header:  snapshot.Header{Version: snapshot.Version, Tick: 42},
		Devices: []device.Record{{Owner: "alice", Tier: "field", Battery: "lithium", Charge: 80}},
	}
	if err := snapshot.WriteSnapshot(src, snap); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}

	day := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	dst, ok, err := ArchiveDaily(dir, src, snap, day)
	if err != nil || !ok {
		t.Fatalf("ArchiveDaily: ok=%v err=%v", ok, err)
	}
	if want := filepath.Join(dir, "archives", "2026-03-01", "42.snap.zst"); dst != want {
		t.Fatalf("dst=%q want %q", dst, want)
	}
	got, err := snapshot.ReadSnapshot(dst)
	if err != nil {
		t.Fatalf("archived snapshot unreadable: %v", err)
	}
	if len(got.Devices) != 1 || got.Devices[0].Owner != "alice" {
		t.Fatalf("archived devices %+v", got.Devices)
	}

	if _, ok, err := ArchiveDaily(dir, src, snap, day.Add(3*time.Hour)); err != nil || ok {
		t.Fatalf("second archive same day: ok=%v err=%v", ok, err)
	}
	if _, ok, err := ArchiveDaily(dir, src, snap, day.Add(24*time.Hour)); err != nil || !ok {
		t.Fatalf("next day: ok=%v err=%v", ok, err)
	}
}

func TestPrune_KeepsNewestByTick(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"5.snap.zst", "100.snap.zst", "20.snap.zst", "7.snap.zst", "readme.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	removed, err := Prune(dir, 2)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if len(removed) != 2 {
		t.Fatalf("removed %v", removed)
	}
	for _, keep := range []string{"100.snap.zst", "20.snap.zst", "readme.txt"} {
		if _, err := os.Stat(filepath.Join(dir, keep)); err != nil {
			t.Fatalf("%s should survive: %v", keep, err)
		}
	}
	for _, gone := range []string{"5.snap.zst", "7.snap.zst"} {
		if _, err := os.Stat(filepath.Join(dir, gone)); !os.IsNotExist(err) {
			t.Fatalf("%s should be pruned", gone)
		}
	}
	if _, err := Prune(filepath.Join(dir, "missing"), 2); err != nil {
		t.Fatalf("missing dir: %v", err)
	}
}
