package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"wasteland.fm/internal/persistence/snapshot"
)

const snapSuffix = ".snap.zst"

type DailyMeta struct {
	Day       string `json:"day"`
	Tick      uint64 `json:"tick"`
	Snapshot  string `json:"snapshot"`
	Devices   int    `json:"devices"`
	Channels  int    `json:"channels"`
	CreatedAt string `json:"created_at"`
}

// ArchiveDaily copies the first snapshot taken on each UTC day into `dataDir/archives/<day>/`.
// It reports archived=false when that day already has an archive.
func ArchiveDaily(dataDir, snapshotPath string, snap snapshot.SnapshotV1, now time.Time) (archivedPath string, archived bool, err error) {
	day := now.UTC().Format("2006-01-02")
	archiveDir := filepath.Join(dataDir, "archives", day)
	if _, err := os.Stat(filepath.Join(archiveDir, "meta.json")); err == nil {
		return "", false, nil
	}
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return "", false, err
	}

	dst := filepath.Join(archiveDir, filepath.Base(snapshotPath))
	if err := copyFile(snapshotPath, dst); err != nil {
		return "", false, err
	}

	meta := DailyMeta{
		Day:       day,
		Tick:      snap.Header.Tick,
		Snapshot:  filepath.Base(dst),
		Devices:   len(snap.Devices),
		Channels:  len(snap.Channels),
		CreatedAt: now.UTC().Format(time.RFC3339Nano),
	}
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", false, err
	}
	if err := os.WriteFile(filepath.Join(archiveDir, "meta.json"), b, 0o644); err != nil {
		return "", false, err
	}
	return dst, true, nil
}

// Prune keeps the newest keep snapshots in dir, ordered by tick, and deletes the rest.
func Prune(dir string, keep int) ([]string, error) {
	if keep <= 0 {
		return nil, fmt.Errorf("keep must be positive")
	}
	ents, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	type snap struct {
		tick uint64
		name string
	}
	var snaps []snap
	for _, e := range ents {
		if e.IsDir() || !strings.HasSuffix(e.Name(), snapSuffix) {
			continue
		}
		tick, err := strconv.ParseUint(strings.TrimSuffix(e.Name(), snapSuffix), 10, 64)
		if err != nil {
			continue
		}
		snaps = append(snaps, snap{tick: tick, name: e.Name()})
	}
	if len(snaps) <= keep {
		return nil, nil
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].tick > snaps[j].tick })
	var removed []string
	for _, s := range snaps[keep:] {
		p := filepath.Join(dir, s.name)
		if err := os.Remove(p); err != nil {
			return removed, err
		}
		removed = append(removed, p)
	}
	return removed, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
