package world

import (
	"fmt"
	"sort"
	"time"

	"wasteland.fm/internal/persistence/snapshot"
	"wasteland.fm/internal/radio/device"
)

// DeviceLister is implemented by stores that can enumerate persisted devices.
type DeviceLister interface {
	Devices() ([]device.Record, error)
}

// ExportSnapshot captures channel keys and every device, live or parked in the store. A live
// device wins over its stored record.
func (w *World) ExportSnapshot() (snapshot.SnapshotV1, error) {
	byOwner := map[string]device.Record{}
	if l, ok := w.store.(DeviceLister); ok {
		recs, err := l.Devices()
		if err != nil {
			return snapshot.SnapshotV1{}, fmt.Errorf("list stored devices: %w", err)
		}
		for _, r := range recs {
			byOwner[r.Owner] = r
		}
	}
	for _, r := range w.devices.Records() {
		byOwner[r.Owner] = r
	}
	devices := make([]device.Record, 0, len(byOwner))
	for _, r := range byOwner {
		devices = append(devices, r)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].Owner < devices[j].Owner })

	return snapshot.SnapshotV1{
		Header: snapshot.Header{
			Version: snapshot.Version,
			Tick:    w.tick.Load(),
			Created: w.now().UTC().Format(time.RFC3339),
		},
		Devices:  devices,
		Channels: w.keys.Export(),
	}, nil
}

// ImportSnapshot loads channel keys and parks every device in the store; each is re-equipped when
// its owner next joins. Call it before accepting connections.
func (w *World) ImportSnapshot(snap snapshot.SnapshotV1) error {
	if err := w.keys.Import(snap.Channels); err != nil {
		return fmt.Errorf("channels: %w", err)
	}
	w.persistChannels()
	for _, r := range snap.Devices {
		if err := w.store.SaveDevice(r); err != nil {
			return fmt.Errorf("device %s: %w", r.Owner, err)
		}
	}
	w.tick.Store(snap.Header.Tick)
	return nil
}
