package world

import (
	"sort"
	"sync"

	"wasteland.fm/internal/radio/device"
	"wasteland.fm/internal/radio/keystore"
)

// MemStore is the in-process Store used when no database is configured.
type MemStore struct {
	mu       sync.Mutex
	devices  map[string]device.Record
	channels []keystore.Record
}

func NewMemStore() *MemStore {
	return &MemStore{devices: map[string]device.Record{}}
}

func (s *MemStore) SaveDevice(rec device.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.Frequencies = append([]string(nil), rec.Frequencies...)
	s.devices[rec.Owner] = rec
	return nil
}

func (s *MemStore) LoadDevice(playerID string) (device.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.devices[playerID]
	return rec, ok, nil
}

func (s *MemStore) DeleteDevice(playerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.devices, playerID)
	return nil
}

func (s *MemStore) SaveChannels(recs []keystore.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels = append([]keystore.Record(nil), recs...)
	return nil
}

func (s *MemStore) LoadChannels() ([]keystore.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]keystore.Record(nil), s.channels...), nil
}

// Devices returns every stored device record ordered by owner.
func (s *MemStore) Devices() ([]device.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]device.Record, 0, len(s.devices))
	for _, r := range s.devices {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Owner < out[j].Owner })
	return out, nil
}
