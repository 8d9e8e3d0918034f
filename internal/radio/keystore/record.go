package keystore

import (
	"fmt"
	"sort"
)

// Record is the persistence form of an encrypted channel. Keys carries every version's key
// material so grants made before a rotation survive a restart.
type Record struct {
	ChannelID string              `json:"channel_id" cbor:"1,keyasint"`
	Creator   string              `json:"creator" cbor:"2,keyasint"`
	Version   uint32              `json:"version" cbor:"3,keyasint"`
	Keys      map[uint32]string   `json:"keys" cbor:"4,keyasint"`
	Holders   map[string][]uint32 `json:"holders" cbor:"5,keyasint"`
}

// Export returns every channel ordered by id.
func (s *Store) Export() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, len(s.channels))
	for _, c := range s.channels {
		rec := Record{
			ChannelID: c.id,
			Creator:   c.creator,
			Version:   c.current,
			Keys:      make(map[uint32]string, len(c.keys)),
			Holders:   make(map[string][]uint32, len(c.held)),
		}
		for v, kv := range c.keys {
			rec.Keys[v] = kv.material
		}
		for p, vs := range c.held {
			list := make([]uint32, 0, len(vs))
			for v := range vs {
				list = append(list, v)
			}
			sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })
			rec.Holders[p] = list
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChannelID < out[j].ChannelID })
	return out
}

// Import replaces the store contents with recs.
func (s *Store) Import(recs []Record) error {
	channels := make(map[string]*channel, len(recs))
	byFP := map[string]fpRef{}
	for _, rec := range recs {
		if _, ok := rec.Keys[rec.Version]; !ok {
			return fmt.Errorf("channel %q: missing key for current version %d", rec.ChannelID, rec.Version)
		}
		c := &channel{
			id:      rec.ChannelID,
			creator: rec.Creator,
			current: rec.Version,
			keys:    make(map[uint32]keyVersion, len(rec.Keys)),
			held:    map[string]map[uint32]struct{}{},
		}
		for v, material := range rec.Keys {
			kv, err := deriveKey(rec.ChannelID, v, material)
			if err != nil {
				return fmt.Errorf("channel %q v%d: %w", rec.ChannelID, v, err)
			}
			c.keys[v] = kv
			byFP[kv.fingerprint] = fpRef{channel: rec.ChannelID, version: v}
		}
		for p, vs := range rec.Holders {
			for _, v := range vs {
				if _, ok := c.keys[v]; ok {
					c.give(p, v)
				}
			}
		}
		channels[rec.ChannelID] = c
	}
	s.mu.Lock()
	s.channels, s.byFP = channels, byFP
	s.mu.Unlock()
	return nil
}
