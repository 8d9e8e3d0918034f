package device

import "sort"

// Record is the persistence form of a device, keyed by catalog names so it survives catalog
// reloads.
type Record struct {
	Owner       string   `json:"owner" cbor:"1,keyasint"`
	Tier        string   `json:"tier" cbor:"2,keyasint"`
	Battery     string   `json:"battery" cbor:"3,keyasint"`
	Charge      int      `json:"charge" cbor:"4,keyasint"`
	Frequencies []string `json:"frequencies,omitempty" cbor:"5,keyasint,omitempty"`
	Scanning    bool     `json:"scanning,omitempty" cbor:"6,keyasint,omitempty"`
}

func (d Device) Record() Record {
	return Record{
		Owner:       d.Owner,
		Tier:        d.Tier.Name,
		Battery:     d.Battery.Name,
		Charge:      d.Charge,
		Frequencies: append([]string(nil), d.Frequencies...),
		Scanning:    d.Scanning,
	}
}

// Restore installs a device from its record, replacing whatever the owner had equipped.
// Frequencies beyond the tier's capacity are dropped.
func (m *Manager) Restore(rec Record) (Device, error) {
	tier, err := m.cat.Tier(rec.Tier)
	if err != nil {
		return Device{}, err
	}
	bat, err := m.cat.Battery(rec.Battery)
	if err != nil {
		return Device{}, err
	}
	freqs := append([]string(nil), rec.Frequencies...)
	sort.Strings(freqs)
	if len(freqs) > tier.MaxChannels {
		freqs = freqs[:tier.MaxChannels]
	}
	d := &Device{
		Owner:       rec.Owner,
		Tier:        tier,
		Battery:     bat,
		Charge:      clampCharge(rec.Charge),
		Frequencies: freqs,
		Scanning:    rec.Scanning && tier.CanScan,
	}
	m.mu.Lock()
	m.devices[rec.Owner] = d
	m.mu.Unlock()
	return d.clone(), nil
}

// Records returns every equipped device ordered by owner.
func (m *Manager) Records() []Record {
	m.mu.RLock()
	out := make([]Record, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, d.Record())
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Owner < out[j].Owner })
	return out
}
