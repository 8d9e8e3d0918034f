// Package device models the per-player radio hardware: tier, battery and tuned frequencies.
//
// A device is Unequipped (absent) or Equipped. An equipped device whose charge reached zero is
// depleted: it still receives, but every transmit attempt fails with E_RESOURCE and leaves the
// charge at zero until the battery is recharged or replaced.
package device

import (
	"sort"
	"sync"

	"wasteland.fm/internal/protocol"
)

const MaxCharge = 100

type Device struct {
	Owner       string
	Tier        Tier
	Battery     Battery
	Charge      int
	Frequencies []string
	Scanning    bool
}

// TransmitCapable is the derived "equipped and charged" flag.
func (d Device) TransmitCapable() bool { return d.Charge > 0 }

func (d Device) Depleted() bool { return d.Charge <= 0 }

func (d Device) Tuned(freq string) bool {
	for _, f := range d.Frequencies {
		if f == freq {
			return true
		}
	}
	return false
}

func (d Device) clone() Device {
	d.Frequencies = append([]string(nil), d.Frequencies...)
	return d
}

// Audit is returned by battery operations so callers can log the prior state.
type Audit struct {
	PriorCharge  int
	PriorBattery string
	Charge       int
	Battery      string
}

type Manager struct {
	cat *Catalog

	mu      sync.RWMutex
	devices map[string]*Device
}

func NewManager(cat *Catalog) *Manager {
	return &Manager{cat: cat, devices: map[string]*Device{}}
}

func (m *Manager) Catalog() *Catalog { return m.cat }

func (m *Manager) Equip(playerID, tierName, batteryName string) (Device, error) {
	tier, err := m.cat.Tier(tierName)
	if err != nil {
		return Device{}, err
	}
	bat, err := m.cat.Battery(batteryName)
	if err != nil {
		return Device{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.devices[playerID]; ok {
		return Device{}, protocol.Validation("a radio is already equipped; unequip first")
	}
	d := &Device{Owner: playerID, Tier: tier, Battery: bat, Charge: clampCharge(bat.Capacity)}
	m.devices[playerID] = d
	return d.clone(), nil
}

// Unequip removes the device and returns its last state; the caller owns the channel cascade.
func (m *Manager) Unequip(playerID string) (Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[playerID]
	if !ok {
		return Device{}, protocol.Resource("no radio equipped")
	}
	delete(m.devices, playerID)
	return d.clone(), nil
}

func (m *Manager) Get(playerID string) (Device, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devices[playerID]
	if !ok {
		return Device{}, false
	}
	return d.clone(), true
}

func (m *Manager) mustLocked(playerID string) (*Device, error) {
	d, ok := m.devices[playerID]
	if !ok {
		return nil, protocol.Resource("no radio equipped")
	}
	return d, nil
}

// JoinFrequency tunes the device to freq. Rejoining a tuned frequency is a no-op.
func (m *Manager) JoinFrequency(playerID, freq string) (Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, err := m.mustLocked(playerID)
	if err != nil {
		return Device{}, err
	}
	if d.Tuned(freq) {
		return d.clone(), nil
	}
	if len(d.Frequencies) >= d.Tier.MaxChannels {
		return Device{}, protocol.Capacity("%s radio holds at most %d channels", d.Tier.Name, d.Tier.MaxChannels)
	}
	d.Frequencies = append(d.Frequencies, freq)
	sort.Strings(d.Frequencies)
	return d.clone(), nil
}

// LeaveFrequency is idempotent; it reports whether freq was tuned.
func (m *Manager) LeaveFrequency(playerID, freq string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, err := m.mustLocked(playerID)
	if err != nil {
		return false, err
	}
	for i, f := range d.Frequencies {
		if f == freq {
			d.Frequencies = append(d.Frequencies[:i], d.Frequencies[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

// ConsumeTransmit charges one transmission and returns the remaining charge. At zero charge it
// fails without touching the battery.
func (m *Manager) ConsumeTransmit(playerID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, err := m.mustLocked(playerID)
	if err != nil {
		return 0, err
	}
	if !d.Tier.CanTransmit() {
		return d.Charge, protocol.Validation("%s radio cannot transmit", d.Tier.Name)
	}
	if d.Charge <= 0 {
		return 0, protocol.Resource("battery depleted")
	}
	d.Charge -= m.cat.TransmitCost
	if d.Charge < 0 {
		d.Charge = 0
	}
	return d.Charge, nil
}

// CheckTransmit reports the error ConsumeTransmit would return, without spending charge.
func (m *Manager) CheckTransmit(playerID string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, err := m.mustLocked(playerID)
	if err != nil {
		return err
	}
	if !d.Tier.CanTransmit() {
		return protocol.Validation("%s radio cannot transmit", d.Tier.Name)
	}
	if d.Charge <= 0 {
		return protocol.Resource("battery depleted")
	}
	return nil
}

func (m *Manager) Recharge(playerID string, minutes int) (Audit, error) {
	if minutes <= 0 {
		return Audit{}, protocol.Validation("minutes must be positive")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	d, err := m.mustLocked(playerID)
	if err != nil {
		return Audit{}, err
	}
	if !d.Battery.Rechargeable {
		return Audit{}, protocol.Validation("%s battery is not rechargeable", d.Battery.Name)
	}
	a := Audit{PriorCharge: d.Charge, PriorBattery: d.Battery.Name}
	d.Charge = rechargeTo(d.Charge, d.Battery.Capacity, minutes, m.cat.RechargePerMinute)
	a.Charge, a.Battery = d.Charge, d.Battery.Name
	return a, nil
}

func (m *Manager) ReplaceBattery(playerID, batteryName string) (Audit, error) {
	bat, err := m.cat.Battery(batteryName)
	if err != nil {
		return Audit{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	d, err := m.mustLocked(playerID)
	if err != nil {
		return Audit{}, err
	}
	a := Audit{PriorCharge: d.Charge, PriorBattery: d.Battery.Name}
	d.Battery = bat
	d.Charge = clampCharge(bat.Capacity)
	a.Charge, a.Battery = d.Charge, bat.Name
	return a, nil
}

func (m *Manager) SetScanner(playerID string, enable bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, err := m.mustLocked(playerID)
	if err != nil {
		if !enable {
			return nil
		}
		return err
	}
	if enable && !d.Tier.CanScan {
		return protocol.Validation("%s radio has no scanner", d.Tier.Name)
	}
	d.Scanning = enable
	return nil
}

// Scanners returns every device with its scanner on, ordered by owner.
func (m *Manager) Scanners() []Device {
	m.mu.RLock()
	out := []Device{}
	for _, d := range m.devices {
		if d.Scanning {
			out = append(out, d.clone())
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Owner < out[j].Owner })
	return out
}

func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.devices)
}

// rechargeTo saturates at capacity. minutes*perMinute is only computed when it stays below the
// remaining headroom.
func rechargeTo(charge, capacity, minutes, perMinute int) int {
	if perMinute <= 0 || charge >= capacity {
		return clampCharge(charge)
	}
	need := capacity - charge
	if minutes >= (need+perMinute-1)/perMinute {
		return clampCharge(capacity)
	}
	return clampCharge(charge + minutes*perMinute)
}

func clampCharge(c int) int {
	if c < 0 {
		return 0
	}
	if c > MaxCharge {
		return MaxCharge
	}
	return c
}
