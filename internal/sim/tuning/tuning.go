package tuning

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	TickRateHz int    `yaml:"tick_rate_hz"`
	SpawnNode  string `yaml:"spawn_node"`

	Travel  Travel `yaml:"travel"`
	Outbox  Outbox `yaml:"outbox"`
	Radio   Radio  `yaml:"radio"`
	Tiers   []Tier `yaml:"tiers"`
	Battery []Cell `yaml:"batteries"`
	Limits  Limits `yaml:"rate_limits"`
}

type Travel struct {
	HopMs          int     `yaml:"hop_ms"`
	DangerWeight   float64 `yaml:"danger_weight"`
	RegionCrossing float64 `yaml:"region_crossing"`
}

func (t Travel) HopDuration() time.Duration { return time.Duration(t.HopMs) * time.Millisecond }

type Outbox struct {
	MaxQueue         int `yaml:"max_queue"`
	MaxPendingEvents int `yaml:"max_pending_events"`
}

type Radio struct {
	TransmitCost               int    `yaml:"transmit_cost"`
	RechargePerMinute          int    `yaml:"recharge_per_minute"`
	MinFrequency               string `yaml:"min_frequency"`
	MaxFrequency               string `yaml:"max_frequency"`
	MaxSubscribersPerFrequency int    `yaml:"max_subscribers_per_frequency"`
	RegionSpillHops            int    `yaml:"region_spill_hops"`
	GlobalClearHops            int    `yaml:"global_clear_hops"`
	ScannerRangeHops           int    `yaml:"scanner_range_hops"`
	NoiseJamThreshold          int    `yaml:"noise_jam_threshold"`
}

// Tier describes one equippable radio model.
type Tier struct {
	Name        string `yaml:"name"`
	Range       string `yaml:"range"` // node | region | global | scanner
	MaxChannels int    `yaml:"max_channels"`
	CanScan     bool   `yaml:"can_scan"`
}

// Cell describes one battery type.
type Cell struct {
	Name         string `yaml:"name"`
	Capacity     int    `yaml:"capacity"`
	Rechargeable bool   `yaml:"rechargeable"`
}

type Limits struct {
	MessagesPerSecond float64 `yaml:"messages_per_second"`
	Burst             int     `yaml:"burst"`
}

func Load(path string) (Tuning, error) {
	var t Tuning
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.ApplyDefaults()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func Defaults() Tuning {
	var t Tuning
	t.ApplyDefaults()
	return t
}

func (t *Tuning) ApplyDefaults() {
	if t.TickRateHz <= 0 {
		t.TickRateHz = 5
	}
	if t.SpawnNode == "" {
		t.SpawnNode = "bunker"
	}
	if t.Travel.HopMs <= 0 {
		t.Travel.HopMs = 3000
	}
	if t.Travel.DangerWeight <= 0 {
		t.Travel.DangerWeight = 0.25
	}
	if t.Travel.RegionCrossing <= 0 {
		t.Travel.RegionCrossing = 0.5
	}
	if t.Outbox.MaxQueue <= 0 {
		t.Outbox.MaxQueue = 32
	}
	if t.Outbox.MaxPendingEvents <= 0 {
		t.Outbox.MaxPendingEvents = 256
	}
	if t.Radio.TransmitCost <= 0 {
		t.Radio.TransmitCost = 2
	}
	if t.Radio.RechargePerMinute <= 0 {
		t.Radio.RechargePerMinute = 5
	}
	if t.Radio.MinFrequency == "" {
		t.Radio.MinFrequency = "1.0"
	}
	if t.Radio.MaxFrequency == "" {
		t.Radio.MaxFrequency = "999.9"
	}
	if t.Radio.MaxSubscribersPerFrequency <= 0 {
		t.Radio.MaxSubscribersPerFrequency = 64
	}
	if t.Radio.RegionSpillHops <= 0 {
		t.Radio.RegionSpillHops = 2
	}
	if t.Radio.GlobalClearHops <= 0 {
		t.Radio.GlobalClearHops = 6
	}
	if t.Radio.ScannerRangeHops <= 0 {
		t.Radio.ScannerRangeHops = 2
	}
	if t.Radio.NoiseJamThreshold <= 0 {
		t.Radio.NoiseJamThreshold = 8
	}
	if len(t.Tiers) == 0 {
		t.Tiers = []Tier{
			{Name: "handheld", Range: "node", MaxChannels: 1},
			{Name: "field", Range: "region", MaxChannels: 3},
			{Name: "longrange", Range: "global", MaxChannels: 5, CanScan: true},
			{Name: "scanner", Range: "scanner", MaxChannels: 0, CanScan: true},
		}
	}
	if len(t.Battery) == 0 {
		t.Battery = []Cell{
			{Name: "alkaline", Capacity: 100},
			{Name: "lithium", Capacity: 100, Rechargeable: true},
			{Name: "salvaged", Capacity: 40},
		}
	}
	if t.Limits.MessagesPerSecond <= 0 {
		t.Limits.MessagesPerSecond = 4
	}
	if t.Limits.Burst <= 0 {
		t.Limits.Burst = 8
	}
}

func (t Tuning) Validate() error {
	seen := map[string]bool{}
	for _, tier := range t.Tiers {
		if tier.Name == "" {
			return fmt.Errorf("tier with empty name")
		}
		if seen[tier.Name] {
			return fmt.Errorf("duplicate tier %q", tier.Name)
		}
		seen[tier.Name] = true
		switch tier.Range {
		case "node", "region", "global", "scanner":
		default:
			return fmt.Errorf("tier %q: unknown range %q", tier.Name, tier.Range)
		}
		if tier.MaxChannels < 0 {
			return fmt.Errorf("tier %q: negative max_channels", tier.Name)
		}
	}
	for _, c := range t.Battery {
		if c.Name == "" || c.Capacity <= 0 || c.Capacity > 100 {
			return fmt.Errorf("battery %q: capacity must be in 1..100", c.Name)
		}
	}
	return nil
}
