package device

import (
	"fmt"
	"sort"

	"wasteland.fm/internal/protocol"
	"wasteland.fm/internal/sim/tuning"
)

// Range is the reach class of a radio tier.
type Range int

const (
	RangeNode Range = iota + 1
	RangeRegion
	RangeGlobal
	RangeScanner
)

func (r Range) String() string {
	switch r {
	case RangeNode:
		return "node"
	case RangeRegion:
		return "region"
	case RangeGlobal:
		return "global"
	case RangeScanner:
		return "scanner"
	default:
		return "unknown"
	}
}

func parseRange(s string) (Range, error) {
	switch s {
	case "node":
		return RangeNode, nil
	case "region":
		return RangeRegion, nil
	case "global":
		return RangeGlobal, nil
	case "scanner":
		return RangeScanner, nil
	}
	return 0, fmt.Errorf("unknown range %q", s)
}

type Tier struct {
	Name        string
	Range       Range
	MaxChannels int
	CanScan     bool
}

// CanTransmit is false for scanner-only hardware.
func (t Tier) CanTransmit() bool { return t.Range != RangeScanner }

type Battery struct {
	Name         string
	Capacity     int
	Rechargeable bool
}

type Catalog struct {
	tiers             map[string]Tier
	batteries         map[string]Battery
	TransmitCost      int
	RechargePerMinute int
}

func NewCatalog(t tuning.Tuning) (*Catalog, error) {
	c := &Catalog{
		tiers:             map[string]Tier{},
		batteries:         map[string]Battery{},
		TransmitCost:      t.Radio.TransmitCost,
		RechargePerMinute: t.Radio.RechargePerMinute,
	}
	for _, tt := range t.Tiers {
		r, err := parseRange(tt.Range)
		if err != nil {
			return nil, fmt.Errorf("tier %q: %w", tt.Name, err)
		}
		c.tiers[tt.Name] = Tier{Name: tt.Name, Range: r, MaxChannels: tt.MaxChannels, CanScan: tt.CanScan}
	}
	for _, b := range t.Battery {
		c.batteries[b.Name] = Battery{Name: b.Name, Capacity: b.Capacity, Rechargeable: b.Rechargeable}
	}
	if c.TransmitCost <= 0 {
		c.TransmitCost = 1
	}
	if c.RechargePerMinute <= 0 {
		c.RechargePerMinute = 1
	}
	return c, nil
}

func (c *Catalog) Tier(name string) (Tier, error) {
	t, ok := c.tiers[name]
	if !ok {
		return Tier{}, protocol.Validation("unknown radio type %q", name)
	}
	return t, nil
}

func (c *Catalog) Battery(name string) (Battery, error) {
	b, ok := c.batteries[name]
	if !ok {
		return Battery{}, protocol.Validation("unknown battery type %q", name)
	}
	return b, nil
}

func (c *Catalog) TierNames() []string {
	out := make([]string, 0, len(c.tiers))
	for n := range c.tiers {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
