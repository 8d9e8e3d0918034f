package device

import (
	"math"
	"testing"

	"wasteland.fm/internal/protocol"
	"wasteland.fm/internal/sim/tuning"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	cat, err := NewCatalog(tuning.Defaults())
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	return NewManager(cat)
}

func TestEquip_StateMachine(t *testing.T) {
	m := newTestManager(t)
	d, err := m.Equip("p", "handheld", "alkaline")
	if err != nil {
		t.Fatalf("equip: %v", err)
	}
	if d.Charge != 100 || !d.TransmitCapable() || d.Tier.MaxChannels != 1 {
		t.Fatalf("unexpected device %+v", d)
	}
	if _, err := m.Equip("p", "field", "alkaline"); protocol.CodeOf(err) != protocol.ErrValidation {
		t.Fatalf("double equip err=%v", err)
	}
	if _, err := m.Equip("q", "jetpack", "alkaline"); protocol.CodeOf(err) != protocol.ErrValidation {
		t.Fatalf("unknown tier err=%v", err)
	}
	if _, err := m.Unequip("p"); err != nil {
		t.Fatalf("unequip: %v", err)
	}
	if _, err := m.Unequip("p"); protocol.CodeOf(err) != protocol.ErrResource {
		t.Fatalf("unequip twice err=%v", err)
	}
	if _, err := m.Equip("p", "field", "lithium"); err != nil {
		t.Fatalf("re-equip after unequip: %v", err)
	}
}

func TestJoinFrequency_CapacityError(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.Equip("p", "handheld", "alkaline"); err != nil {
		t.Fatalf("equip: %v", err)
	}
	if _, err := m.JoinFrequency("p", "12.0"); err != nil {
		t.Fatalf("join 12.0: %v", err)
	}
	if _, err := m.JoinFrequency("p", "12.0"); err != nil {
		t.Fatalf("rejoin should be a no-op: %v", err)
	}
	if _, err := m.JoinFrequency("p", "13.0"); protocol.CodeOf(err) != protocol.ErrCapacity {
		t.Fatalf("join 13.0 err=%v want capacity", err)
	}
	left, err := m.LeaveFrequency("p", "12.0")
	if err != nil || !left {
		t.Fatalf("leave: %v %v", left, err)
	}
	left, err = m.LeaveFrequency("p", "12.0")
	if err != nil || left {
		t.Fatalf("second leave should be idempotent: %v %v", left, err)
	}
	if _, err := m.JoinFrequency("p", "13.0"); err != nil {
		t.Fatalf("join after leave: %v", err)
	}
}

func TestTransmit_BatteryMonotonicAndDepletion(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.Equip("p", "field", "salvaged"); err != nil {
		t.Fatalf("equip: %v", err)
	}
	prev := 40
	for {
		charge, err := m.ConsumeTransmit("p")
		if err != nil {
			if protocol.CodeOf(err) != protocol.ErrResource {
				t.Fatalf("unexpected err %v", err)
			}
			break
		}
		if charge > prev || charge < 0 {
			t.Fatalf("charge went %d -> %d", prev, charge)
		}
		prev = charge
	}
	d, _ := m.Get("p")
	if d.Charge != 0 || d.TransmitCapable() {
		t.Fatalf("expected depleted device, got %+v", d)
	}
	for i := 0; i < 3; i++ {
		if _, err := m.ConsumeTransmit("p"); protocol.CodeOf(err) != protocol.ErrResource {
			t.Fatalf("transmit at zero err=%v", err)
		}
	}
	d, _ = m.Get("p")
	if d.Charge != 0 {
		t.Fatalf("charge changed while depleted: %d", d.Charge)
	}
	if err := m.CheckTransmit("p"); protocol.CodeOf(err) != protocol.ErrResource {
		t.Fatalf("check transmit err=%v", err)
	}
}

func TestTransmit_CostClampsAtZero(t *testing.T) {
	m := newTestManager(t)
	m.Restore(Record{Owner: "p", Tier: "handheld", Battery: "alkaline", Charge: 1})
	charge, err := m.ConsumeTransmit("p")
	if err != nil || charge != 0 {
		t.Fatalf("charge=%d err=%v", charge, err)
	}
}

func TestScannerTier_CannotTransmit(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.Equip("p", "scanner", "alkaline"); err != nil {
		t.Fatalf("equip: %v", err)
	}
	if _, err := m.ConsumeTransmit("p"); protocol.CodeOf(err) != protocol.ErrValidation {
		t.Fatalf("scanner transmit err=%v", err)
	}
	d, _ := m.Get("p")
	if d.Charge != 100 {
		t.Fatalf("scanner transmit attempt spent charge")
	}
	if err := m.SetScanner("p", true); err != nil {
		t.Fatalf("scanner on: %v", err)
	}
	if len(m.Scanners()) != 1 {
		t.Fatalf("expected one scanner")
	}
}

func TestSetScanner_RequiresCapableTier(t *testing.T) {
	m := newTestManager(t)
	if err := m.SetScanner("p", true); protocol.CodeOf(err) != protocol.ErrResource {
		t.Fatalf("scanner without device err=%v", err)
	}
	if err := m.SetScanner("p", false); err != nil {
		t.Fatalf("disabling a missing scanner is a no-op: %v", err)
	}
	m.Equip("p", "handheld", "alkaline")
	if err := m.SetScanner("p", true); protocol.CodeOf(err) != protocol.ErrValidation {
		t.Fatalf("handheld scanner err=%v", err)
	}
}

func TestBattery_RechargeAndReplaceReturnPriorState(t *testing.T) {
	m := newTestManager(t)
	m.Restore(Record{Owner: "p", Tier: "field", Battery: "lithium", Charge: 10})
	a, err := m.Recharge("p", 4)
	if err != nil {
		t.Fatalf("recharge: %v", err)
	}
	if a.PriorCharge != 10 || a.Charge != 30 || a.Battery != "lithium" {
		t.Fatalf("recharge audit=%+v", a)
	}
	a, _ = m.Recharge("p", 1000)
	if a.Charge != 100 {
		t.Fatalf("recharge should cap at capacity, got %d", a.Charge)
	}

	m.Restore(Record{Owner: "q", Tier: "field", Battery: "lithium", Charge: 80})
	a, err = m.Recharge("q", math.MaxInt/5+1)
	if err != nil {
		t.Fatalf("recharge huge minutes: %v", err)
	}
	if a.PriorCharge != 80 || a.Charge != 100 {
		t.Fatalf("huge recharge must saturate at capacity, audit=%+v", a)
	}
	if _, err := m.Recharge("q", math.MaxInt); err != nil {
		t.Fatalf("recharge full battery: %v", err)
	}
	if d, _ := m.Get("q"); d.Charge != 100 {
		t.Fatalf("charge=%d after max recharge", d.Charge)
	}

	a, err = m.ReplaceBattery("p", "salvaged")
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	if a.PriorCharge != 100 || a.PriorBattery != "lithium" || a.Charge != 40 || a.Battery != "salvaged" {
		t.Fatalf("replace audit=%+v", a)
	}
	if _, err := m.Recharge("p", 5); protocol.CodeOf(err) != protocol.ErrValidation {
		t.Fatalf("recharging salvaged cell err=%v", err)
	}
}

func TestRecord_RoundTripTrimsToCapacity(t *testing.T) {
	m := newTestManager(t)
	d, err := m.Restore(Record{Owner: "p", Tier: "handheld", Battery: "alkaline", Charge: 250, Frequencies: []string{"13.0", "12.0"}, Scanning: true})
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if d.Charge != 100 || len(d.Frequencies) != 1 || d.Frequencies[0] != "12.0" || d.Scanning {
		t.Fatalf("restored %+v", d)
	}
	rec := d.Record()
	if rec.Tier != "handheld" || rec.Battery != "alkaline" || rec.Charge != 100 {
		t.Fatalf("record %+v", rec)
	}
}
