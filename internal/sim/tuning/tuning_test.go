package tuning

import "testing"

func TestLoad_RepoTuning(t *testing.T) {
	tune, err := Load("../../../configs/tuning.yaml")
	if err != nil {
		t.Fatalf("load tuning.yaml: %v", err)
	}
	if tune.TickRateHz != 5 {
		t.Fatalf("tick_rate_hz=%d want 5", tune.TickRateHz)
	}
	if len(tune.Tiers) != 4 {
		t.Fatalf("tiers=%d want 4", len(tune.Tiers))
	}
	if tune.Tiers[0].Name != "handheld" || tune.Tiers[0].MaxChannels != 1 {
		t.Fatalf("unexpected first tier %+v", tune.Tiers[0])
	}
	if tune.Radio.TransmitCost != 2 {
		t.Fatalf("transmit_cost=%d want 2", tune.Radio.TransmitCost)
	}
}

func TestDefaults_Valid(t *testing.T) {
	d := Defaults()
	if err := d.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	if d.Travel.HopDuration().Milliseconds() != 3000 {
		t.Fatalf("hop duration=%v", d.Travel.HopDuration())
	}
}

func TestValidate_RejectsBadTier(t *testing.T) {
	d := Defaults()
	d.Tiers = append(d.Tiers, Tier{Name: "handheld", Range: "node", MaxChannels: 1})
	if err := d.Validate(); err == nil {
		t.Fatalf("expected duplicate tier rejected")
	}
	d = Defaults()
	d.Tiers[0].Range = "orbital"
	if err := d.Validate(); err == nil {
		t.Fatalf("expected unknown range rejected")
	}
}
