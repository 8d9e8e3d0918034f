package main

import (
	"encoding/json"
	"testing"

	"wasteland.fm/internal/protocol"
)

// Every console command must produce a frame the server decoder accepts.
func TestParseLine_DecodesOnServer(t *testing.T) {
	lines := map[string]string{
		"move market":         protocol.TypeMoveToNode,
		"shout over here":     protocol.TypeChatMessage,
		"equip field lithium": protocol.TypeRadioEquip,
		"unequip":             protocol.TypeRadioUnequip,
		"join 104.5":          protocol.TypeRadioJoin,
		"leave 104.5":         protocol.TypeRadioLeave,
		"txe 104.5 at dawn":   protocol.TypeRadioMessage,
		"pm bob meet me":      protocol.TypeRadioPrivate,
		"scan on":             protocol.TypeRadioScan,
		"freqs":               protocol.TypeRadioFrequencies,
		"battery alkaline":    protocol.TypeRadioBattery,
		"recharge 4":          protocol.TypeRadioRecharge,
		"create 104.5":        protocol.TypeRadioCreateEncrypted,
		"share bob 104.5 k":   protocol.TypeRadioShareKey,
		"revoke bob 104.5":    protocol.TypeRadioRevokeKey,
		"rotate 104.5":        protocol.TypeRadioRotateKey,
		"delete 104.5":        protocol.TypeRadioDeleteEncrypted,
		"keys":                protocol.TypeRadioEncryptedList,
	}
	for line, typ := range lines {
		f, err := parseLine(line)
		if err != nil {
			t.Fatalf("%q: %v", line, err)
		}
		b, err := json.Marshal(f)
		if err != nil {
			t.Fatalf("%q: marshal: %v", line, err)
		}
		cmd, gotType, err := protocol.DecodeCommand(b)
		if err != nil {
			t.Fatalf("%q: server rejected %s: %v", line, b, err)
		}
		if gotType != typ || cmd.EventType() != typ {
			t.Fatalf("%q: type=%s want %s", line, gotType, typ)
		}
	}
}

func TestParseLine_Text(t *testing.T) {
	f, err := parseLine("txe 104.5 extraction at dawn")
	if err != nil {
		t.Fatalf("parseLine: %v", err)
	}
	msg, ok := f.Data.(protocol.RadioMessage)
	if !ok || msg.Text != "extraction at dawn" || !msg.Encrypted {
		t.Fatalf("frame %+v", f)
	}
}

func TestParseLine_Errors(t *testing.T) {
	for _, line := range []string{"", "move", "equip field", "recharge soon", "teleport home"} {
		if _, err := parseLine(line); err == nil {
			t.Fatalf("%q: expected error", line)
		}
	}
}
