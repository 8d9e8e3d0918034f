package protocol_test

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"wasteland.fm/internal/protocol"
)

func TestSchemas_ValidateSamples(t *testing.T) {
	compile := func(name string) *jsonschema.Schema {
		t.Helper()
		p := filepath.Join("..", "..", "schemas", name)
		s, err := jsonschema.Compile(p)
		if err != nil {
			t.Fatalf("compile %s: %v", name, err)
		}
		return s
	}

	// Round-trip through JSON so the validator sees the same shape a client would.
	asAny := func(v any) any {
		t.Helper()
		b, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var out any
		if err := json.Unmarshal(b, &out); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return out
	}

	validate := func(s *jsonschema.Schema, v any) {
		t.Helper()
		if err := s.Validate(asAny(v)); err != nil {
			t.Fatalf("validate: %v", err)
		}
	}

	helloSchema := compile("hello.schema.json")
	welcomeSchema := compile("welcome.schema.json")
	commandSchema := compile("command.schema.json")
	eventSchema := compile("event.schema.json")
	batchSchema := compile("batch.schema.json")

	validate(helloSchema, protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		PlayerID:        "p1",
		MaxQueue:        16,
	})

	validate(welcomeSchema, protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       "3f1c",
		PlayerID:        "p1",
		NodeID:          "bunker",
		WorldParams: protocol.WorldParams{
			TickRateHz:   5,
			SpawnNode:    "bunker",
			TransmitCost: 2,
		},
	})

	var radioMsg any
	_ = json.Unmarshal([]byte(`{
	  "type":"radio:message",
	  "data":{"frequency":"104.5","text":"extraction at dawn","encrypted":true}
	}`), &radioMsg)
	if err := commandSchema.Validate(radioMsg); err != nil {
		t.Fatalf("validate radio:message: %v", err)
	}

	var badFreq any
	_ = json.Unmarshal([]byte(`{"type":"radio:message","data":{"frequency":"104.55","text":"x"}}`), &badFreq)
	if err := commandSchema.Validate(badFreq); err == nil {
		t.Fatalf("expected frequency pattern violation")
	}

	validate(eventSchema, protocol.ErrorEvent(protocol.Capacity("max 1 channels"), protocol.TypeRadioJoin))
	validate(eventSchema, protocol.ErrorEvent(errors.New("boom"), ""))
	charge := 96
	validate(eventSchema, protocol.NewEvent(protocol.TypeRadioSent, protocol.RadioSentMsg{Scope: protocol.ScopeRadio, Frequency: "104.5", Recipients: 2, Charge: &charge}))
	validate(eventSchema, protocol.NewEvent(protocol.TypeRadioSent, protocol.RadioSentMsg{Scope: protocol.ScopeLocal, Recipients: 0}))
	validate(eventSchema, protocol.NewEvent(protocol.TypeKeyShared, protocol.KeyAccessMsg{ChannelID: "104.5", PlayerID: "p2"}))
	if err := eventSchema.Validate(asAny(protocol.NewEvent(protocol.TypeKeyRevoked, map[string]string{"channel_id": "104.5"}))); err == nil {
		t.Fatalf("expected key_revoked without player_id to fail")
	}

	validate(batchSchema, protocol.BatchMsg{
		Type: protocol.TypeBatch,
		Seq:  1,
		Events: []protocol.Event{
			protocol.NewEvent(protocol.TypeChatLocal, protocol.ChatLocalMsg{From: "p2", NodeID: "bunker", Message: "hi"}),
			protocol.NewEvent(protocol.TypePlayerArrived, protocol.PresenceMsg{PlayerID: "p3", NodeID: "bunker"}),
		},
	})
}
