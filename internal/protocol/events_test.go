package protocol

import "testing"

func TestDecodeCommand_Typed(t *testing.T) {
	cmd, typ, err := DecodeCommand([]byte(`{"type":"radio:join","data":{"frequency":"12.0"}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if typ != TypeRadioJoin {
		t.Fatalf("type=%q", typ)
	}
	join, ok := cmd.(RadioJoin)
	if !ok || join.Frequency != "12.0" {
		t.Fatalf("unexpected command %#v", cmd)
	}

	cmd, _, err = DecodeCommand([]byte(`{"type":"radio:unequip"}`))
	if err != nil {
		t.Fatalf("decode unequip: %v", err)
	}
	if _, ok := cmd.(RadioUnequip); !ok {
		t.Fatalf("unexpected command %#v", cmd)
	}
}

func TestDecodeCommand_ChatScopeDefaults(t *testing.T) {
	cmd, _, err := DecodeCommand([]byte(`{"type":"chat_message","data":{"message":"hello"}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if c := cmd.(ChatMessage); c.Scope != ScopeLocal {
		t.Fatalf("scope=%q want local", c.Scope)
	}

	_, _, err = DecodeCommand([]byte(`{"type":"chat_message","data":{"message":"hi","scope":"RADIO"}}`))
	if CodeOf(err) != ErrValidation {
		t.Fatalf("radio scope without frequency: err=%v", err)
	}
	_, _, err = DecodeCommand([]byte(`{"type":"chat_message","data":{"message":"hi","scope":"telepathy"}}`))
	if CodeOf(err) != ErrValidation {
		t.Fatalf("unknown scope: err=%v", err)
	}
}

func TestDecodeCommand_Rejects(t *testing.T) {
	cases := []struct {
		name     string
		frame    string
		wantType string
	}{
		{"not json", `{"type":`, ""},
		{"unknown type", `{"type":"radio:teleport","data":{}}`, "radio:teleport"},
		{"missing field", `{"type":"move_to_node","data":{}}`, TypeMoveToNode},
		{"wrong field type", `{"type":"radio:recharge","data":{"minutes":"ten"}}`, TypeRadioRecharge},
		{"non-positive minutes", `{"type":"radio:recharge","data":{"minutes":0}}`, TypeRadioRecharge},
		{"share key without key", `{"type":"radio:share_key","data":{"targetPlayerId":"b","channelId":"104.5"}}`, TypeRadioShareKey},
	}
	for _, tc := range cases {
		_, typ, err := DecodeCommand([]byte(tc.frame))
		if CodeOf(err) != ErrValidation {
			t.Fatalf("%s: err=%v want %s", tc.name, err, ErrValidation)
		}
		if typ != tc.wantType {
			t.Fatalf("%s: type=%q want %q", tc.name, typ, tc.wantType)
		}
	}
}
