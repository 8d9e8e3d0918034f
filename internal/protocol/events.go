package protocol

import (
	"encoding/json"
	"strings"
)

// Inbound event types (client -> server).
const (
	TypeMoveToNode           = "move_to_node"
	TypeChatMessage          = "chat_message"
	TypeRadioEquip           = "radio:equip"
	TypeRadioUnequip         = "radio:unequip"
	TypeRadioJoin            = "radio:join"
	TypeRadioLeave           = "radio:leave"
	TypeRadioMessage         = "radio:message"
	TypeRadioPrivate         = "radio:private"
	TypeRadioScan            = "radio:scan"
	TypeRadioFrequencies     = "radio:frequencies"
	TypeRadioBattery         = "radio:battery"
	TypeRadioRecharge        = "radio:recharge"
	TypeRadioCreateEncrypted = "radio:create_encrypted"
	TypeRadioShareKey        = "radio:share_key"
	TypeRadioRevokeKey       = "radio:revoke_key"
	TypeRadioEncryptedList   = "radio:encrypted_channels"
	TypeRadioRotateKey       = "radio:rotate_key"
	TypeRadioDeleteEncrypted = "radio:delete_encrypted"
)

// Outbound notification types (server -> client).
const (
	TypeMoveStarted      = "move:started"
	TypeMoveCompleted    = "move:completed"
	TypePlayerJoined     = "player:joined"
	TypePlayerLeft       = "player:left"
	TypePlayerArrived    = "player:arrived"
	TypePlayerLeaving    = "player:leaving"
	TypeChatLocal        = "chat:local"
	TypeRadioJoined      = "radio:joined"
	TypeRadioLeft        = "radio:left"
	TypeRadioSent        = "radio:sent"
	TypeRadioEquipped    = "radio:equipped"
	TypeRadioUnequipped  = "radio:unequipped"
	TypeBatteryReplaced  = "radio:battery_replaced"
	TypeRecharged        = "radio:recharged"
	TypeEncryptedCreated = "radio:encrypted_created"
	TypeKeyReceived      = "radio:key_received"
	TypeKeyShared        = "radio:key_shared"
	TypeKeyRotated       = "radio:key_rotated"
	TypeKeyRevoked       = "radio:key_revoked"
	TypeEncryptedDeleted = "radio:encrypted_deleted"
	TypeRadioIncoming    = "radio:message"
	TypeRadioPrivateIn   = "radio:private"
	TypeRadioIntercepted = "radio:intercepted"
	TypeRadioScanStatus  = "radio:scan"
	TypeFrequencyList    = "radio:frequencies"
	TypeEncryptedList    = "radio:encrypted_channels"
)

// Chat scopes.
const (
	ScopeLocal   = "local"
	ScopeRadio   = "radio"
	ScopePrivate = "private"
)

// Command is one decoded inbound event. Each concrete type corresponds to exactly one wire type,
// so routing downstream is a type switch instead of map lookups.
type Command interface {
	EventType() string
}

type MoveToNode struct {
	TargetNodeID string `json:"targetNodeId"`
}

type ChatMessage struct {
	Message        string `json:"message"`
	Scope          string `json:"scope"`
	Frequency      string `json:"frequency,omitempty"`
	TargetPlayerID string `json:"targetPlayerId,omitempty"`
	Shout          bool   `json:"shout,omitempty"`
}

type RadioEquip struct {
	RadioType   string `json:"radioType"`
	BatteryType string `json:"batteryType"`
}

type RadioUnequip struct{}

type RadioJoin struct {
	Frequency string `json:"frequency"`
}

type RadioLeave struct {
	Frequency string `json:"frequency"`
}

type RadioMessage struct {
	Frequency string `json:"frequency"`
	Text      string `json:"text"`
	Encrypted bool   `json:"encrypted"`
}

type RadioPrivate struct {
	TargetPlayerID string `json:"targetPlayerId"`
	Text           string `json:"text"`
}

type RadioScan struct {
	Enable bool `json:"enable"`
}

type RadioFrequencies struct{}

type RadioBattery struct {
	BatteryType string `json:"batteryType"`
}

type RadioRecharge struct {
	Minutes int `json:"minutes"`
}

type RadioCreateEncrypted struct {
	Frequency string `json:"frequency"`
	CustomKey string `json:"customKey,omitempty"`
}

type RadioShareKey struct {
	TargetPlayerID string `json:"targetPlayerId"`
	ChannelID      string `json:"channelId"`
	Key            string `json:"key"`
}

type RadioRevokeKey struct {
	TargetPlayerID string `json:"targetPlayerId"`
	ChannelID      string `json:"channelId"`
}

type RadioEncryptedChannels struct{}

type RadioRotateKey struct {
	ChannelID string `json:"channelId"`
	CustomKey string `json:"customKey,omitempty"`
}

type RadioDeleteEncrypted struct {
	ChannelID string `json:"channelId"`
}

func (MoveToNode) EventType() string             { return TypeMoveToNode }
func (ChatMessage) EventType() string            { return TypeChatMessage }
func (RadioEquip) EventType() string             { return TypeRadioEquip }
func (RadioUnequip) EventType() string           { return TypeRadioUnequip }
func (RadioJoin) EventType() string              { return TypeRadioJoin }
func (RadioLeave) EventType() string             { return TypeRadioLeave }
func (RadioMessage) EventType() string           { return TypeRadioMessage }
func (RadioPrivate) EventType() string           { return TypeRadioPrivate }
func (RadioScan) EventType() string              { return TypeRadioScan }
func (RadioFrequencies) EventType() string       { return TypeRadioFrequencies }
func (RadioBattery) EventType() string           { return TypeRadioBattery }
func (RadioRecharge) EventType() string          { return TypeRadioRecharge }
func (RadioCreateEncrypted) EventType() string   { return TypeRadioCreateEncrypted }
func (RadioShareKey) EventType() string          { return TypeRadioShareKey }
func (RadioRevokeKey) EventType() string         { return TypeRadioRevokeKey }
func (RadioEncryptedChannels) EventType() string { return TypeRadioEncryptedList }
func (RadioRotateKey) EventType() string         { return TypeRadioRotateKey }
func (RadioDeleteEncrypted) EventType() string   { return TypeRadioDeleteEncrypted }

var decoders = map[string]func(json.RawMessage) (Command, error){
	TypeMoveToNode: decodeInto(func(c *MoveToNode) error {
		return require("targetNodeId", c.TargetNodeID)
	}),
	TypeChatMessage: decodeInto(func(c *ChatMessage) error {
		c.Scope = strings.ToLower(strings.TrimSpace(c.Scope))
		if c.Scope == "" {
			c.Scope = ScopeLocal
		}
		if err := require("message", c.Message); err != nil {
			return err
		}
		switch c.Scope {
		case ScopeLocal:
			return nil
		case ScopeRadio:
			return require("frequency", c.Frequency)
		case ScopePrivate:
			return require("targetPlayerId", c.TargetPlayerID)
		default:
			return Validation("unknown scope %q", c.Scope)
		}
	}),
	TypeRadioEquip: decodeInto(func(c *RadioEquip) error {
		if err := require("radioType", c.RadioType); err != nil {
			return err
		}
		return require("batteryType", c.BatteryType)
	}),
	TypeRadioUnequip: decodeInto(func(*RadioUnequip) error { return nil }),
	TypeRadioJoin: decodeInto(func(c *RadioJoin) error {
		return require("frequency", c.Frequency)
	}),
	TypeRadioLeave: decodeInto(func(c *RadioLeave) error {
		return require("frequency", c.Frequency)
	}),
	TypeRadioMessage: decodeInto(func(c *RadioMessage) error {
		if err := require("frequency", c.Frequency); err != nil {
			return err
		}
		return require("text", c.Text)
	}),
	TypeRadioPrivate: decodeInto(func(c *RadioPrivate) error {
		if err := require("targetPlayerId", c.TargetPlayerID); err != nil {
			return err
		}
		return require("text", c.Text)
	}),
	TypeRadioScan:        decodeInto(func(*RadioScan) error { return nil }),
	TypeRadioFrequencies: decodeInto(func(*RadioFrequencies) error { return nil }),
	TypeRadioBattery: decodeInto(func(c *RadioBattery) error {
		return require("batteryType", c.BatteryType)
	}),
	TypeRadioRecharge: decodeInto(func(c *RadioRecharge) error {
		if c.Minutes <= 0 {
			return Validation("minutes must be positive")
		}
		return nil
	}),
	TypeRadioCreateEncrypted: decodeInto(func(c *RadioCreateEncrypted) error {
		return require("frequency", c.Frequency)
	}),
	TypeRadioShareKey: decodeInto(func(c *RadioShareKey) error {
		if err := require("targetPlayerId", c.TargetPlayerID); err != nil {
			return err
		}
		if err := require("channelId", c.ChannelID); err != nil {
			return err
		}
		return require("key", c.Key)
	}),
	TypeRadioRevokeKey: decodeInto(func(c *RadioRevokeKey) error {
		if err := require("targetPlayerId", c.TargetPlayerID); err != nil {
			return err
		}
		return require("channelId", c.ChannelID)
	}),
	TypeRadioEncryptedList: decodeInto(func(*RadioEncryptedChannels) error { return nil }),
	TypeRadioRotateKey: decodeInto(func(c *RadioRotateKey) error {
		return require("channelId", c.ChannelID)
	}),
	TypeRadioDeleteEncrypted: decodeInto(func(c *RadioDeleteEncrypted) error {
		return require("channelId", c.ChannelID)
	}),
}

// DecodeCommand decodes one inbound frame into its typed command. Malformed frames, unknown types
// and missing required fields all fail with E_VALIDATION; the returned type string is set whenever
// the envelope itself parsed.
func DecodeCommand(b []byte) (Command, string, error) {
	base, err := DecodeBase(b)
	if err != nil {
		return nil, "", Validation("malformed frame: %v", err)
	}
	dec, ok := decoders[base.Type]
	if !ok {
		return nil, base.Type, Validation("unknown event type %q", base.Type)
	}
	cmd, err := dec(base.Data)
	if err != nil {
		return nil, base.Type, err
	}
	return cmd, base.Type, nil
}

func decodeInto[T Command](validate func(*T) error) func(json.RawMessage) (Command, error) {
	return func(raw json.RawMessage) (Command, error) {
		var v T
		if len(raw) > 0 && string(raw) != "null" {
			if err := json.Unmarshal(raw, &v); err != nil {
				return nil, Validation("malformed payload: %v", err)
			}
		}
		if err := validate(&v); err != nil {
			return nil, err
		}
		return v, nil
	}
}

func require(field, v string) error {
	if strings.TrimSpace(v) == "" {
		return Validation("missing %s", field)
	}
	return nil
}
