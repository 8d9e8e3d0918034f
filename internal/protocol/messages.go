package protocol

import "errors"

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	// Token is verified by the auth layer. PlayerID is only honoured by the dev verifier.
	Token    string `json:"token,omitempty"`
	PlayerID string `json:"player_id,omitempty"`
	MaxQueue int    `json:"max_queue,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	SessionID       string      `json:"session_id"`
	PlayerID        string      `json:"player_id"`
	NodeID          string      `json:"node_id"`
	WorldParams     WorldParams `json:"world_params"`
}

type WorldParams struct {
	TickRateHz     int    `json:"tick_rate_hz"`
	SpawnNode      string `json:"spawn_node"`
	TransmitCost   int    `json:"transmit_cost"`
	MinFrequency   string `json:"min_frequency"`
	MaxFrequency   string `json:"max_frequency"`
	MaxBatchEvents int    `json:"max_batch_events"`
}

// Event is the outbound envelope for every server -> client notification.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

func NewEvent(typ string, data any) Event { return Event{Type: typ, Data: data} }

// BatchMsg coalesces every buffered event of one flush into a single frame.
type BatchMsg struct {
	Type   string  `json:"type"`
	Seq    uint64  `json:"seq"`
	Events []Event `json:"events"`
}

type ErrorMsg struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	// Request echoes the inbound event type that failed, when known.
	Request string `json:"request,omitempty"`
}

func ErrorEvent(err error, request string) Event {
	msg := ErrorMsg{Code: CodeOf(err), Request: request}
	var pe *Error
	if errors.As(err, &pe) {
		msg.Message = pe.Message
	} else if err != nil {
		msg.Message = err.Error()
	}
	return NewEvent(TypeError, msg)
}

// Movement / presence.

type MoveStartedMsg struct {
	From       string `json:"from"`
	To         string `json:"to"`
	ArriveInMs int64  `json:"arrive_in_ms"`
	Seq        uint64 `json:"seq"`
}

type MoveCompletedMsg struct {
	From string `json:"from"`
	To   string `json:"to"`
	Seq  uint64 `json:"seq"`
}

type PresenceMsg struct {
	PlayerID string `json:"player_id"`
	NodeID   string `json:"node_id"`
	Toward   string `json:"toward,omitempty"`
}

type ChatLocalMsg struct {
	From    string `json:"from"`
	NodeID  string `json:"node_id"`
	Message string `json:"message"`
	Shout   bool   `json:"shout,omitempty"`
}

// Radio traffic.

type SealedPayload struct {
	ChannelID   string `json:"channel_id"`
	Version     uint32 `json:"version"`
	Fingerprint string `json:"fingerprint"`
	Nonce       []byte `json:"nonce"`
	Ciphertext  []byte `json:"ciphertext"`
}

type RadioMessageMsg struct {
	From        string         `json:"from"`
	Frequency   string         `json:"frequency"`
	Text        string         `json:"text,omitempty"`
	Garbled     bool           `json:"garbled,omitempty"`
	Distance    int            `json:"distance"`
	Encrypted   bool           `json:"encrypted,omitempty"`
	Fingerprint string         `json:"fingerprint,omitempty"`
	Sealed      *SealedPayload `json:"sealed,omitempty"`
}

type RadioPrivateMsg struct {
	From string `json:"from"`
	Text string `json:"text"`
}

type RadioInterceptedMsg struct {
	Scope       string         `json:"scope"`
	From        string         `json:"from"`
	Frequency   string         `json:"frequency,omitempty"`
	Text        string         `json:"text,omitempty"`
	Garbled     bool           `json:"garbled,omitempty"`
	Encrypted   bool           `json:"encrypted,omitempty"`
	Fingerprint string         `json:"fingerprint,omitempty"`
	Sealed      *SealedPayload `json:"sealed,omitempty"`
}

type RadioSentMsg struct {
	Scope        string   `json:"scope"`
	Frequency    string   `json:"frequency,omitempty"`
	Target       string   `json:"target,omitempty"`
	Recipients   int      `json:"recipients"`
	Interceptors []string `json:"interceptors,omitempty"`
	Encrypted    bool     `json:"encrypted,omitempty"`
	// Charge is the sender's battery after the transmission; unset for local chat.
	Charge *int `json:"charge,omitempty"`
}

type FrequencyMsg struct {
	Frequency string `json:"frequency"`
	Active    int    `json:"active"`
	Max       int    `json:"max"`
}

type DeviceMsg struct {
	RadioType       string   `json:"radio_type"`
	BatteryType     string   `json:"battery_type"`
	Charge          int      `json:"charge"`
	MaxChannels     int      `json:"max_channels"`
	Frequencies     []string `json:"frequencies"`
	Scanning        bool     `json:"scanning"`
	TransmitCapable bool     `json:"transmit_capable"`
}

type FrequenciesMsg struct {
	Equipped bool       `json:"equipped"`
	Device   *DeviceMsg `json:"device,omitempty"`
	// Listeners counts tuned players per active frequency.
	Listeners map[string]int `json:"listeners,omitempty"`
}

type BatteryMsg struct {
	PriorCharge  int    `json:"prior_charge"`
	PriorBattery string `json:"prior_battery"`
	Charge       int    `json:"charge"`
	BatteryType  string `json:"battery_type"`
}

type ScanMsg struct {
	Enabled bool `json:"enabled"`
}

type EncryptedChannelMsg struct {
	ChannelID   string `json:"channel_id"`
	Key         string `json:"key,omitempty"`
	Version     uint32 `json:"version"`
	Fingerprint string `json:"fingerprint"`
	Creator     bool   `json:"creator,omitempty"`
	From        string `json:"from,omitempty"`
}

// KeyAccessMsg reports a grant or revocation on an encrypted channel.
type KeyAccessMsg struct {
	ChannelID string `json:"channel_id"`
	PlayerID  string `json:"player_id"`
}

type EncryptedChannelsMsg struct {
	Channels []EncryptedChannelMsg `json:"channels"`
}
