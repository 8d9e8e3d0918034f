package protocol

import "encoding/json"

const Version = "1.0"

// Handshake message types.
const (
	TypeHello   = "hello"
	TypeWelcome = "welcome"
	TypeBatch   = "batch"
	TypeError   = "error"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version,omitempty"`
	Data            json.RawMessage `json:"data,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
