package session

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Inbound message types.
const (
	TypePing  = "ping"
	TypeClear = "clear"
	TypeChat  = "chat"
)

// Inbound is a client message.
type Inbound struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

// ProtocolError reports a malformed inbound message. It never closes the
// connection.
type ProtocolError struct {
	Message string
}

func (e *ProtocolError) Error() string {
	return e.Message
}

// ParseInbound decodes and validates one client frame.
func ParseInbound(data []byte) (Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return Inbound{}, &ProtocolError{Message: "Invalid JSON message"}
	}
	switch in.Type {
	case TypePing, TypeClear:
	case TypeChat:
		if strings.TrimSpace(in.Message) == "" {
			return Inbound{}, &ProtocolError{Message: "chat message is empty"}
		}
	case "":
		return Inbound{}, &ProtocolError{Message: "message type is required"}
	default:
		return Inbound{}, &ProtocolError{Message: fmt.Sprintf("Unknown message type: %s", in.Type)}
	}
	return in, nil
}
