package ws

import (
	"encoding/json"
	"time"
)

// Message is the JSON frame pushed to websocket subscribers.
type Message struct {
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp,omitempty"`
}

// Marshal marshals the message to JSON bytes, stamping it if needed.
func (m *Message) Marshal() ([]byte, error) {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	return json.Marshal(m)
}

// Message types pushed on the /ws stream.
const (
	MessageTypeHeartbeat      = "heartbeat"
	MessageTypeCycleStarted   = "cycle_started"
	MessageTypeDeviceProbing  = "device_probing"
	MessageTypeDeviceFinished = "device_finished"
	MessageTypeCycleFinished  = "cycle_finished"
	MessageTypeLog            = "log"
)
