package progress

import (
	"printmaster/fleetscan/collector"
	"printmaster/fleetscan/common/ws"
)

// Broadcaster is satisfied by *ws.Hub.
type Broadcaster interface {
	Broadcast(ws.Message)
}

// Stream publishes every event to websocket subscribers.
type Stream struct {
	Hub Broadcaster
}

func (s Stream) Observe(e collector.Event) {
	if s.Hub == nil {
		return
	}
	s.Hub.Broadcast(Message(e))
}

// Message converts an event to its websocket frame.
func Message(e collector.Event) ws.Message {
	data := map[string]interface{}{
		"cycle":     e.CycleID,
		"total":     e.Total,
		"succeeded": e.Succeeded,
		"failed":    e.Failed,
	}
	var typ string
	switch e.Phase {
	case collector.PhaseBegin:
		typ = ws.MessageTypeCycleStarted
	case collector.PhaseProbing:
		typ = ws.MessageTypeDeviceProbing
		data["index"] = e.Index
		data["name"] = e.Device
		data["address"] = e.Address
	case collector.PhaseFinished:
		typ = ws.MessageTypeDeviceFinished
		data["index"] = e.Index
		data["name"] = e.Device
		data["address"] = e.Address
		data["status"] = string(e.Status)
		if e.Result != nil {
			data["result"] = e.Result
		}
	case collector.PhaseEnd:
		typ = ws.MessageTypeCycleFinished
		data["elapsed_ms"] = e.Elapsed.Milliseconds()
	}
	return ws.Message{Type: typ, Data: data}
}
