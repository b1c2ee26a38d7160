package collector

import "time"

// Phase identifies where in a scan cycle an Event was emitted.
type Phase string

const (
	PhaseBegin    Phase = "begin"
	PhaseProbing  Phase = "probing"
	PhaseFinished Phase = "finished"
	PhaseEnd      Phase = "end"
)

// Event is a progress notification. Index is 1-based and only set for the
// per-device phases. Succeeded and Failed are running totals.
type Event struct {
	Phase     Phase
	CycleID   string
	Index     int
	Total     int
	Device    string
	Address   string
	Status    Status
	Succeeded int
	Failed    int
	Result    *DeviceResult
	Elapsed   time.Duration
}

// Processed is the number of devices whose probe has completed.
func (e Event) Processed() int {
	return e.Succeeded + e.Failed
}

// Observer receives progress events. Calls are serialized by the collector,
// so implementations need no locking of their own for a single cycle.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }

// Observers fans one event out to several observers in order.
type Observers []Observer

func (o Observers) Observe(e Event) {
	for _, obs := range o {
		if obs != nil {
			obs.Observe(e)
		}
	}
}
