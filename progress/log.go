package progress

import "printmaster/fleetscan/collector"

// Logger is the subset of common/logger.Logger the Log observer needs.
type Logger interface {
	Info(msg string, context ...interface{})
	Warn(msg string, context ...interface{})
	Debug(msg string, context ...interface{})
}

// Log writes one structured line per event.
type Log struct {
	Logger Logger
}

func (l Log) Observe(e collector.Event) {
	if l.Logger == nil {
		return
	}
	switch e.Phase {
	case collector.PhaseBegin:
		l.Logger.Info("Scan cycle started", "cycle", e.CycleID, "devices", e.Total)
	case collector.PhaseProbing:
		l.Logger.Debug("Probing device", "cycle", e.CycleID, "index", e.Index, "total", e.Total,
			"name", e.Device, "address", e.Address)
	case collector.PhaseFinished:
		if e.Result != nil && !e.Result.Succeeded() {
			l.Logger.Warn("Device probe failed", "address", e.Address, "name", e.Device,
				"kind", string(e.Result.ErrorKind), "error", e.Result.ErrorMessage)
			return
		}
		l.Logger.Debug("Device probed", "address", e.Address, "name", e.Device, "status", string(e.Status))
	case collector.PhaseEnd:
		l.Logger.Info("Scan cycle finished", "cycle", e.CycleID, "devices", e.Total,
			"succeeded", e.Succeeded, "failed", e.Failed, "elapsed", e.Elapsed)
	}
}
