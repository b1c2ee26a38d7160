// Package progress turns collector events into console, log and websocket
// output.
package progress

import (
	"fmt"
	"time"

	"printmaster/fleetscan/collector"
	"printmaster/fleetscan/common/util"
)

// Console draws the interactive progress line and the completion box. Quiet
// and silent modes are honored by the util package.
type Console struct {
	// ShowDevices prints one line per finished device above the bar.
	ShowDevices bool
}

func (c Console) Observe(e collector.Event) {
	switch e.Phase {
	case collector.PhaseBegin:
		util.ShowInfo(fmt.Sprintf("Scanning %d device(s)", e.Total))
	case collector.PhaseProbing:
		util.ShowProgress(e.Processed(), e.Total, e.Succeeded, e.Failed,
			fmt.Sprintf("[%d/%d] %s", e.Index, e.Total, e.Device))
	case collector.PhaseFinished:
		if c.ShowDevices && e.Result != nil {
			c.deviceLine(e.Result)
		}
		util.ShowProgress(e.Processed(), e.Total, e.Succeeded, e.Failed, statusText(e))
	case collector.PhaseEnd:
		util.ClearLine()
		details := []string{
			fmt.Sprintf("%d device(s) processed in %s", e.Processed(), e.Elapsed.Round(time.Millisecond)),
			fmt.Sprintf("%d succeeded, %d failed", e.Succeeded, e.Failed),
		}
		util.ShowCompletionScreen(e.Failed == 0, "Collection complete", details...)
	}
}

func (c Console) deviceLine(r *collector.DeviceResult) {
	switch r.Status {
	case collector.StatusOnline:
		util.ShowSuccess(fmt.Sprintf("%s (%s) online", r.DisplayName, r.Address))
	case collector.StatusAlert:
		util.ShowWarning(fmt.Sprintf("%s (%s) low consumables", r.DisplayName, r.Address))
	default:
		util.ShowError(fmt.Sprintf("%s (%s) %s", r.DisplayName, r.Address, r.ErrorMessage))
	}
}

func statusText(e collector.Event) string {
	return fmt.Sprintf("%s: %s", e.Device, e.Status)
}
