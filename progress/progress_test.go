package progress

import (
	"bytes"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"printmaster/fleetscan/collector"
	"printmaster/fleetscan/common/util"
	"printmaster/fleetscan/common/ws"
)

func cycleEvents() []collector.Event {
	ok := &collector.DeviceResult{
		DeviceRecord: collector.DeviceRecord{Address: "10.0.0.1", DisplayName: "Front Desk"},
		SequenceID:   1,
		Status:       collector.StatusOnline,
	}
	bad := &collector.DeviceResult{
		DeviceRecord: collector.DeviceRecord{Address: "10.0.0.2", DisplayName: "Warehouse"},
		SequenceID:   2,
		Status:       collector.StatusError,
		ErrorKind:    collector.ErrorKindNetwork,
		ErrorMessage: "connection error: refused",
	}
	return []collector.Event{
		{Phase: collector.PhaseBegin, CycleID: "c1", Total: 2},
		{Phase: collector.PhaseProbing, CycleID: "c1", Total: 2, Index: 1, Device: "Front Desk", Address: "10.0.0.1"},
		{Phase: collector.PhaseFinished, CycleID: "c1", Total: 2, Index: 1, Device: "Front Desk", Address: "10.0.0.1",
			Status: collector.StatusOnline, Succeeded: 1, Result: ok},
		{Phase: collector.PhaseProbing, CycleID: "c1", Total: 2, Index: 2, Device: "Warehouse", Address: "10.0.0.2", Succeeded: 1},
		{Phase: collector.PhaseFinished, CycleID: "c1", Total: 2, Index: 2, Device: "Warehouse", Address: "10.0.0.2",
			Status: collector.StatusError, Succeeded: 1, Failed: 1, Result: bad},
		{Phase: collector.PhaseEnd, CycleID: "c1", Total: 2, Succeeded: 1, Failed: 1, Elapsed: 1500 * time.Millisecond},
	}
}

// Console tests share util's global output and are not parallel.
func TestConsoleRendersCycle(t *testing.T) {
	var buf bytes.Buffer
	util.SetOutput(&buf)
	defer util.SetOutput(nil)
	util.SetQuietMode(false)

	c := Console{ShowDevices: true}
	for _, e := range cycleEvents() {
		c.Observe(e)
	}

	out := buf.String()
	assert.Contains(t, out, "Scanning 2 device(s)")
	assert.Contains(t, out, "[1/2] Front Desk")
	assert.Contains(t, out, "Front Desk (10.0.0.1) online")
	assert.Contains(t, out, "Warehouse (10.0.0.2) connection error: refused")
	assert.Contains(t, out, "Collection complete")
	assert.Contains(t, out, "1 succeeded, 1 failed")
}

func TestConsoleQuietModeOnlySummary(t *testing.T) {
	var buf bytes.Buffer
	util.SetOutput(&buf)
	defer util.SetOutput(nil)
	util.SetQuietMode(true)
	defer util.SetQuietMode(false)

	c := Console{}
	for _, e := range cycleEvents() {
		c.Observe(e)
	}

	out := buf.String()
	assert.Contains(t, out, "[INFO] Scanning 2 device(s)")
	assert.NotContains(t, out, "[1/2]")
	assert.NotContains(t, out, "░")
	assert.Contains(t, out, "[ERROR]")
	assert.Contains(t, out, "Collection complete")
}

type recordedLine struct {
	level string
	msg   string
	kv    []interface{}
}

type captureLogger struct {
	mu    sync.Mutex
	lines []recordedLine
}

func (c *captureLogger) add(level, msg string, kv []interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, recordedLine{level, msg, kv})
}

func (c *captureLogger) Info(msg string, kv ...interface{})  { c.add("info", msg, kv) }
func (c *captureLogger) Warn(msg string, kv ...interface{})  { c.add("warn", msg, kv) }
func (c *captureLogger) Debug(msg string, kv ...interface{}) { c.add("debug", msg, kv) }

func TestLogObserver(t *testing.T) {
	t.Parallel()

	capture := &captureLogger{}
	obs := Log{Logger: capture}
	for _, e := range cycleEvents() {
		obs.Observe(e)
	}

	require.Len(t, capture.lines, 6)
	assert.Equal(t, "Scan cycle started", capture.lines[0].msg)
	assert.Equal(t, "debug", capture.lines[1].level)
	assert.Equal(t, "Device probed", capture.lines[2].msg)
	assert.Equal(t, "warn", capture.lines[4].level)
	assert.Contains(t, fmt.Sprint(capture.lines[4].kv...), "network")
	assert.Equal(t, "Scan cycle finished", capture.lines[5].msg)

	// nil logger is a no-op
	Log{}.Observe(cycleEvents()[0])
}

type captureHub struct {
	msgs []ws.Message
}

func (c *captureHub) Broadcast(m ws.Message) { c.msgs = append(c.msgs, m) }

func TestStreamObserver(t *testing.T) {
	t.Parallel()

	hub := &captureHub{}
	obs := Stream{Hub: hub}
	for _, e := range cycleEvents() {
		obs.Observe(e)
	}

	require.Len(t, hub.msgs, 6)
	types := make([]string, len(hub.msgs))
	for i, m := range hub.msgs {
		types[i] = m.Type
	}
	assert.Equal(t, []string{
		ws.MessageTypeCycleStarted,
		ws.MessageTypeDeviceProbing,
		ws.MessageTypeDeviceFinished,
		ws.MessageTypeDeviceProbing,
		ws.MessageTypeDeviceFinished,
		ws.MessageTypeCycleFinished,
	}, types)

	finished := hub.msgs[4].Data
	assert.Equal(t, "error", finished["status"])
	assert.Equal(t, "10.0.0.2", finished["address"])
	assert.NotNil(t, finished["result"])
	assert.Equal(t, int64(1500), hub.msgs[5].Data["elapsed_ms"])

	data, err := hub.msgs[4].Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"errorKind":"network"`)
}
