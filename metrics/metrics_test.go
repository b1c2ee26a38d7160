package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"printmaster/fleetscan/collector"
)

func runCycle(r *Recorder, results ...collector.DeviceResult) {
	r.Observe(collector.Event{Phase: collector.PhaseBegin, Total: len(results)})
	for i := range results {
		r.Observe(collector.Event{Phase: collector.PhaseProbing, Index: i + 1})
		r.Observe(collector.Event{Phase: collector.PhaseFinished, Index: i + 1, Result: &results[i]})
	}
	r.Observe(collector.Event{Phase: collector.PhaseEnd, Elapsed: 2 * time.Second})
}

func online(name, addr string, levels ...int) collector.DeviceResult {
	res := collector.DeviceResult{
		DeviceRecord: collector.DeviceRecord{Address: addr, DisplayName: name},
		Status:       collector.StatusOnline,
	}
	for i, l := range levels {
		res.Consumables = append(res.Consumables, collector.ConsumableReading{
			Name: "Slot " + string(rune('A'+i)), Category: collector.CategoryBlack, Level: l,
		})
	}
	return res
}

func TestRecorderCycle(t *testing.T) {
	t.Parallel()

	r := NewRecorder()
	failed := collector.DeviceResult{
		DeviceRecord: collector.DeviceRecord{Address: "10.0.0.9", DisplayName: "down"},
		Status:       collector.StatusError,
		ErrorKind:    collector.ErrorKindNetwork,
	}
	runCycle(r, online("front", "10.0.0.1", 55, 7), failed)

	assert.Equal(t, 55.0, testutil.ToFloat64(r.consumableLevel.WithLabelValues("front", "10.0.0.1", "Slot A", "black")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.deviceStatus.WithLabelValues("down", "10.0.0.9", "error")))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.deviceStatus.WithLabelValues("down", "10.0.0.9", "online")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.probesTotal.WithLabelValues("online", "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.probesTotal.WithLabelValues("error", "network")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.devices.WithLabelValues("error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.scanDuration))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.cyclesTotal))
	assert.Equal(t, 1, testutil.CollectAndCount(r.probeDuration))
}

func TestRecorderDropsStaleDevices(t *testing.T) {
	t.Parallel()

	r := NewRecorder()
	runCycle(r, online("a", "10.0.0.1", 50), online("b", "10.0.0.2", 40))
	assert.Equal(t, 2, testutil.CollectAndCount(r.consumableLevel))

	runCycle(r, online("a", "10.0.0.1", 49))
	assert.Equal(t, 1, testutil.CollectAndCount(r.consumableLevel))
	assert.Equal(t, 49.0, testutil.ToFloat64(r.consumableLevel.WithLabelValues("a", "10.0.0.1", "Slot A", "black")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.cyclesTotal))
}

func TestHandlerAndMiddleware(t *testing.T) {
	t.Parallel()

	r := NewRecorder()
	runCycle(r, online("a", "10.0.0.1", 50))

	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Middleware("/metrics", r.Handler()))
	mux.Handle("/missing", r.Middleware("/missing", http.NotFoundHandler()))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/missing")
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.Contains(t, text, `fleetscan_consumable_level_percent{address="10.0.0.1",category="black",consumable="Slot A",device="a"} 50`)
	assert.Contains(t, text, "fleetscan_scan_cycles_total 1")
	assert.Contains(t, text, "fleetscan_probe_duration_seconds_count 1")
	assert.True(t, strings.Contains(text, `fleetscan_http_requests_total{method="GET",path="/missing",status="404"} 1`), text)
}
