package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// DefaultPacing is the delay between two device launches.
const DefaultPacing = 100 * time.Millisecond

// DeviceProber probes one device. *Prober is the production implementation.
type DeviceProber interface {
	Probe(ctx context.Context, seq int, dev DeviceRecord) DeviceResult
}

// Inventory supplies the ordered device list for a cycle.
type Inventory interface {
	Devices(ctx context.Context) ([]DeviceRecord, error)
}

// Sink persists a finished report.
type Sink interface {
	Store(ctx context.Context, cycle *Cycle) error
}

// Options tunes a Collector.
type Options struct {
	// Concurrency is the number of devices probed at once. Values below 2
	// probe sequentially.
	Concurrency int
	// Pacing is the minimum delay between device launches. Negative disables it.
	Pacing   time.Duration
	Observer Observer
}

// Collector runs scan cycles over an inventory.
type Collector struct {
	prober DeviceProber
	opts   Options
}

// New returns a Collector. A zero Pacing uses DefaultPacing.
func New(prober DeviceProber, opts Options) *Collector {
	if opts.Pacing == 0 {
		opts.Pacing = DefaultPacing
	}
	if opts.Pacing < 0 {
		opts.Pacing = 0
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Collector{prober: prober, opts: opts}
}

// tally serializes progress events and keeps the running counters.
type tally struct {
	mu        sync.Mutex
	observer  Observer
	cycleID   string
	total     int
	succeeded int
	failed    int
}

func (t *tally) emit(e Event) {
	if t.observer == nil {
		return
	}
	e.CycleID = t.cycleID
	e.Total = t.total
	t.observer.Observe(e)
}

func (t *tally) probing(index int, dev DeviceRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.emit(Event{
		Phase:     PhaseProbing,
		Index:     index,
		Device:    dev.DisplayName,
		Address:   dev.Address,
		Succeeded: t.succeeded,
		Failed:    t.failed,
	})
}

func (t *tally) finished(index int, res *DeviceResult) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if res.Succeeded() {
		t.succeeded++
	} else {
		t.failed++
	}
	t.emit(Event{
		Phase:     PhaseFinished,
		Index:     index,
		Device:    res.DisplayName,
		Address:   res.Address,
		Status:    res.Status,
		Succeeded: t.succeeded,
		Failed:    t.failed,
		Result:    res,
	})
}

// Collect probes every device exactly once and returns one result per
// device in input order. Per-device failures are recorded on the results;
// the only error returned is ErrInventoryEmpty for an empty device list.
func (c *Collector) Collect(ctx context.Context, devices []DeviceRecord) (Report, error) {
	return c.collect(ctx, "", devices)
}

func (c *Collector) collect(ctx context.Context, cycleID string, devices []DeviceRecord) (Report, error) {
	if len(devices) == 0 {
		return nil, ErrInventoryEmpty
	}

	started := time.Now()
	t := &tally{observer: c.opts.Observer, cycleID: cycleID, total: len(devices)}
	t.emit(Event{Phase: PhaseBegin})

	var limiter *rate.Limiter
	if c.opts.Pacing > 0 {
		limiter = rate.NewLimiter(rate.Every(c.opts.Pacing), 1)
	}
	pace := func() {
		if limiter == nil {
			return
		}
		// A cancelled context skips the wait; the probe then fails fast.
		_ = limiter.Wait(ctx)
	}

	report := make(Report, len(devices))
	probeOne := func(i int) {
		dev := devices[i]
		t.probing(i+1, dev)
		report[i] = c.prober.Probe(ctx, i+1, dev)
		t.finished(i+1, &report[i])
	}

	if c.opts.Concurrency <= 1 {
		for i := range devices {
			pace()
			probeOne(i)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(c.opts.Concurrency)
		for i := range devices {
			pace()
			g.Go(func() error {
				probeOne(i)
				return nil
			})
		}
		_ = g.Wait()
	}

	t.mu.Lock()
	t.emit(Event{Phase: PhaseEnd, Succeeded: t.succeeded, Failed: t.failed, Elapsed: time.Since(started)})
	t.mu.Unlock()

	pkgLogger.Info("Collection finished", "cycle", cycleID, "devices", len(devices), "succeeded", t.succeeded, "failed", t.failed, "elapsed", time.Since(started).Round(time.Millisecond).String())
	return report, nil
}

// Run executes one full cycle: load the inventory, collect, and hand the
// report to the sink. On a persistence failure the cycle is still returned
// alongside an error wrapping ErrPersistence.
func (c *Collector) Run(ctx context.Context, inv Inventory, sink Sink) (*Cycle, error) {
	devices, err := inv.Devices(ctx)
	if err != nil {
		if errors.Is(err, ErrInventoryEmpty) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrInventoryEmpty, err)
	}
	if len(devices) == 0 {
		return nil, ErrInventoryEmpty
	}

	cycle := &Cycle{ID: uuid.NewString(), StartedAt: time.Now()}
	pkgLogger.Info("Collection started", "cycle", cycle.ID, "devices", len(devices))

	report, err := c.collect(ctx, cycle.ID, devices)
	if err != nil {
		return nil, err
	}
	cycle.Report = report
	cycle.FinishedAt = time.Now()

	if sink == nil {
		return cycle, nil
	}
	if err := sink.Store(ctx, cycle); err != nil {
		pkgLogger.Error("Failed to persist report", "cycle", cycle.ID, "error", err)
		return cycle, persistenceError(err)
	}
	return cycle, nil
}
