// Package watch runs scan cycles on an interval and serves the latest
// results over HTTP.
package watch

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"printmaster/fleetscan/collector"
	"printmaster/fleetscan/common/logger"
	"printmaster/fleetscan/common/util"
	"printmaster/fleetscan/common/ws"
	"printmaster/fleetscan/metrics"
	"printmaster/fleetscan/progress"
	"printmaster/fleetscan/sink"
)

// Logger is the logging surface the server writes to.
type Logger interface {
	Error(msg string, context ...interface{})
	Warn(msg string, context ...interface{})
	Info(msg string, context ...interface{})
	Debug(msg string, context ...interface{})
}

// SnapshotSource returns the last persisted cycle. *sink.SQLite implements it.
type SnapshotSource interface {
	Latest(ctx context.Context) (*collector.Cycle, error)
}

// LogSource exposes buffered log entries. *logger.Logger implements it.
type LogSource interface {
	GetBufferFiltered(minLevel logger.LogLevel) []logger.LogEntry
}

// Options configures a Server.
type Options struct {
	Prober    collector.DeviceProber
	Collect   collector.Options
	Inventory collector.Inventory
	Sink      collector.Sink
	// Snapshots prefills /snapshot before the first cycle finishes.
	Snapshots SnapshotSource
	Logs      LogSource
	Logger    Logger
	Interval  time.Duration
	Listen    string
	Version   string
}

// Server owns the collector, the metrics recorder and the websocket hub.
type Server struct {
	opts      Options
	collector *collector.Collector
	recorder  *metrics.Recorder
	hub       *ws.Hub
	log       Logger
	started   time.Time

	mu        sync.RWMutex
	latest    *collector.Cycle
	lastError string
}

// New builds a Server. The collector's observer is extended with the
// metrics recorder, the websocket stream and the log observer.
func New(opts Options) *Server {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Minute
	}
	log := opts.Logger
	if log == nil {
		log = nopLogger{}
	}
	s := &Server{
		opts:     opts,
		recorder: metrics.NewRecorder(),
		hub:      ws.NewHub(),
		log:      log,
		started:  time.Now(),
	}
	observers := collector.Observers{s.recorder, progress.Stream{Hub: s.hub}, progress.Log{Logger: log}}
	if opts.Collect.Observer != nil {
		observers = append(observers, opts.Collect.Observer)
	}
	copts := opts.Collect
	copts.Observer = observers
	s.collector = collector.New(opts.Prober, copts)
	return s
}

// Recorder exposes the metrics recorder.
func (s *Server) Recorder() *metrics.Recorder { return s.recorder }

// Hub exposes the websocket hub.
func (s *Server) Hub() *ws.Hub { return s.hub }

// PublishLog forwards a log entry to websocket subscribers. Suitable for
// logger.SetOnLogCallback.
func (s *Server) PublishLog(entry logger.LogEntry) {
	s.hub.Broadcast(ws.Message{
		Type:      ws.MessageTypeLog,
		Timestamp: entry.Timestamp,
		Data: map[string]interface{}{
			"level":   entry.LevelName,
			"message": entry.Message,
			"context": entry.Context,
		},
	})
}

// Latest returns the most recent cycle, or nil before the first one.
func (s *Server) Latest() *collector.Cycle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

// RunCycle runs one collection cycle and records it as the latest snapshot.
// A persistence failure still updates the snapshot.
func (s *Server) RunCycle(ctx context.Context) (*collector.Cycle, error) {
	cycle, err := s.collector.Run(ctx, s.opts.Inventory, s.opts.Sink)

	s.mu.Lock()
	if cycle != nil {
		s.latest = cycle
	}
	s.lastError = ""
	if err != nil {
		s.lastError = err.Error()
	}
	s.mu.Unlock()
	return cycle, err
}

// Prefill loads the last persisted cycle, if any.
func (s *Server) Prefill(ctx context.Context) {
	if s.opts.Snapshots == nil {
		return
	}
	cycle, err := s.opts.Snapshots.Latest(ctx)
	if err != nil {
		if !errors.Is(err, sink.ErrNoSnapshot) {
			s.log.Warn("Could not load previous snapshot", "error", err)
		}
		return
	}
	s.mu.Lock()
	if s.latest == nil {
		s.latest = cycle
	}
	s.mu.Unlock()
	s.log.Info("Loaded previous snapshot", "cycle", cycle.ID, "devices", len(cycle.Report))
}

// Run listens on Options.Listen and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Listen)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve runs the HTTP server on ln and a collection cycle every interval,
// starting immediately. Cycles never overlap. Returns nil after a clean
// shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	s.log.Info("Watch server listening", "addr", ln.Addr().String(), "interval", s.opts.Interval)

	s.Prefill(ctx)

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		s.loop(ctx)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
		cancel()
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	s.hub.Stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("HTTP shutdown incomplete", "error", err)
	}
	<-loopDone
	if serveErr != nil {
		return serveErr
	}
	s.log.Info("Watch server stopped")
	return nil
}

func (s *Server) loop(ctx context.Context) {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()
	for {
		if _, err := s.RunCycle(ctx); err != nil && ctx.Err() == nil {
			if errors.Is(err, collector.ErrInventoryEmpty) {
				s.log.Warn("Inventory empty, waiting for next cycle", "error", err)
			} else {
				s.log.Error("Scan cycle failed", "error", err)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Handler returns the HTTP routes, each instrumented by the recorder.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	route := func(path string, h http.Handler) {
		mux.Handle(path, s.recorder.Middleware(path, h))
	}
	route("/metrics", s.recorder.Handler())
	route("/ws", ws.Handler(s.hub, s.log.Warn))
	route("/snapshot", http.HandlerFunc(s.handleSnapshot))
	route("/healthz", http.HandlerFunc(s.handleHealth))
	route("/logs", http.HandlerFunc(s.handleLogs))
	return mux
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	cycle := s.Latest()
	if cycle == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no scan has completed yet"})
		return
	}

	format, err := sink.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	data, err := sink.Encode(cycle.Report, format)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	contentType := "application/json"
	if format == sink.FormatYAML {
		contentType = "application/yaml"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("X-Cycle-ID", cycle.ID)
	if !cycle.FinishedAt.IsZero() {
		w.Header().Set("Last-Modified", cycle.FinishedAt.UTC().Format(http.TimeFormat))
	}
	_, _ = w.Write(data)
}

type healthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version,omitempty"`
	Uptime    string          `json:"uptime"`
	Clients   int             `json:"ws_clients"`
	LastCycle *cycleSummary   `json:"last_cycle,omitempty"`
	LastError string          `json:"last_error,omitempty"`
	System    util.SystemInfo `json:"system"`
}

type cycleSummary struct {
	ID         string    `json:"id"`
	FinishedAt time.Time `json:"finished_at"`
	Devices    int       `json:"devices"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	resp := healthResponse{
		Status:    "ok",
		Version:   s.opts.Version,
		Uptime:    time.Since(s.started).Round(time.Second).String(),
		Clients:   s.hub.ClientCount(),
		LastError: s.lastError,
		System:    util.GetSystemInfo(),
	}
	if s.latest != nil {
		succeeded, failed := s.latest.Report.Tally()
		resp.LastCycle = &cycleSummary{
			ID:         s.latest.ID,
			FinishedAt: s.latest.FinishedAt,
			Devices:    len(s.latest.Report),
			Succeeded:  succeeded,
			Failed:     failed,
		}
	}
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if s.opts.Logs == nil {
		writeJSON(w, http.StatusOK, []logger.LogEntry{})
		return
	}
	level := logger.DEBUG
	if q := r.URL.Query().Get("level"); q != "" {
		level = logger.LevelFromString(q)
	}
	writeJSON(w, http.StatusOK, s.opts.Logs.GetBufferFiltered(level))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type nopLogger struct{}

func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Debug(string, ...interface{}) {}
