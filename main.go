package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"

	"printmaster/fleetscan/collector"
	"printmaster/fleetscan/common/config"
	"printmaster/fleetscan/common/logger"
	"printmaster/fleetscan/common/util"
	"printmaster/fleetscan/inventory"
	"printmaster/fleetscan/progress"
	"printmaster/fleetscan/sink"
	"printmaster/fleetscan/watch"
)

// Version information (set at build time via -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Process exit codes.
const (
	exitOK             = 0
	exitUsage          = 1
	exitInventoryEmpty = 2
	exitPersistence    = 3
)

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	configPath string
	quiet      bool
	silent     bool
	logLevel   string
}

// collectFlags override the config file for a single run.
type collectFlags struct {
	inventory   string
	output      string
	format      string
	concurrency int
	verbose     bool
}

func main() {
	err := newRootCmd().Execute()
	if err != nil {
		util.ShowError(err.Error())
	}
	os.Exit(exitCode(err))
}

// exitCode maps a command error to the process exit status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, collector.ErrInventoryEmpty):
		return exitInventoryEmpty
	case errors.Is(err, collector.ErrPersistence):
		return exitPersistence
	}
	return exitUsage
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	cf := &collectFlags{}

	root := &cobra.Command{
		Use:   "fleetscan",
		Short: "Collect consumable levels from network printers",
		Long: `fleetscan polls each printer in an inventory file over HTTP, reads toner,
fuser and feeder levels from its status page and writes a single report
describing the whole fleet.

Running fleetscan without a subcommand performs one collection cycle.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			util.SetQuietMode(g.quiet)
			util.SetSilentMode(g.silent)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCollect(cmd.Context(), g, cf)
		},
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", "", "config file (default: search for "+ConfigFileName+")")
	root.PersistentFlags().BoolVarP(&g.quiet, "quiet", "q", false, "log-style output, no progress display")
	root.PersistentFlags().BoolVarP(&g.silent, "silent", "s", false, "suppress all terminal output")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "log level (error, warn, info, debug, trace)")
	addCollectFlags(root, cf)

	collectCmd := &cobra.Command{
		Use:   "collect",
		Short: "Run one collection cycle and write the report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCollect(cmd.Context(), g, cf)
		},
	}
	addCollectFlags(collectCmd, cf)

	root.AddCommand(
		collectCmd,
		newWatchCmd(g),
		newDiscoverCmd(g),
		newInitConfigCmd(),
		newServiceCmd(g),
		newVersionCmd(),
	)
	return root
}

func addCollectFlags(cmd *cobra.Command, cf *collectFlags) {
	cmd.Flags().StringVarP(&cf.inventory, "inventory", "i", "", "inventory file (overrides inventory.path)")
	cmd.Flags().StringVarP(&cf.output, "output", "o", "", "report file (overrides output.path)")
	cmd.Flags().StringVar(&cf.format, "format", "", "report format: json or yaml")
	cmd.Flags().IntVarP(&cf.concurrency, "concurrency", "c", 0, "devices probed at once (overrides collect.concurrency)")
	cmd.Flags().BoolVarP(&cf.verbose, "verbose", "v", false, "print one line per device")
}

func (cf *collectFlags) apply(cfg *Config) error {
	if cf.inventory != "" {
		cfg.Inventory.Path = cf.inventory
	}
	if cf.output != "" {
		cfg.Output.Path = cf.output
	}
	if cf.format != "" {
		cfg.Output.Format = cf.format
	}
	if cf.concurrency != 0 {
		cfg.Collect.Concurrency = cf.concurrency
	}
	return cfg.Validate()
}

// app is the state shared by the commands after configuration is loaded.
type app struct {
	cfg     *Config
	cfgPath string
	log     *logger.Logger
}

// setup loads configuration and builds the logger. Interactive runs hand
// the terminal to the progress display; logs then only go to the log
// directory.
func setup(g *globalFlags, interactive, isService bool) (*app, error) {
	cfg, path, err := LoadConfig(g.configPath)
	if err != nil {
		return nil, err
	}
	if g.logLevel != "" {
		cfg.Logging.Level = g.logLevel
	}

	logDir := cfg.Logging.Dir
	if logDir == "" && isService {
		logDir = config.GetLogDirectory(true)
	}
	log := logger.New(logger.LevelFromString(cfg.Logging.Level), logDir, 1000)
	if interactive && !util.IsQuietMode() {
		log.SetConsole(io.Discard, false)
	}
	if g.silent {
		log.SetConsole(io.Discard, false)
	}
	collector.SetLogger(log)

	if path != "" {
		log.Info("Loaded configuration", "path", path)
	} else {
		log.Info("No configuration file found, using defaults")
	}
	if cfg.Probe.InsecureSkipVerify {
		log.WarnRateLimited("insecure_skip_verify", time.Hour,
			"TLS certificate verification is disabled for device probes", "setting", "probe.insecure_skip_verify")
		if interactive {
			util.ShowWarning("TLS certificate verification is disabled (probe.insecure_skip_verify)")
		}
	}
	return &app{cfg: cfg, cfgPath: path, log: log}, nil
}

// buildSink returns the configured sinks and a function releasing them. The
// SQLite sink is returned separately so watch mode can read it back.
func buildSink(cfg *Config) (collector.Sink, *sink.SQLite, func(), error) {
	format, err := cfg.OutputFormat()
	if err != nil {
		return nil, nil, nil, err
	}
	sinks := sink.Multi{sink.NewFile(cfg.Output.Path, format)}
	cleanup := func() {}

	var db *sink.SQLite
	if cfg.Output.SQLitePath != "" {
		db, err = sink.OpenSQLite(cfg.Output.SQLitePath)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("%w: %w", collector.ErrPersistence, err)
		}
		sinks = append(sinks, db)
		cleanup = func() { _ = db.Close() }
	}
	return sinks, db, cleanup, nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func runCollect(ctx context.Context, g *globalFlags, cf *collectFlags) error {
	a, err := setup(g, true, false)
	if err != nil {
		return err
	}
	defer a.log.Close()
	if err := cf.apply(a.cfg); err != nil {
		return err
	}

	util.ShowBanner(Version, GitCommit, BuildTime)

	ctx, stop := signalContext(ctx)
	defer stop()

	out, _, cleanup, err := buildSink(a.cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	prober := collector.NewProber(a.cfg.ProberConfig())
	observers := collector.Observers{
		progress.Console{ShowDevices: cf.verbose},
		progress.Log{Logger: a.log},
	}
	c := collector.New(prober, a.cfg.CollectOptions(observers))
	inv := &inventory.File{Path: a.cfg.Inventory.Path, Log: a.log}

	cycle, err := c.Run(ctx, inv, out)
	switch {
	case errors.Is(err, collector.ErrInventoryEmpty):
		return fmt.Errorf("nothing to collect from %s: %w", a.cfg.Inventory.Path, err)
	case errors.Is(err, collector.ErrPersistence):
		return fmt.Errorf("collected %d device(s) but the report could not be saved: %w", len(cycle.Report), err)
	case err != nil:
		return err
	}

	util.ShowSuccess(fmt.Sprintf("Report written to %s", a.cfg.Output.Path))
	if a.cfg.Output.SQLitePath != "" {
		util.ShowInfo(fmt.Sprintf("Snapshot stored in %s", a.cfg.Output.SQLitePath))
	}
	return nil
}

func newWatchCmd(g *globalFlags) *cobra.Command {
	var listen string
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Collect on an interval and serve /metrics, /ws, /snapshot and /healthz",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return runWatch(ctx, g, listen, interval, false)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address (overrides watch.listen)")
	cmd.Flags().DurationVar(&interval, "interval", 0, "time between cycles (overrides watch.interval_seconds)")
	return cmd
}

func runWatch(ctx context.Context, g *globalFlags, listen string, interval time.Duration, isService bool) error {
	a, err := setup(g, false, isService)
	if err != nil {
		return err
	}
	defer a.log.Close()
	if listen != "" {
		a.cfg.Watch.Listen = listen
	}
	if interval != 0 {
		secs, err := intervalSeconds(interval)
		if err != nil {
			return err
		}
		a.cfg.Watch.IntervalSeconds = secs
	}
	if err := a.cfg.Validate(); err != nil {
		return err
	}

	out, db, cleanup, err := buildSink(a.cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	opts := watch.Options{
		Prober:    collector.NewProber(a.cfg.ProberConfig()),
		Collect:   a.cfg.CollectOptions(nil),
		Inventory: &inventory.File{Path: a.cfg.Inventory.Path, Log: a.log},
		Sink:      out,
		Logs:      a.log,
		Logger:    a.log,
		Interval:  a.cfg.WatchInterval(),
		Listen:    a.cfg.Watch.Listen,
		Version:   Version,
	}
	if db != nil {
		opts.Snapshots = db
	}
	srv := watch.New(opts)
	a.log.SetOnLogCallback(srv.PublishLog)

	if !isService {
		util.ShowBanner(Version, GitCommit, BuildTime)
		util.ShowInfo(fmt.Sprintf("Serving on %s, scanning every %s", a.cfg.Watch.Listen, a.cfg.WatchInterval()))
	}
	return srv.Run(ctx)
}

// intervalSeconds converts the --interval flag to whole seconds, rounding
// fractions up. Sub-second intervals are rejected.
func intervalSeconds(d time.Duration) (int, error) {
	if d < time.Second {
		return 0, fmt.Errorf("--interval must be at least 1s, got %s", d)
	}
	return int((d + time.Second - 1) / time.Second), nil
}

func newDiscoverCmd(g *globalFlags) *cobra.Command {
	var (
		output   string
		timeout  time.Duration
		services []string
		force    bool
	)
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Find printers via mDNS and write an inventory file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(g, false, false)
			if err != nil {
				return err
			}
			defer a.log.Close()
			if output == "" {
				output = a.cfg.Inventory.Path
			}
			if _, err := os.Stat(output); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", output)
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			util.ShowInfo(fmt.Sprintf("Browsing %s for %s", strings.Join(services, ", "), timeout))
			records, err := inventory.Discover(ctx, inventory.DiscoverOptions{
				Services: services,
				Timeout:  timeout,
				Log:      a.log,
			})
			if err != nil {
				return err
			}
			if len(records) == 0 {
				return fmt.Errorf("no printers found: %w", collector.ErrInventoryEmpty)
			}
			if err := inventory.Save(output, records); err != nil {
				return fmt.Errorf("%w: %w", collector.ErrPersistence, err)
			}
			util.ShowSuccess(fmt.Sprintf("Wrote %d device(s) to %s", len(records), output))
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "inventory file to write (default: inventory.path)")
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 5*time.Second, "how long to browse")
	cmd.Flags().StringSliceVar(&services, "service", inventory.DefaultServices, "DNS-SD service types to browse")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing inventory file")
	return cmd
}

func newInitConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config [path]",
		Short: "Write a default configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ConfigFileName
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.WriteDefaultTOML(path, DefaultConfig()); err != nil {
				return err
			}
			util.ShowSuccess(fmt.Sprintf("Wrote default configuration to %s", path))
			return nil
		},
	}
}

func newServiceCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:       "service <" + strings.Join(serviceActions, "|") + ">",
		Short:     "Manage fleetscan as an OS service running watch mode",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: serviceActions,
		RunE: func(cmd *cobra.Command, args []string) error {
			action := args[0]
			if action == "run" && service.Interactive() {
				util.ShowWarning("Not started by a service manager; running watch mode in the foreground")
			}
			return runServiceCommand(action, g.configPath, func(ctx context.Context) error {
				return runWatch(ctx, g, "", 0, !service.Interactive())
			})
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "fleetscan %s (commit %s, built %s, %s %s/%s)\n",
				Version, GitCommit, BuildTime, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}
