package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/kardianos/service"

	"printmaster/fleetscan/common/util"
)

// serviceStopTimeout bounds how long Stop waits for the watch loop.
const serviceStopTimeout = 30 * time.Second

// program implements service.Interface by running watch mode.
type program struct {
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	err       error
	svcLogger service.Logger
	run       func(ctx context.Context) error
}

func (p *program) Start(s service.Service) error {
	p.svcLogger, _ = s.Logger(nil)
	p.info("fleetscan service starting")

	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)
		p.err = p.run(p.ctx)
		if p.err != nil && p.svcLogger != nil {
			p.svcLogger.Error(fmt.Sprintf("fleetscan watch stopped: %v", p.err))
		}
	}()
	return nil
}

func (p *program) Stop(s service.Service) error {
	p.info("fleetscan service stop requested")
	if p.cancel != nil {
		p.cancel()
	}

	select {
	case <-p.done:
		p.info("fleetscan service stopped gracefully")
	case <-time.After(serviceStopTimeout):
		if p.svcLogger != nil {
			p.svcLogger.Warning("fleetscan service stopped with timeout")
		}
	}
	return nil
}

func (p *program) info(msg string) {
	if p.svcLogger != nil {
		p.svcLogger.Info(msg)
	}
}

// serviceWorkingDir is where the service runs and looks for relative paths.
func serviceWorkingDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "Fleetscan")
	case "darwin":
		return "/Library/Application Support/Fleetscan"
	default:
		return "/var/lib/fleetscan"
	}
}

// getServiceConfig returns the service definition. configPath, when set, is
// made absolute and passed to the service process.
func getServiceConfig(configPath string) *service.Config {
	args := []string{}
	if configPath != "" {
		if abs, err := filepath.Abs(configPath); err == nil {
			configPath = abs
		}
		args = append(args, "--config", configPath)
	}
	args = append(args, "service", "run")

	return &service.Config{
		Name:             "fleetscan",
		DisplayName:      "Fleetscan",
		Description:      "Polls network printers for consumable levels and serves the latest fleet snapshot.",
		WorkingDirectory: serviceWorkingDir(),
		Arguments:        args,
		Option: service.KeyValue{
			// Windows
			"StartType":              "automatic",
			"DelayedAutoStart":       true,
			"OnFailure":              "restart",
			"OnFailureDelayDuration": "5s",
			"OnFailureResetPeriod":   30,

			// systemd
			"Restart":           "on-failure",
			"RestartSec":        5,
			"SuccessExitStatus": "0 SIGTERM",
			"KillSignal":        "SIGTERM",

			// launchd
			"RunAtLoad": true,
			"KeepAlive": true,
		},
	}
}

// serviceActions are the verbs accepted by "fleetscan service".
var serviceActions = []string{"install", "uninstall", "start", "stop", "restart", "status", "run"}

// runServiceCommand performs one service action. "run" blocks until the
// service manager stops the program.
func runServiceCommand(action, configPath string, run func(ctx context.Context) error) error {
	prg := &program{run: run}
	s, err := service.New(prg, getServiceConfig(configPath))
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	switch action {
	case "run":
		if err := s.Run(); err != nil {
			return err
		}
		return prg.err
	case "status":
		status, err := s.Status()
		if err != nil {
			return fmt.Errorf("failed to query service status: %w", err)
		}
		util.ShowInfo(fmt.Sprintf("Service status: %s", serviceStatusText(status)))
		return nil
	case "install":
		if err := os.MkdirAll(serviceWorkingDir(), 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", serviceWorkingDir(), err)
		}
	}

	util.ShowInfo(fmt.Sprintf("Service %s...", action))
	if err := service.Control(s, action); err != nil {
		return fmt.Errorf("service %s failed: %w", action, err)
	}
	util.ShowSuccess(fmt.Sprintf("Service %s complete", action))
	return nil
}

func serviceStatusText(status service.Status) string {
	switch status {
	case service.StatusRunning:
		return "running"
	case service.StatusStopped:
		return "stopped"
	default:
		return "not installed"
	}
}
