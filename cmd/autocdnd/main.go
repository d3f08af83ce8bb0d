package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"autocdn/internal/api"
	"autocdn/internal/config"
	"autocdn/internal/core"
	"autocdn/internal/events"
	"autocdn/internal/logging"
	autocdnmcp "autocdn/internal/mcp"
	"autocdn/internal/notify"
	"autocdn/internal/probe"
	"autocdn/internal/store"
)

type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      *store.Store
	configs    *core.Configs
	controller *core.Controller
	scheduler  *core.Scheduler
	location   *time.Location
}

func main() {
	cfg, err := config.Parse()
	if err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}

	// stdout carries the MCP protocol in stdio modes
	logOut := os.Stdout
	if cfg.Mode != "http" {
		logOut = os.Stderr
	}
	logger := logging.NewWithWriter(logOut, cfg.Log.Level)

	baseCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	storeInst, err := store.Open(baseCtx, cfg.StateDir, cfg.Log.Retention)
	if err != nil {
		logger.Error("open store", "err", err)
		os.Exit(1)
	}
	defer storeInst.Close()

	location := time.Local
	if cfg.UseUTC {
		location = time.UTC
	}

	configs := core.NewConfigs(storeInst)
	bus := events.NewBus()
	engine := probe.NewEngine(configs, storeInst, bus, logger, probe.Config{
		Binary:    cfg.Probe.Binary,
		WorkDir:   cfg.Probe.WorkDir,
		StopGrace: cfg.Probe.StopGrace,
	})

	opts := []core.ControllerOption{core.WithLabels(core.LabelsFor(cfg.Locale))}
	if n := buildNotifier(cfg, logger); n != nil {
		opts = append(opts, core.WithSettleHook(notify.SettleHook(n, logger)))
	}
	controller := core.NewController(baseCtx, engine, bus, logger, opts...)

	scheduler := core.NewScheduler(controller, logger, location)
	if cfg.Schedule.Cron != "" {
		if err := scheduler.Schedule(cfg.Schedule.Config, cfg.Schedule.Cron); err != nil {
			logger.Error("schedule", "cron", cfg.Schedule.Cron, "err", err)
			os.Exit(1)
		}
	}
	scheduler.Start()

	a := &app{
		cfg:        cfg,
		logger:     logger,
		store:      storeInst,
		configs:    configs,
		controller: controller,
		scheduler:  scheduler,
		location:   location,
	}

	switch cfg.Mode {
	case "mcp":
		a.runMCPMode()
	case "both":
		a.runHTTPMode(true)
	default:
		a.runHTTPMode(false)
	}
	a.shutdown()
}

func buildNotifier(cfg *config.Config, logger *slog.Logger) notify.Notifier {
	var notifiers []notify.Notifier
	if cfg.Notification.Bark.Enabled {
		bark, err := notify.NewBarkNotifier(cfg.Notification.Bark.URL)
		if err != nil {
			logger.Warn("bark notifier disabled", "err", err)
		} else {
			notifiers = append(notifiers, bark)
		}
	}
	if len(notifiers) == 0 {
		return nil
	}
	return notify.NewMultiNotifier(notifiers...)
}

func (a *app) newMCPServer() *autocdnmcp.MCPServer {
	return autocdnmcp.NewMCPServer(a.configs, a.controller, a.store, a.store, a.logger)
}

// runHTTPMode serves the HTTP API with /mcp mounted, plus MCP on stdio when
// withStdio is set.
func (a *app) runHTTPMode(withStdio bool) {
	mcpServer := a.newMCPServer()
	server := api.NewServer(a.cfg.Server.Addr, a.cfg.Server.AuthToken, api.Deps{
		Configs:        a.configs,
		Controller:     a.controller,
		Runs:           a.store,
		Logger:         a.logger,
		Location:       a.location,
		Schedule:       a.scheduler,
		ScheduleCron:   a.cfg.Schedule.Cron,
		ScheduleConfig: a.cfg.Schedule.Config,
		MCP:            mcpServer.HTTPHandler(),
	})

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	mcpErr := make(chan error, 1)
	if withStdio {
		go func() {
			if err := mcpServer.Run(); err != nil {
				mcpErr <- err
			}
		}()
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		a.logger.Info("received signal", "signal", sig.String())
	case err := <-serverErr:
		a.logger.Error("server error", "err", err)
	case err := <-mcpErr:
		a.logger.Error("mcp server error", "err", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), a.cfg.ShutdownGrace)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown", "err", err)
	}
}

// runMCPMode serves MCP on stdio until stdin closes or a signal arrives.
func (a *app) runMCPMode() {
	mcpServer := a.newMCPServer()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	mcpErr := make(chan error, 1)
	go func() { mcpErr <- mcpServer.Run() }()

	select {
	case sig := <-sigs:
		a.logger.Info("received signal", "signal", sig.String())
	case err := <-mcpErr:
		if err != nil {
			a.logger.Error("mcp server error", "err", err)
		}
	}
}

func (a *app) shutdown() {
	stopCtx := a.scheduler.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(a.cfg.ShutdownGrace):
		a.logger.Warn("scheduler stop timed out")
	}

	a.controller.Close()
	waitCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownGrace+a.cfg.Probe.StopGrace)
	defer cancel()
	if err := a.controller.Wait(waitCtx); err != nil {
		a.logger.Warn("probe run did not stop in time", "err", err)
	}
	a.logger.Info("shutdown complete")
}
