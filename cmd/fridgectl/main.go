package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/qcryo/fridgectl/internal/alert"
	"github.com/qcryo/fridgectl/internal/buffer"
	"github.com/qcryo/fridgectl/internal/command"
	"github.com/qcryo/fridgectl/internal/config"
	"github.com/qcryo/fridgectl/internal/controller"
	"github.com/qcryo/fridgectl/internal/controller/sim"
	"github.com/qcryo/fridgectl/internal/errors"
	"github.com/qcryo/fridgectl/internal/event"
	"github.com/qcryo/fridgectl/internal/logger"
	"github.com/qcryo/fridgectl/internal/pid"
	"github.com/qcryo/fridgectl/internal/scheduler"
	"github.com/qcryo/fridgectl/internal/store"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Debug, cfg.Verbose, logger.IsService(), cfg.LogLevel)
	logger.Debug().Msg("Config loaded")

	if err := pid.Write(); err != nil {
		logger.Fatal().Err(err).Msg("failed to write PID file")
	}
	defer func() {
		if err := pid.Remove(); err != nil {
			logger.Warn().Err(err).Msg("failed to remove PID file")
		}
	}()

	if err := run(cfg); err != nil {
		var appErr errors.Error
		if errors.As(err, &appErr) {
			logger.ErrorWithCode(appErr).Msg("supervisor failed")
		} else {
			logger.Error().Err(err).Msg("supervisor failed")
		}
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	bus := event.NewBus()
	defer bus.Close()

	storeCfg := store.DefaultConfig()
	if cfg.Store.Path != "" {
		storeCfg.DBPath = cfg.Store.Path
	}
	repo, err := store.NewRepository(storeCfg)
	if err != nil {
		return err
	}

	buf := buffer.New(cfg.BufferCapacity, bus)

	writerCfg := store.DefaultWriterConfig()
	writerCfg.BatchSize = cfg.Store.BatchSize
	writerCfg.FlushInterval = cfg.Store.FlushInterval()
	writer := store.NewWriter(repo, buf, writerCfg, bus)

	engine, err := alert.NewEngine(alertRules(cfg), bus)
	if err != nil {
		return err
	}

	sched := scheduler.New(buf, engine)
	for _, cc := range cfg.Controllers {
		link := buildLink(cc, cfg, bus)
		if err := sched.Add(link); err != nil {
			return err
		}
	}

	dispatcher := command.New(sched, repo, bus)
	go drainResults(dispatcher)

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		metricsSrv = serveMetrics(cfg.MetricsAddr)
	}

	logger.Info().
		Int("controllers", len(cfg.Controllers)).
		Int("alert_rules", len(cfg.Alerts)).
		Msg("Supervisor running")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	sched.Stop(shutdownCtx)
	dispatcher.Close()
	engine.Close()
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("failed to stop metrics listener")
		}
	}
	if err := writer.Close(); err != nil {
		logger.Error().Err(err).Msg("failed to close telemetry writer")
	}

	logger.Info().Msg("Exiting...")

	return nil
}

func buildLink(cc config.ControllerConfig, cfg *config.Config, bus *event.Bus) *controller.Link {
	ctrl := controller.Controller{
		ID:         cc.ID,
		Address:    cc.Address,
		Password:   cc.Password,
		Transport:  cc.Transport,
		PollPeriod: cc.PollPeriod(),
		Channels:   cc.Channels,
		Setpoints:  cc.Setpoints,
		Units:      cc.Units,
	}

	var transport controller.Transport
	if cc.Transport == "sim" {
		transport = sim.New(time.Now().UnixNano())
	} else {
		transport = controller.NewTCPTransport(cc.Address, cc.Password)
	}

	linkCfg := controller.DefaultLinkConfig()
	if cfg.Link.FailureThreshold > 0 {
		linkCfg.FailureThreshold = cfg.Link.FailureThreshold
	}
	if d := cfg.Link.DegradedTimeout(); d > 0 {
		linkCfg.DegradedTimeout = d
	}

	return controller.NewLink(ctrl, transport, linkCfg, bus)
}

func alertRules(cfg *config.Config) []alert.Rule {
	rules := make([]alert.Rule, 0, len(cfg.Alerts))
	for _, rc := range cfg.Alerts {
		rules = append(rules, alert.Rule{
			Name:       rc.Name,
			Channel:    rc.Channel,
			Operator:   alert.Operator(rc.Operator),
			Threshold:  rc.Threshold,
			Severity:   alert.Severity(rc.Severity),
			Hysteresis: rc.Hysteresis,
		})
	}

	return rules
}

// serveMetrics exposes the Prometheus registry on addr.
func serveMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Info().Str("addr", addr).Msg("Metrics listener started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics listener failed")
		}
	}()

	return srv
}

// drainResults keeps the outcome channel flowing when no operator surface
// is attached; outcomes are already logged and audited by the dispatcher.
func drainResults(d *command.Dispatcher) {
	for range d.Results() {
	}
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}
