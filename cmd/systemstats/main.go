package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"systemstats/internal/collector"
	"systemstats/internal/config"
	"systemstats/internal/gpio"
	"systemstats/internal/logger"
	"systemstats/internal/probe"
	"systemstats/internal/publish"
	"systemstats/internal/zabbix"
	"systemstats/pkg/profiler"
)

const shutdownTimeout = 5 * time.Second

func main() {
	cfg := config.NewConfig()

	rootCmd := &cobra.Command{
		Use:   "systemstats",
		Short: "Host telemetry collector",
		Long: "Samples CPU usage and temperature, memory, disk, fan speed and ping latency " +
			"and publishes display-ready values over websocket and optionally to Zabbix.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Load(cmd); err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if err := logger.Initialize(cfg.LogLevel); err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			defer logger.Cleanup()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if cfg.Once {
				return runOnce(ctx, cfg, logger.Logger)
			}
			return run(ctx, cfg, logger.Logger)
		},
	}
	config.AddFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// pipeline связывает сборщик с публикаторами
type pipeline struct {
	collector *collector.Collector
	hub       *publish.Hub
	stopSink  func()
}

// Close останавливает потоки раньше публикаторов, которые они питают
func (p *pipeline) Close() {
	p.collector.Stop()
	p.hub.Close()
	if p.stopSink != nil {
		p.stopSink()
	}
}

func newCollector(cfg *config.Config, log *zap.Logger) *collector.Collector {
	sources := collector.NewSources(probe.NewExecRunner(), cfg.SourceConfig())
	if cfg.Sources.FanPin >= 0 {
		sources.Fan = gpio.NewSysfsEdgeSource(cfg.Sources.GPIORoot, cfg.Sources.FanPin, gpio.EdgeFalling, log.Named("gpio"))
	}
	return collector.New(sources, log.Named("collector"))
}

func newZabbixSink(cfg *config.Config, log *zap.Logger) *zabbix.Sink {
	hostName, err := os.Hostname()
	if err != nil && cfg.Zabbix.Host == "" {
		log.Warn("Failed to get hostname for Zabbix host name", zap.Error(err))
	}
	sender := zabbix.NewSender(cfg.Zabbix.Server, cfg.Zabbix.Port, cfg.Zabbix.Timeout, log)
	return zabbix.NewSink(sender, zabbix.HostName(cfg.Zabbix.Host, hostName), log)
}

func runOnce(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	opts := cfg.Options()
	if err := opts.Validate(); err != nil {
		return err
	}

	c := newCollector(cfg, log)
	out, err := c.Collect(ctx, opts)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	log.Info("Starting systemstats",
		zap.String("listen", cfg.ListenAddr),
		zap.Bool("zabbix", cfg.Zabbix.Enable),
		zap.Int("fan_pin", cfg.Sources.FanPin))

	prof := profiler.New(profiler.Config{
		Enable:     cfg.Profile.Enable,
		CPUProfile: cfg.Profile.CPUProfile,
		MemProfile: cfg.Profile.MemProfile,
	}, log.Named("profiler"))
	if err := prof.Start(); err != nil {
		return err
	}
	defer func() {
		if err := prof.Stop(); err != nil {
			log.Error("Failed to stop profiler", zap.Error(err))
		}
	}()

	c := newCollector(cfg, log)
	hub := publish.NewHub(c, log.Named("hub"))
	c.AddPublisher(hub)

	p := &pipeline{collector: c, hub: hub}
	if cfg.Zabbix.Enable {
		sink := newZabbixSink(cfg, log.Named("zabbix"))
		c.AddPublisher(sink)

		// the sink outlives the signal context until the streams are stopped
		sinkCtx, cancel := context.WithCancel(context.Background())
		go sink.Run(sinkCtx)
		p.stopSink = func() {
			cancel()
			sink.Wait()
		}
	}
	defer p.Close()

	if err := c.Configure(cfg.Options()); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/", hub.Handler())
	prof.Register(mux)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info("Received shutdown signal")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP server shutdown failed", zap.Error(err))
	}

	prof.LogMemStats()
	log.Info("Shutdown completed")
	return nil
}
