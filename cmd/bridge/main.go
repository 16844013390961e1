package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quantfold/deribit-bridge/internal/breaker"
	"github.com/quantfold/deribit-bridge/internal/config"
	"github.com/quantfold/deribit-bridge/internal/deribit"
	"github.com/quantfold/deribit-bridge/internal/hub"
	"github.com/quantfold/deribit-bridge/internal/metrics"
	"github.com/quantfold/deribit-bridge/internal/transport"
	"github.com/quantfold/deribit-bridge/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/bridge.local.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting bridge",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"rest_url", cfg.Venue.RestURL,
		"ws_url", cfg.Venue.WSURL,
		"instruments", cfg.Instruments.Names,
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("bridge terminated", "error", err)
		os.Exit(1)
	}
	logger.Info("bridge stopped")
}

func run(cfg *config.BridgeConfig, logger *slog.Logger) error {
	// Cancel on shutdown signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	recorder := metrics.NewRecorder(cfg.Metrics.MaxSamples)

	// The manager shares the process recorder so order round trips land
	// in the same report as the market-data counters.
	mc := managerConfig(cfg)
	mc.Metrics = recorder
	manager, err := deribit.NewManager(mc, logger.With("component", "session"))
	if err != nil {
		return fmt.Errorf("create session manager: %w", err)
	}

	// Authenticate before anything else touches the venue.
	if _, err := manager.AuthenticateWithRetry(ctx); err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}

	if err := manager.Connect(ctx); err != nil {
		return fmt.Errorf("connect transport: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := manager.Close(shutdownCtx); err != nil {
			logger.Warn("transport close", "error", err)
		}
	}()

	// Downstream fan-out
	broadcastHub := hub.New(logger.With("component", "hub"))
	hubServer := hub.NewServer(broadcastHub, logger.With("component", "hub"))
	if err := hubServer.Start(cfg.Hub.ListenAddr); err != nil {
		return fmt.Errorf("start hub server: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := hubServer.Stop(shutdownCtx); err != nil {
			logger.Warn("hub server stop", "error", err)
		}
	}()

	// Bridge upstream pushes into the hub, one channel per instrument.
	for _, name := range cfg.Instruments.Names {
		channel := fmt.Sprintf("book.%s.%s", name, cfg.Instruments.Interval)
		cb := func(channel string, data json.RawMessage) {
			instrument := instrumentFromChannel(channel)
			recorder.RecordMarketDataUpdate(instrument)
			broadcastHub.Broadcast(instrument, data)
		}
		if err := manager.Subscribe(ctx, channel, cb); err != nil {
			return fmt.Errorf("subscribe %s: %w", channel, err)
		}
		logger.Info("subscribed", "channel", channel)
	}

	if cfg.Metrics.ReportPath != "" {
		defer func() {
			if err := recorder.WriteReport(cfg.Metrics.ReportPath); err != nil {
				logger.Warn("metrics report", "error", err)
			}
		}()
	}

	group, groupCtx := errgroup.WithContext(ctx)

	// Terminal transport failure (reconnect exhaustion) ends the process.
	group.Go(func() error {
		select {
		case err := <-manager.Fatal():
			return fmt.Errorf("transport fatal: %w", err)
		case <-groupCtx.Done():
			return nil
		}
	})

	// Periodic status log
	group.Go(func() error {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				logger.Info("status",
					"downstream_clients", broadcastHub.ConnectionCount(),
					"transport_state", manager.Transport().State().String(),
					"breaker_open", manager.Breaker().Open(),
				)
			case <-groupCtx.Done():
				return nil
			}
		}
	})

	return group.Wait()
}

func managerConfig(cfg *config.BridgeConfig) deribit.Config {
	return deribit.Config{
		RestURL: cfg.Venue.RestURL,
		WSURL:   cfg.Venue.WSURL,
		Credentials: deribit.Credentials{
			ClientID:     cfg.Venue.ClientID,
			ClientSecret: cfg.Venue.ClientSecret,
		},
		ProxyURL:        cfg.Venue.ProxyURL,
		RequestTimeout:  cfg.Venue.Timeout,
		MaxAuthAttempts: cfg.Auth.MaxAttempts,
		AuthBaseDelay:   cfg.Auth.BaseDelay,
		AuthMaxDelay:    cfg.Auth.MaxDelay,
		AuthMaxJitter:   cfg.Auth.MaxJitter,
		RefreshMargin:   cfg.Auth.RefreshMargin,
		Breaker: breaker.Config{
			Threshold:    cfg.Breaker.Threshold,
			ResetTimeout: cfg.Breaker.ResetTimeout,
		},
		Transport: transport.Config{
			DialTimeout:          cfg.Transport.DialTimeout,
			WriteTimeout:         cfg.Transport.WriteTimeout,
			PingInterval:         cfg.Transport.PingInterval,
			PingTimeout:          cfg.Transport.PingTimeout,
			RequestTimeout:       cfg.Transport.RequestTimeout,
			ReconnectBaseDelay:   cfg.Transport.ReconnectBaseDelay,
			ReconnectMaxDelay:    cfg.Transport.ReconnectMaxDelay,
			ReconnectMaxAttempts: cfg.Transport.ReconnectMaxAttempts,
			BufferSize:           cfg.Transport.BufferSize,
		},
	}
}

// instrumentFromChannel extracts the instrument from a channel name
// like "book.BTC-PERPETUAL.100ms".
func instrumentFromChannel(channel string) string {
	parts := strings.Split(channel, ".")
	if len(parts) >= 2 {
		return parts[1]
	}
	return channel
}
