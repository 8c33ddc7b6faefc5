// Copyright 2025 Warden
// SPDX-License-Identifier: BUSL-1.1

// Package main is the entry point for the Warden gateway service.
//
// Warden sits between callers and heterogeneous text-generation backends
// and enforces policy on every request: sensitivity classification,
// sanitization, injection scanning, budget accounting, and availability-
// aware routing, with one audit line per request.
//
// Usage:
//
//	./wardend -config /etc/warden/warden.yaml
//
// Environment variables:
//
//	WARDEN_CONFIG - config file path (flag takes precedence)
//	WARDEN_LOG_LEVEL - minimum log level (DEBUG, INFO, WARN, ERROR)
//	INSTANCE_ID - instance identifier carried in every log line
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wardenai/warden/audit"
	"github.com/wardenai/warden/backend"
	"github.com/wardenai/warden/budget"
	"github.com/wardenai/warden/config"
	"github.com/wardenai/warden/coordinator"
	"github.com/wardenai/warden/gateway"
	"github.com/wardenai/warden/gatewayhttp"
	"github.com/wardenai/warden/shared/logger"
)

const startupProbeTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	flag.Parse()

	path := *configPath
	if path == "" {
		path = os.Getenv("WARDEN_CONFIG")
	}
	if path == "" {
		path = "warden.yaml"
	}

	if err := run(path); err != nil {
		log.Fatalf("wardend: %v", err)
	}
}

func run(configPath string) error {
	lg := logger.New("wardend")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	lg.Info("", "configuration loaded", map[string]interface{}{
		"config":   configPath,
		"backends": len(cfg.Backends),
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sink, err := buildAuditSink(cfg, lg)
	if err != nil {
		return err
	}
	defer func() { _ = sink.Close() }()

	ledger, persistCloser, err := buildLedger(ctx, cfg, lg)
	if err != nil {
		return err
	}
	if persistCloser != nil {
		defer func() { _ = persistCloser.Close() }()
	}

	descriptors, err := cfg.Descriptors()
	if err != nil {
		return err
	}
	catalog, err := backend.NewCatalog(descriptors)
	if err != nil {
		return err
	}

	probeCtx, cancelProbe := context.WithTimeout(ctx, startupProbeTimeout)
	catalog.ProbeAll(probeCtx)
	cancelProbe()
	catalog.Start(ctx)

	co := coordinator.New(coordinator.Config{
		Gateway: gateway.New(gateway.Config{
			ScannerMode:    gateway.ScannerMode(cfg.Policy.ScannerMode),
			AnonymizeTerms: cfg.Policy.AnonymizeTerms,
		}),
		Ledger:         ledger,
		Router:         backend.NewRouter(catalog),
		Sink:           sink,
		RequestTimeout: cfg.RequestTimeout(),
	})

	srv := gatewayhttp.New(gatewayhttp.Config{
		ListenAddr:     cfg.Server.ListenAddr,
		JWTSecret:      cfg.Server.JWTSecret,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Submitter:      co,
		Ledger:         ledger,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	lg.Info("", "wardend started", map[string]interface{}{"addr": cfg.Server.ListenAddr})

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	lg.Info("", "shutting down", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func buildAuditSink(cfg *config.Config, lg *logger.Logger) (audit.Sink, error) {
	if cfg.Audit.DatabaseURL == "" {
		lg.Warn("", "no audit database configured, using log sink", nil)
		return audit.NewLogSink(), nil
	}
	sink, err := audit.NewPostgresSink(cfg.Audit.DatabaseURL)
	if err != nil {
		return nil, err
	}
	lg.Info("", "audit sink connected", nil)
	return sink, nil
}

func buildLedger(ctx context.Context, cfg *config.Config, lg *logger.Logger) (*budget.Ledger, *budget.RedisPersistence, error) {
	var persist *budget.RedisPersistence
	if cfg.Redis.Addr != "" {
		p, err := budget.NewRedisPersistence(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Budget.Period())
		if err != nil {
			return nil, nil, err
		}
		persist = p
		lg.Info("", "budget persistence connected", map[string]interface{}{"addr": cfg.Redis.Addr})
	}

	ledgerCfg := budget.Config{
		CapUnits:      cfg.Budget.CapUnits,
		PeriodLength:  cfg.Budget.Period(),
		WarnThreshold: cfg.Budget.WarnThreshold,
		OnWarn: func(st budget.State) {
			lg.Warn("", "budget warning threshold crossed", map[string]interface{}{
				"spent_units": st.SpentUnits,
				"cap_units":   st.CapUnits,
			})
		},
	}
	if persist != nil {
		ledgerCfg.Persistence = persist
	}

	ledger, err := budget.NewLedger(ctx, ledgerCfg)
	if err != nil {
		return nil, nil, err
	}
	return ledger, persist, nil
}
