// serve.go - Daemon lifecycle: store, engine, event bus, HTTP host and periodic audits
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"cctoken/internal/api"
	"cctoken/internal/commitment"
	"cctoken/internal/events"
	"cctoken/internal/ledger"
	"cctoken/internal/metrics"
	"cctoken/internal/store/badgerstore"
)

const shutdownTimeout = 10 * time.Second

func openStore(cfg *Config, logger *zap.Logger) (*badgerstore.Store, error) {
	return badgerstore.Open(badgerstore.Options{
		Dir:        filepath.Join(cfg.DataDir, "ledger"),
		InMemory:   cfg.InMemory,
		SyncWrites: cfg.SyncWrites,
	}, logger.Named("store"))
}

// deploy seeds the store on first start and verifies the parameters on every later one.
func deploy(store ledger.Store, cfg *Config, pp *commitment.Params) error {
	return ledger.Deploy(store, pp, ledger.Genesis{
		Name:     cfg.Token.Name,
		Symbol:   cfg.Token.Symbol,
		Operator: ledger.Address(cfg.Token.Operator),
	})
}

func runServe(ctx context.Context, cfg *Config, logger *zap.Logger) error {
	pp, err := cfg.Params()
	if err != nil {
		return err
	}
	store, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close store", zap.Error(err))
		}
	}()
	if err := deploy(store, cfg, pp); err != nil {
		return fmt.Errorf("deploy: %w", err)
	}

	bus := events.NewBus(logger.Named("events"))
	if err := events.LogEvents(bus, logger.Named("events")); err != nil {
		return fmt.Errorf("subscribe event log: %w", err)
	}
	collector := metrics.NewCollector(true)
	eng, err := ledger.Open(store, pp,
		ledger.WithEmitter(bus),
		ledger.WithObserver(collector),
		ledger.WithLogger(logger.Named("ledger")))
	if err != nil {
		return err
	}

	next, err := store.TxCounter()
	if err != nil {
		return err
	}
	gin.SetMode(gin.ReleaseMode)
	host := api.NewServer(eng, collector, logger.Named("api"), api.Config{
		Version:     Version,
		RateLimit:   cfg.RateLimit.Burst,
		RateRefill:  cfg.RateLimit.Refill,
		RatePeriod:  cfg.RateLimit.Period(),
		StartHeight: next,
	})

	if _, err := host.Audit(); err != nil {
		logger.Error("startup supply audit failed", zap.Error(err))
	}

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           host.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http host listening", zap.String("addr", cfg.Listen), zap.String("version", Version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	auditCtx, stopAudits := context.WithCancel(ctx)
	defer stopAudits()
	if cfg.AuditIntervalSeconds > 0 {
		go runAudits(auditCtx, host, time.Duration(cfg.AuditIntervalSeconds)*time.Second, logger)
	}

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http host: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func runAudits(ctx context.Context, host *api.Server, every time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := host.Audit(); err != nil && !errors.Is(err, ledger.ErrInvariantViolation) {
				logger.Warn("supply audit failed", zap.Error(err))
			}
		}
	}
}

func runVerify(out io.Writer, cfg *Config, logger *zap.Logger) error {
	pp, err := cfg.Params()
	if err != nil {
		return err
	}
	store, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	eng, err := ledger.Open(store, pp, ledger.WithLogger(logger.Named("ledger")))
	if err != nil {
		return err
	}
	report, err := eng.VerifySupplyInvariant()
	if report != nil {
		if werr := writeJSON(out, report); werr != nil {
			return werr
		}
	}
	return err
}
