package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"cross-matching-engine/src/api"
	"cross-matching-engine/src/config"
	"cross-matching-engine/src/engine"
	"cross-matching-engine/src/history"
	"cross-matching-engine/src/logging"
	"cross-matching-engine/src/statefile"
)

func main() {
	cfg := config.LoadFromEnv("")

	log, err := logging.New(cfg.LogFile)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("engine stopped", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	trades, err := history.Open(cfg.HistoryDir)
	if err != nil {
		return err
	}
	defer trades.Close()

	eng := engine.NewMatchingEngine(engine.WithLogger(log.Named("engine")))

	// Seed ids from the trade history, then let the saved book raise the
	// counter further for orders that never traded.
	maxID, err := trades.MaxOrderID()
	if err != nil {
		return err
	}
	eng.SetInitialOrderID(maxID)

	books := statefile.NewStore(cfg.ActiveBookFile, log.Named("statefile"))
	if state, ok := books.Load(); ok {
		eng.RestoreState(state)
	}

	srv := api.NewServer(eng, api.Options{
		History:     trades,
		Logger:      log.Named("api"),
		BookDepth:   cfg.BookDepth,
		CORSOrigins: cfg.CORSOrigins,
	})
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", zap.String("addr", cfg.HTTPAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}

	return books.Save(eng.CaptureState())
}
