package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/n0tsosmart/slaythewerewolf/internal/relay"
)

func serve(ctx context.Context, cfg *config) error {
	logCfg := zap.NewProductionConfig()
	if cfg.verbose {
		logCfg = zap.NewDevelopmentConfig()
	}
	logger, err := logCfg.Build()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := net.JoinHostPort(cfg.bind, strconv.Itoa(cfg.port))
	srv := &http.Server{
		Addr:    addr,
		Handler: relay.NewServer(ctx, logger).Routes(),
	}

	errs := make(chan error, 1)
	go func() {
		logger.Info("relay listening", zap.String("addr", addr))
		errs <- srv.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
