package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/park285/cheese-arena/internal/builder"
	"github.com/park285/cheese-arena/internal/config"
	"github.com/park285/cheese-arena/internal/obslog"
)

const wsPath = "/ws"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := &cli.Command{
		Name:  "arena",
		Usage: "live PvP chess session orchestrator",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the websocket gateway, REST API, clocks and sweep",
				Action: runServe,
			},
			{
				Name:   "sweep",
				Usage:  "abandon stale sessions once and exit",
				Action: runSweep,
			},
			inspectCommand(),
		},
	}
	if err := cmd.Run(ctx, os.Args); err != nil {
		log.Fatalf("arena: %v", err)
	}
}

func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}
	logger, err := obslog.Init(cfg.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	return cfg, logger, nil
}

func runServe(ctx context.Context, _ *cli.Command) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	deps, err := builder.New(ctx, cfg, logger)
	if err != nil {
		return err
	}

	n, err := deps.Arena.Resume(ctx)
	if err != nil {
		logger.Warn("arena_resume_failed", zap.Error(err))
	}
	logger.Info("arena_resumed", zap.Int("sessions", n))
	deps.Sweeper.Start()

	errCh := make(chan error, 2)
	var wsSrv *http.Server
	if cfg.WSAddr != "" {
		mux := http.NewServeMux()
		mux.Handle(wsPath, deps.Gateway)
		wsSrv = &http.Server{Addr: cfg.WSAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			logger.Info("ws_listen", zap.String("addr", cfg.WSAddr), zap.String("path", wsPath))
			if err := wsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("ws server: %w", err)
			}
		}()
	}
	if cfg.APIAddr != "" {
		go func() {
			if err := deps.API.ListenAndServe(cfg.APIAddr); err != nil {
				errCh <- fmt.Errorf("api server: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("arena_shutdown_signal")
	case runErr = <-errCh:
		logger.Error("arena_server_failed", zap.Error(runErr))
	}

	sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if wsSrv != nil {
		if serr := wsSrv.Shutdown(sctx); serr != nil {
			logger.Warn("ws_shutdown_failed", zap.Error(serr))
		}
	}
	if cfg.APIAddr != "" {
		if serr := deps.API.Shutdown(sctx); serr != nil {
			logger.Warn("api_shutdown_failed", zap.Error(serr))
		}
	}
	if cerr := deps.Close(sctx); cerr != nil {
		logger.Warn("arena_close_failed", zap.Error(cerr))
	}
	logger.Info("arena_stopped")
	return runErr
}

func runSweep(ctx context.Context, _ *cli.Command) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	core, err := builder.NewCore(ctx, cfg, nil, logger)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		_ = core.Close(sctx)
	}()

	rep, err := core.Arena.Sweep(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("candidates=%d refreshed=%d abandoned=%d skipped=%d failed=%d\n",
		rep.Candidates, rep.Refreshed, rep.Abandoned, rep.Skipped, rep.Failed)
	return nil
}
