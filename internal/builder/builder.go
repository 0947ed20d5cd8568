// Package builder wires the arena from configuration.
package builder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/park285/cheese-arena/internal/arena"
	"github.com/park285/cheese-arena/internal/auth"
	"github.com/park285/cheese-arena/internal/chess"
	"github.com/park285/cheese-arena/internal/config"
	"github.com/park285/cheese-arena/internal/httpapi"
	"github.com/park285/cheese-arena/internal/msgcat"
	"github.com/park285/cheese-arena/internal/pvpchess"
	"github.com/park285/cheese-arena/internal/wsgate"
)

// Core is what every command touching sessions needs.
type Core struct {
	Store    *pvpchess.RedisStore
	Repo     pvpchess.Repository
	Messages *msgcat.Catalog
	Arena    *arena.Orchestrator
	Clock    clockwork.Clock
	Logger   *zap.Logger
}

// Deps extends Core with the serving surfaces.
type Deps struct {
	*Core
	Hub      *wsgate.Hub
	Verifier auth.Verifier
	Gateway  *wsgate.Gateway
	API      *httpapi.Server
	Sweeper  *arena.Sweeper
}

// NewCore builds the store, repository, message catalog and orchestrator.
// Events go to pub; nil discards them.
func NewCore(ctx context.Context, cfg *config.Config, pub arena.Publisher, logger *zap.Logger) (*Core, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.ValidateStore(); err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	store, err := pvpchess.NewRedisStore(pingCtx, cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("init session store: %w", err)
	}
	repo, err := newRepository(pingCtx, cfg.DatabaseURL, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	catalog, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		_ = store.Close()
		_ = repo.Close()
		return nil, fmt.Errorf("load messages: %w", err)
	}

	clock := clockwork.NewRealClock()
	o, err := arena.New(arena.Deps{
		Store:     store,
		Oracle:    chess.NewRulesOracle(),
		Publisher: pub,
		Repo:      repo,
		Clock:     clock,
		Logger:    logger,
		Config:    cfg.Arena,
		Messages:  catalog,
	})
	if err != nil {
		_ = store.Close()
		_ = repo.Close()
		return nil, fmt.Errorf("init orchestrator: %w", err)
	}
	return &Core{Store: store, Repo: repo, Messages: catalog, Arena: o, Clock: clock, Logger: logger}, nil
}

// newRepository opens Postgres when configured and falls back to an
// in-process repository otherwise.
func newRepository(ctx context.Context, databaseURL string, logger *zap.Logger) (pvpchess.Repository, error) {
	if databaseURL == "" {
		logger.Warn("database_url_empty_using_memory_repository")
		return pvpchess.NewMemoryRepository(), nil
	}
	repo, err := pvpchess.NewPostgresRepository(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("init repository: %w", err)
	}
	if err := repo.Migrate(ctx); err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("migrate repository: %w", err)
	}
	return repo, nil
}

// New builds everything the serve command runs.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Deps, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if err := cfg.ValidateServe(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	hub := wsgate.NewHub(logger)
	core, err := NewCore(ctx, cfg, hub, logger)
	if err != nil {
		return nil, err
	}

	verifier, err := newVerifier(cfg, core.Clock)
	if err != nil {
		_ = core.Close(ctx)
		return nil, err
	}
	gateway := wsgate.New(core.Arena, hub, verifier, core.Messages, wsgate.Options{
		Origins: cfg.WSOrigins,
		Clock:   core.Clock,
		Logger:  logger,
	})
	api := httpapi.New(core.Arena, core.Store, verifier, core.Messages, logger)
	sweeper, err := arena.NewSweeper(core.Arena)
	if err != nil {
		_ = core.Close(ctx)
		return nil, err
	}
	return &Deps{
		Core:     core,
		Hub:      hub,
		Verifier: verifier,
		Gateway:  gateway,
		API:      api,
		Sweeper:  sweeper,
	}, nil
}

func newVerifier(cfg *config.Config, clock clockwork.Clock) (auth.Verifier, error) {
	var chain auth.Chain
	if cfg.JWTSecret != "" {
		jv, err := auth.NewJWTVerifier(cfg.JWTSecret, clock)
		if err != nil {
			return nil, fmt.Errorf("init jwt verifier: %w", err)
		}
		chain = append(chain, jv)
	}
	if cfg.TrustUserHeader {
		chain = append(chain, auth.HeaderVerifier{})
	}
	if len(chain) == 1 {
		return chain[0], nil
	}
	return chain, nil
}

// Close stops session drivers, then releases the store and repository.
func (c *Core) Close(ctx context.Context) error {
	var errs []error
	if err := c.Arena.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close orchestrator: %w", err))
	}
	if err := c.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	if err := c.Repo.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close repository: %w", err))
	}
	return errors.Join(errs...)
}

// Close stops the sweeper before the core.
func (d *Deps) Close(ctx context.Context) error {
	var errs []error
	if err := d.Sweeper.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop sweeper: %w", err))
	}
	if err := d.Core.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
