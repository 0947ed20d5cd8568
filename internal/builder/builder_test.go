package builder

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/park285/cheese-arena/internal/auth"
	"github.com/park285/cheese-arena/internal/config"
	"github.com/park285/cheese-arena/internal/pvpchess"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	cfg := config.Default()
	cfg.RedisURL = "redis://" + mr.Addr()
	return cfg
}

func TestNewCore_FallsBackToMemoryRepository(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	core, err := NewCore(ctx, cfg, nil, nil)
	if err != nil {
		t.Fatalf("NewCore: %v", err)
	}
	defer func() { _ = core.Close(ctx) }()

	if _, ok := core.Repo.(*pvpchess.MemoryRepository); !ok {
		t.Fatalf("expected memory repository without DATABASE_URL, got %T", core.Repo)
	}
	s, err := core.Arena.Create(ctx, "white-1", 5)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := core.Store.Load(ctx, s.ID); err != nil {
		t.Fatalf("session should be persisted in redis: %v", err)
	}
}

func TestNewCore_RequiresRedis(t *testing.T) {
	if _, err := NewCore(context.Background(), config.Default(), nil, nil); err == nil {
		t.Fatalf("expected error without REDIS_URL")
	}
}

func TestNew_RequiresAuthentication(t *testing.T) {
	cfg := testConfig(t)
	if _, err := New(context.Background(), cfg, nil); err == nil {
		t.Fatalf("expected error without JWT secret or trusted header")
	}
}

func TestNew_WiresServingSurfaces(t *testing.T) {
	cfg := testConfig(t)
	cfg.TrustUserHeader = true
	cfg.JWTSecret = "secret"
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	deps, err := New(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if deps.Gateway == nil || deps.API == nil || deps.Sweeper == nil || deps.Hub == nil {
		t.Fatalf("missing component: %+v", deps)
	}
	chain, ok := deps.Verifier.(auth.Chain)
	if !ok || len(chain) != 2 {
		t.Fatalf("expected jwt+header chain, got %T", deps.Verifier)
	}
	id, err := deps.Verifier.Identify(func(name string) string {
		if name == auth.UserHeader {
			return "u1"
		}
		return ""
	})
	if err != nil || id != "u1" {
		t.Fatalf("Identify = %q, %v", id, err)
	}
	if err := deps.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
