// Package httpapi serves the REST surface of the arena over fasthttp.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/park285/cheese-arena/internal/arena"
	"github.com/park285/cheese-arena/internal/auth"
	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/internal/pvpchess"
	"github.com/park285/cheese-arena/pkg/chessdto"
)

const (
	sessionsPath = "/api/sessions"
	profilesPath = "/api/profiles/"
	healthPath   = "/healthz"
)

// Arena is the subset of the orchestrator the API needs.
type Arena interface {
	Create(ctx context.Context, actor string, timeControl int) (*pvpchess.Session, error)
	Observe(ctx context.Context, id string) (*pvpchess.Session, error)
	Profile(ctx context.Context, playerID string) (*domain.Profile, error)
}

// Pinger reports store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	arena    Arena
	health   Pinger
	verifier auth.Verifier
	messages arena.Messages
	logger   *zap.Logger
	timeout  time.Duration
	srv      *fasthttp.Server
}

func New(a Arena, health Pinger, verifier auth.Verifier, messages arena.Messages, logger *zap.Logger) *Server {
	if logger == nil {
		logger = obslog.L()
	}
	s := &Server{arena: a, health: health, verifier: verifier, messages: messages, logger: logger, timeout: 5 * time.Second}
	s.srv = &fasthttp.Server{
		Handler:      s.Handle,
		Name:         "cheese-arena",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) ListenAndServe(addr string) error {
	s.logger.Info("http_listen", zap.String("addr", addr))
	return s.srv.ListenAndServe(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.ShutdownWithContext(ctx)
}

// Handle routes a request.
func (s *Server) Handle(rc *fasthttp.RequestCtx) {
	path := string(rc.Path())
	switch {
	case path == healthPath:
		s.healthz(rc)
	case path == sessionsPath:
		if !rc.IsPost() {
			rc.Error("method not allowed", fasthttp.StatusMethodNotAllowed)
			return
		}
		s.createSession(rc)
	case strings.HasPrefix(path, sessionsPath+"/"):
		if !rc.IsGet() {
			rc.Error("method not allowed", fasthttp.StatusMethodNotAllowed)
			return
		}
		s.getSession(rc, strings.TrimPrefix(path, sessionsPath+"/"))
	case strings.HasPrefix(path, profilesPath):
		if !rc.IsGet() {
			rc.Error("method not allowed", fasthttp.StatusMethodNotAllowed)
			return
		}
		s.getProfile(rc, strings.TrimPrefix(path, profilesPath))
	default:
		rc.Error("not found", fasthttp.StatusNotFound)
	}
}

func (s *Server) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

func (s *Server) identify(rc *fasthttp.RequestCtx) (string, bool) {
	user, err := s.verifier.Identify(func(k string) string { return string(rc.Request.Header.Peek(k)) })
	if err != nil {
		writeJSON(rc, fasthttp.StatusUnauthorized, chessdto.DomainError{Code: "UNAUTHENTICATED", Message: "authentication required"})
		return "", false
	}
	return user, true
}

func (s *Server) healthz(rc *fasthttp.RequestCtx) {
	ctx, cancel := s.context()
	defer cancel()
	if err := s.health.Ping(ctx); err != nil {
		s.logger.Warn("http_health_degraded", zap.Error(err))
		writeJSON(rc, fasthttp.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	writeJSON(rc, fasthttp.StatusOK, map[string]string{"status": "ok"})
}

type createRequest struct {
	TimeControl int `json:"time_control"`
}

func (s *Server) createSession(rc *fasthttp.RequestCtx) {
	user, ok := s.identify(rc)
	if !ok {
		return
	}
	var req createRequest
	if err := json.Unmarshal(rc.PostBody(), &req); err != nil {
		writeJSON(rc, fasthttp.StatusBadRequest, chessdto.DomainError{Code: string(pvpchess.KindValidation), Reason: "bad_request", Message: "invalid JSON body"})
		return
	}
	ctx, cancel := s.context()
	defer cancel()
	sess, err := s.arena.Create(ctx, user, req.TimeControl)
	if err != nil {
		s.reject(rc, err)
		return
	}
	writeJSON(rc, fasthttp.StatusCreated, arena.SnapshotOf(sess))
}

func (s *Server) getSession(rc *fasthttp.RequestCtx, id string) {
	if _, ok := s.identify(rc); !ok {
		return
	}
	ctx, cancel := s.context()
	defer cancel()
	sess, err := s.arena.Observe(ctx, id)
	if err != nil {
		s.reject(rc, err)
		return
	}
	writeJSON(rc, fasthttp.StatusOK, arena.SnapshotOf(sess))
}

func (s *Server) getProfile(rc *fasthttp.RequestCtx, playerID string) {
	if _, ok := s.identify(rc); !ok {
		return
	}
	if strings.TrimSpace(playerID) == "" {
		rc.Error("not found", fasthttp.StatusNotFound)
		return
	}
	ctx, cancel := s.context()
	defer cancel()
	p, err := s.arena.Profile(ctx, playerID)
	if err != nil {
		if errors.Is(err, arena.ErrNoRepository) {
			rc.Error("profiles disabled", fasthttp.StatusNotImplemented)
			return
		}
		s.logger.Error("http_profile_error", zap.String("player_id", playerID), zap.Error(err))
		writeJSON(rc, fasthttp.StatusServiceUnavailable, chessdto.DomainError{Code: string(pvpchess.KindStoreUnavailable), Retryable: true})
		return
	}
	writeJSON(rc, fasthttp.StatusOK, chessdto.Profile{
		PlayerID:    p.PlayerID,
		Rating:      p.Rating,
		GamesPlayed: p.GamesPlayed,
		Wins:        p.Wins,
		Losses:      p.Losses,
		Draws:       p.Draws,
		LastDelta:   p.LastDelta,
		UpdatedAt:   p.UpdatedAt,
	})
}

func (s *Server) reject(rc *fasthttp.RequestCtx, err error) {
	rej := pvpchess.Classify(err)
	writeJSON(rc, statusOf(rej.Kind), arena.DomainErrorOf(rej, s.messages))
}

func statusOf(k pvpchess.Kind) int {
	switch k {
	case pvpchess.KindValidation:
		return fasthttp.StatusBadRequest
	case pvpchess.KindNotFound:
		return fasthttp.StatusNotFound
	case pvpchess.KindRule, pvpchess.KindConflictExhausted:
		return fasthttp.StatusConflict
	default:
		return fasthttp.StatusServiceUnavailable
	}
}

func writeJSON(rc *fasthttp.RequestCtx, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		rc.Error("encode error", fasthttp.StatusInternalServerError)
		return
	}
	rc.SetStatusCode(status)
	rc.SetContentType("application/json")
	rc.SetBody(b)
}
