package pvpchess

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/obslog"
)

// KFactor is the Elo sensitivity.
const KFactor = 32

// EloChange returns the rating change for a player scoring score (1 win,
// 0 loss, 0.5 draw) against opponent.
func EloChange(rating, opponent int, score float64) int {
	expected := 1 / (1 + math.Pow(10, float64(opponent-rating)/400))
	return int(math.Round(KFactor * (score - expected)))
}

// RatingUpdater adjusts both participants' ratings once a session ends with a winner.
type RatingUpdater struct {
	repo   Repository
	logger *zap.Logger
}

func NewRatingUpdater(repo Repository, logger *zap.Logger) *RatingUpdater {
	if logger == nil {
		logger = obslog.L()
	}
	return &RatingUpdater{repo: repo, logger: logger}
}

// Hook is a CommitHook. It acts only on the single commit that concludes a
// session with a winner, so it cannot run twice for the same session.
func (u *RatingUpdater) Hook(ctx context.Context, t *Transition) {
	if u == nil || u.repo == nil || !t.Concluded() {
		return
	}
	s := t.Session
	side, ok := s.Status.WinningSide()
	if !ok {
		return
	}
	winnerID, loserID := s.PlayerID(side), s.PlayerID(side.Other())
	if err := u.apply(ctx, winnerID, loserID, s.UpdatedAt); err != nil {
		u.logger.Error("arena_rating_update_error",
			zap.String("session_id", s.ID),
			zap.String("winner", winnerID),
			zap.Error(err),
		)
	}
}

func (u *RatingUpdater) apply(ctx context.Context, winnerID, loserID string, at time.Time) error {
	winner, err := u.load(ctx, winnerID, at)
	if err != nil {
		return err
	}
	loser, err := u.load(ctx, loserID, at)
	if err != nil {
		return err
	}
	wd := EloChange(winner.Rating, loser.Rating, 1)
	ld := EloChange(loser.Rating, winner.Rating, 0)

	winner.Rating += wd
	winner.LastDelta = wd
	winner.Wins++
	winner.GamesPlayed++
	winner.UpdatedAt = at

	loser.Rating += ld
	loser.LastDelta = ld
	loser.Losses++
	loser.GamesPlayed++
	loser.UpdatedAt = at

	if err := u.repo.SaveProfiles(ctx, winner, loser); err != nil {
		return err
	}
	u.logger.Info("arena_rating_update",
		zap.String("winner", winnerID),
		zap.Int("winner_rating", winner.Rating),
		zap.Int("winner_delta", wd),
		zap.String("loser", loserID),
		zap.Int("loser_rating", loser.Rating),
		zap.Int("loser_delta", ld),
	)
	return nil
}

func (u *RatingUpdater) load(ctx context.Context, id string, at time.Time) (*domain.Profile, error) {
	p, err := u.repo.GetProfile(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		p = domain.NewProfile(id, at)
	}
	return p, nil
}

// Archiver stores concluded sessions in the result archive.
type Archiver struct {
	repo   Repository
	logger *zap.Logger
}

func NewArchiver(repo Repository, logger *zap.Logger) *Archiver {
	if logger == nil {
		logger = obslog.L()
	}
	return &Archiver{repo: repo, logger: logger}
}

// Hook is a CommitHook.
func (a *Archiver) Hook(ctx context.Context, t *Transition) {
	if a == nil || a.repo == nil || !t.Concluded() {
		return
	}
	res := ResultOf(t.Session)
	if err := a.repo.SaveResult(ctx, res); err != nil {
		a.logger.Error("arena_result_persist_error", zap.String("session_id", res.SessionID), zap.Error(err))
		return
	}
	a.logger.Info("arena_result_persist",
		zap.String("session_id", res.SessionID),
		zap.String("result", res.PGNResult),
		zap.String("method", res.Method),
	)
}
