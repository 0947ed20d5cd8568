package arena

import (
	"context"
	"errors"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-arena/internal/pvpchess"
	"github.com/park285/cheese-arena/pkg/chessdto"
)

// startClock runs the clock driver for id unless one is already running.
func (o *Orchestrator) startClock(id string, delay time.Duration) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return false
	}
	lc := o.lifecycles.acquireLocked(id)
	if lc.run != nil {
		lc.mu.Unlock()
		return false
	}
	ctx, cancel := context.WithCancel(o.root)
	run := &clockRun{cancel: cancel}
	lc.run = run
	lc.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.lifecycles.dropIdle(id, lc)
		defer cancel()
		defer lc.clearRun(run)
		o.runClock(ctx, id, delay)
	}()
	return true
}

func (o *Orchestrator) runClock(ctx context.Context, id string, delay time.Duration) {
	if delay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-o.clock.After(delay):
		}
	}
	o.logger.Debug("arena_clock_start", zap.String("session_id", id))
	ticker := o.clock.NewTicker(o.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if !o.clockTick(ctx, id) {
				o.logger.Debug("arena_clock_stop", zap.String("session_id", id))
				return
			}
		}
	}
}

// clockTick performs one tick and reports whether the driver should continue.
// Inactivity is judged before the clock is charged, so when both would end
// the session on the same tick the result is abandonment.
func (o *Orchestrator) clockTick(ctx context.Context, id string) bool {
	s, err := o.store.Load(ctx, id)
	if err != nil {
		if errors.Is(err, pvpchess.ErrSessionNotFound) {
			return false
		}
		o.logger.Warn("arena_clock_load_error", zap.String("session_id", id), zap.Error(err))
		return true
	}
	if s.Status != pvpchess.StatusActive {
		return false
	}

	if final, stop := o.checkInactivity(ctx, s); stop {
		o.broadcastClock(ctx, id, final)
		return false
	}

	tr, err := o.mutator.Apply(ctx, id, "", pvpchess.Intent{Kind: pvpchess.IntentTick, Elapsed: o.cfg.tickSeconds()})
	if err != nil {
		o.broadcastClock(ctx, id, nil)
		if pvpchess.IsReason(err, pvpchess.ReasonNotActive) || pvpchess.IsReason(err, pvpchess.ReasonSessionNotFound) {
			return false
		}
		o.logger.Warn("arena_clock_tick_error", zap.String("session_id", id), zap.Error(err))
		return true
	}
	o.broadcastClock(ctx, id, tr.Session)
	if tr.Session.Status.Terminal() {
		o.logger.Info("arena_clock_timeout",
			zap.String("session_id", id),
			zap.String("status", string(tr.Session.Status)),
			zap.String("winner", tr.Session.Winner),
		)
		return false
	}
	return true
}

// checkInactivity abandons the session when the side to move has been idle
// past its threshold, and emits an advisory once idleness passes the
// advisory ratio. stop reports whether the driver must terminate.
func (o *Orchestrator) checkInactivity(ctx context.Context, s *pvpchess.Session) (final *pvpchess.Session, stop bool) {
	now := o.clock.Now()
	started := s.StartedAt
	if started.IsZero() {
		started = s.CreatedAt
	}
	if now.Sub(started) < o.cfg.InactivityGrace {
		return nil, false
	}
	mover := s.PlayerID(s.Turn)
	last, ok := o.tracker.LastSeen(s.ID, mover)
	if !ok {
		return nil, false
	}
	idle := now.Sub(last)
	limit := o.cfg.InactivityLimit(s.Allotment())

	if idle > limit {
		tr, err := o.mutator.Apply(ctx, s.ID, "", pvpchess.Intent{
			Kind:          pvpchess.IntentAbandon,
			Reason:        pvpchess.AbandonInactivity,
			ExpectVersion: s.Version,
		})
		if err != nil {
			if pvpchess.IsReason(err, pvpchess.ReasonNotActive) {
				return nil, true
			}
			if pvpchess.IsReason(err, pvpchess.ReasonStateChanged) {
				// a commit landed after the load; judge again next tick
				return nil, false
			}
			o.logger.Warn("arena_inactivity_abandon_error", zap.String("session_id", s.ID), zap.Error(err))
			return nil, false
		}
		o.logger.Info("arena_inactivity_abandon",
			zap.String("session_id", s.ID),
			zap.String("participant", mover),
			zap.Duration("idle", idle),
			zap.Duration("limit", limit),
		)
		return tr.Session, true
	}

	if float64(idle) >= float64(limit)*o.cfg.AdvisoryRatio {
		remaining := int(math.Ceil((limit - idle).Seconds()))
		adv := chessdto.InactivityAdvisory{Participant: mover, SecondsRemaining: remaining}
		if o.messages != nil {
			if text, err := o.messages.Render("advisory.inactivity", map[string]any{"Seconds": remaining}); err == nil {
				adv.Message = text
			}
		}
		o.publish(s.ID, chessdto.TypeInactivityAdvisory, adv)
	}
	return nil, false
}

// broadcastClock sends both counters. Without a known state it reloads.
func (o *Orchestrator) broadcastClock(ctx context.Context, id string, s *pvpchess.Session) {
	if s == nil {
		cur, err := o.store.Load(ctx, id)
		if err != nil {
			o.logger.Warn("arena_clock_broadcast_load_error", zap.String("session_id", id), zap.Error(err))
			return
		}
		s = cur
	}
	o.publish(id, chessdto.TypeClockUpdate, clockUpdateOf(s))
}
