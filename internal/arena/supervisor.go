package arena

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-arena/internal/pvpchess"
)

const expireTimeout = 10 * time.Second

// scheduleDisconnect replaces any pending disconnection of id with a new one
// that abandons the session after the grace period.
func (o *Orchestrator) scheduleDisconnect(id, participant string) {
	lc := o.lifecycles.acquireLocked(id)
	defer lc.mu.Unlock()
	if lc.pending != nil {
		lc.pending.timer.Stop()
	}
	p := &pendingDisconnect{participant: participant}
	p.timer = o.clock.AfterFunc(o.cfg.DisconnectGrace, func() { o.expireDisconnect(id, lc, p) })
	lc.pending = p
	o.logger.Info("arena_disconnect_scheduled",
		zap.String("session_id", id),
		zap.String("participant", participant),
		zap.Duration("grace", o.cfg.DisconnectGrace),
	)
}

// cancelDisconnect is idempotent.
func (o *Orchestrator) cancelDisconnect(id string) bool {
	lc, ok := o.lifecycles.lookup(id)
	if !ok {
		return false
	}
	if !lc.cancelPending() {
		return false
	}
	o.lifecycles.dropIdle(id, lc)
	o.logger.Info("arena_disconnect_cancelled", zap.String("session_id", id))
	return true
}

// expireDisconnect runs on the timer. A cancel either removed p before the
// claim, in which case nothing happens, or arrives after the claim and finds
// nothing to cancel.
func (o *Orchestrator) expireDisconnect(id string, lc *lifecycle, p *pendingDisconnect) {
	if !lc.claim(p) {
		return
	}
	defer o.lifecycles.dropIdle(id, lc)
	ctx, cancel := context.WithTimeout(o.root, expireTimeout)
	defer cancel()
	s, err := o.store.Load(ctx, id)
	if err != nil {
		o.logger.Warn("arena_disconnect_load_error", zap.String("session_id", id), zap.Error(err))
		return
	}
	if s.Status != pvpchess.StatusActive {
		return
	}
	if _, err := o.mutator.Apply(ctx, id, "", pvpchess.Intent{Kind: pvpchess.IntentAbandon, Reason: pvpchess.AbandonDisconnect}); err != nil {
		if !pvpchess.IsReason(err, pvpchess.ReasonNotActive) {
			o.logger.Warn("arena_disconnect_abandon_error", zap.String("session_id", id), zap.Error(err))
		}
		return
	}
	o.logger.Info("arena_disconnect_abandon", zap.String("session_id", id), zap.String("participant", p.participant))
}

// DisconnectPending reports whether id has a disconnection waiting to expire.
func (o *Orchestrator) DisconnectPending(id string) bool {
	lc, ok := o.lifecycles.lookup(id)
	if !ok {
		return false
	}
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.pending != nil
}
