package arena

import (
	"context"
	"fmt"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/park285/cheese-arena/internal/pvpchess"
)

// SweepReport summarizes one sweep pass.
type SweepReport struct {
	Candidates int
	Refreshed  int
	Abandoned  int
	Skipped    int
	Failed     int
}

// Sweep abandons active sessions nobody has touched within StaleAfter. A
// session whose participant was seen recently only has its timestamp
// refreshed. Running it twice has the same effect as running it once.
func (o *Orchestrator) Sweep(ctx context.Context) (SweepReport, error) {
	var rep SweepReport
	cutoff := o.clock.Now().Add(-o.cfg.StaleAfter)
	ids, err := o.store.ListActive(ctx, cutoff, o.cfg.SweepBatch)
	if err != nil {
		return rep, fmt.Errorf("list stale sessions: %w", err)
	}
	rep.Candidates = len(ids)

	for _, id := range ids {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		s, err := o.store.Load(ctx, id)
		if err != nil {
			rep.Skipped++
			continue
		}
		// StaleBefore makes the commit refuse a session written since selection.
		in := pvpchess.Intent{Kind: pvpchess.IntentAbandon, Reason: pvpchess.AbandonStale, StaleBefore: cutoff}
		if o.tracker.FreshSince(id, s.WhiteID, cutoff) || o.tracker.FreshSince(id, s.BlackID, cutoff) {
			in = pvpchess.Intent{Kind: pvpchess.IntentTouch, StaleBefore: cutoff}
		}
		if _, err := o.mutator.Apply(ctx, id, "", in); err != nil {
			rej := pvpchess.Classify(err)
			if rej.Kind == pvpchess.KindRule || rej.Kind == pvpchess.KindNotFound {
				rep.Skipped++
				continue
			}
			rep.Failed++
			o.logger.Warn("arena_sweep_error", zap.String("session_id", id), zap.Error(err))
			continue
		}
		if in.Kind == pvpchess.IntentTouch {
			rep.Refreshed++
		} else {
			rep.Abandoned++
		}
	}
	if rep.Candidates > 0 {
		o.logger.Info("arena_sweep",
			zap.Int("candidates", rep.Candidates),
			zap.Int("refreshed", rep.Refreshed),
			zap.Int("abandoned", rep.Abandoned),
			zap.Int("skipped", rep.Skipped),
			zap.Int("failed", rep.Failed),
		)
	}
	return rep, nil
}

// Sweeper runs Sweep periodically on a gocron scheduler.
type Sweeper struct {
	sched gocron.Scheduler
	o     *Orchestrator
}

func NewSweeper(o *Orchestrator) (*Sweeper, error) {
	sched, err := gocron.NewScheduler(
		gocron.WithClock(o.clock),
		gocron.WithLogger(schedLogger{o.logger.Sugar()}),
	)
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	sw := &Sweeper{sched: sched, o: o}
	_, err = sched.NewJob(
		gocron.DurationJob(o.cfg.SweepInterval),
		gocron.NewTask(sw.run),
		gocron.WithName("arena-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return nil, fmt.Errorf("schedule sweep: %w", err)
	}
	return sw, nil
}

func (sw *Sweeper) run() {
	ctx, cancel := context.WithTimeout(sw.o.root, sw.o.cfg.SweepInterval)
	defer cancel()
	if _, err := sw.o.Sweep(ctx); err != nil {
		sw.o.logger.Warn("arena_sweep_failed", zap.Error(err))
	}
}

func (sw *Sweeper) Start() { sw.sched.Start() }

func (sw *Sweeper) Stop() error { return sw.sched.Shutdown() }

// schedLogger adapts zap to gocron.Logger.
type schedLogger struct{ s *zap.SugaredLogger }

func (l schedLogger) Debug(msg string, args ...any) { l.s.Debugw(msg, args...) }
func (l schedLogger) Info(msg string, args ...any)  { l.s.Infow(msg, args...) }
func (l schedLogger) Warn(msg string, args ...any)  { l.s.Warnw(msg, args...) }
func (l schedLogger) Error(msg string, args ...any) { l.s.Errorw(msg, args...) }
