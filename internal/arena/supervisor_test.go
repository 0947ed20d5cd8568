package arena

import (
	"context"
	"testing"
	"time"

	"github.com/park285/cheese-arena/internal/pvpchess"
	"github.com/park285/cheese-arena/pkg/chessdto"
)

func TestDisconnect_ExpiresAfterGrace(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	s := h.active(t, 5)

	h.o.Disconnect(ctx, "black-1", s.ID)
	if !h.o.DisconnectPending(s.ID) {
		t.Fatalf("expected pending disconnection")
	}
	h.fc.Advance(5*time.Minute - time.Second)
	if got := h.load(t, s.ID); got.Status != pvpchess.StatusActive {
		t.Fatalf("abandoned before grace elapsed: %s", got.Status)
	}
	h.fc.Advance(time.Second)
	eventually(t, func() bool {
		return h.load(t, s.ID).Status == pvpchess.StatusAbandoned
	}, "disconnect abandonment")

	eventually(t, func() bool { return len(h.pub.ofType(chessdto.TypeSessionConcluded)) == 1 }, "conclusion broadcast")
	var c chessdto.SessionConcluded
	_ = h.pub.ofType(chessdto.TypeSessionConcluded)[0].Decode(&c)
	if c.Reason != pvpchess.AbandonDisconnect || c.Winner != "" {
		t.Fatalf("unexpected conclusion: %+v", c)
	}
}

func TestReconnect_CancelsPendingDisconnect(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	s := h.active(t, 5)

	h.o.Disconnect(ctx, "black-1", s.ID)
	h.fc.Advance(4 * time.Minute)
	got, err := h.o.Reconnect(ctx, "black-1", s.ID)
	if err != nil {
		t.Fatalf("Reconnect: %v", err)
	}
	if got.ID != s.ID || got.Status != pvpchess.StatusActive {
		t.Fatalf("unexpected snapshot: %+v", got)
	}
	if h.o.DisconnectPending(s.ID) {
		t.Fatalf("reconnect must cancel the pending disconnection")
	}
	h.fc.Advance(2 * time.Minute)
	time.Sleep(20 * time.Millisecond)
	if got := h.load(t, s.ID); got.Status != pvpchess.StatusActive {
		t.Fatalf("cancelled disconnection still fired: %s", got.Status)
	}
}

func TestReconnect_ObserverDoesNotCancel(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	s := h.active(t, 5)

	h.o.Disconnect(ctx, "white-1", s.ID)
	if _, err := h.o.Reconnect(ctx, "spectator", s.ID); err != nil {
		t.Fatalf("Reconnect: %v", err)
	}
	if !h.o.DisconnectPending(s.ID) {
		t.Fatalf("only a participant may cancel a pending disconnection")
	}
}

func TestDisconnect_IgnoredOutsideActiveSessions(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	pending, err := h.o.Create(ctx, "white-1", 5)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	h.o.Disconnect(ctx, "white-1", pending.ID)
	if h.o.DisconnectPending(pending.ID) {
		t.Fatalf("pending sessions are not supervised")
	}

	s := h.active(t, 5)
	h.o.Disconnect(ctx, "spectator", s.ID)
	if h.o.DisconnectPending(s.ID) {
		t.Fatalf("non-participants are not supervised")
	}
}

func TestDisconnect_RescheduleReplacesTimer(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	s := h.active(t, 5)

	h.o.Disconnect(ctx, "white-1", s.ID)
	h.fc.Advance(3 * time.Minute)
	h.o.Disconnect(ctx, "white-1", s.ID)
	h.fc.Advance(3 * time.Minute)
	time.Sleep(20 * time.Millisecond)
	if got := h.load(t, s.ID); got.Status != pvpchess.StatusActive {
		t.Fatalf("replaced timer fired: %s", got.Status)
	}
	h.fc.Advance(2 * time.Minute)
	eventually(t, func() bool {
		return h.load(t, s.ID).Status == pvpchess.StatusAbandoned
	}, "rescheduled abandonment")
}

func TestExpire_StaleClaimIsNoop(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	s := h.active(t, 5)

	h.o.Disconnect(ctx, "white-1", s.ID)
	lc, _ := h.o.lifecycles.lookup(s.ID)
	lc.mu.Lock()
	p := lc.pending
	lc.mu.Unlock()

	h.o.cancelDisconnect(s.ID)
	h.o.expireDisconnect(s.ID, lc, p)
	if got := h.load(t, s.ID); got.Status != pvpchess.StatusActive {
		t.Fatalf("cancelled entry must not abandon: %s", got.Status)
	}
}

func TestLifecycle_LateTasksOnConcludedSessionLeaveNothing(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	s := h.active(t, 5)
	if _, err := h.o.Resign(ctx, "white-1", s.ID); err != nil {
		t.Fatalf("Resign: %v", err)
	}
	if h.o.lifecycles.size() != 0 {
		t.Fatalf("conclusion should release the lifecycle")
	}

	// Both arrive after a caller read the session as still active.
	h.o.scheduleDisconnect(s.ID, "black-1")
	if !h.o.startClock(s.ID, 0) {
		t.Fatalf("expected a driver to start")
	}
	eventually(t, func() bool {
		h.fc.Advance(time.Minute)
		return h.o.lifecycles.size() == 0
	}, "late lifecycle removed")
	if got := h.load(t, s.ID); got.Status != pvpchess.StatusBlackWinsResignation {
		t.Fatalf("concluded session must stay concluded: %s", got.Status)
	}
}
