package wsclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/cheese-arena/pkg/chessdto"
)

type received struct {
	conn  int32
	frame chessdto.Inbound
}

func TestClient_ResyncsTrackedSessionsAfterDrop(t *testing.T) {
	var conns atomic.Int32
	got := make(chan received, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-User-ID") != "u1" {
			http.Error(w, "no", http.StatusUnauthorized)
			return
		}
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		n := conns.Add(1)
		ctx := r.Context()
		for {
			var in chessdto.Inbound
			if err := wsjson.Read(ctx, ws, &in); err != nil {
				return
			}
			got <- received{conn: n, frame: in}
			if n == 1 {
				_ = ws.Close(websocket.StatusGoingAway, "restart")
				return
			}
			out, _ := chessdto.NewOutbound(chessdto.TypeSessionState, in.SessionID, chessdto.Snapshot{SessionID: in.SessionID})
			_ = wsjson.Write(ctx, ws, out)
		}
	}))
	defer srv.Close()

	c := New("ws"+strings.TrimPrefix(srv.URL, "http"),
		WithHeaderProvider(func() map[string]string { return map[string]string{"X-User-ID": "u1"} }),
		WithReconnect(5, 10*time.Millisecond),
	)
	frames := make(chan chessdto.Outbound, 4)
	c.OnMessage(func(f *chessdto.Outbound) { frames <- *f })
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = c.Close(ctx)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	c.Track("s1")
	if err := c.Send(ctx, chessdto.Inbound{Type: chessdto.TypeObserve, SessionID: "s1"}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	first := <-got
	if first.conn != 1 || first.frame.Type != chessdto.TypeObserve {
		t.Fatalf("unexpected first frame: %+v", first)
	}
	select {
	case r := <-got:
		if r.conn != 2 || r.frame.Type != chessdto.TypeReconnect || r.frame.SessionID != "s1" {
			t.Fatalf("expected reconnect on the new connection, got %+v", r)
		}
	case <-ctx.Done():
		t.Fatalf("client never resynced")
	}
	select {
	case f := <-frames:
		if f.Type != chessdto.TypeSessionState {
			t.Fatalf("unexpected frame %+v", f)
		}
	case <-ctx.Done():
		t.Fatalf("no snapshot delivered")
	}
	if c.State() != StateConnected {
		t.Fatalf("expected connected, got %s", c.State())
	}
}

func TestClient_SendWithoutConnection(t *testing.T) {
	c := New("ws://127.0.0.1:1", WithReconnect(0, 0))
	if err := c.Send(context.Background(), chessdto.Inbound{Type: chessdto.TypeHeartbeat}); err != ErrNotConnected {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.Connect(ctx); err == nil {
		t.Fatalf("expected dial error")
	}
	if c.State() != StateFailed {
		t.Fatalf("expected failed state, got %s", c.State())
	}
}

func TestAPIClient(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/sessions":
			var body map[string]int
			_ = json.NewDecoder(r.Body).Decode(&body)
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(chessdto.Snapshot{SessionID: "s1", TimeControl: body["time_control"]})
		case r.URL.Path == "/api/sessions/flaky":
			if calls.Add(1) < 2 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			_ = json.NewEncoder(w).Encode(chessdto.Snapshot{SessionID: "flaky"})
		case r.URL.Path == "/api/sessions/missing":
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(chessdto.DomainError{Code: "NOT_FOUND", Reason: "session_not_found"})
		default:
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		}
	}))
	defer srv.Close()

	api := NewAPIClient(srv.URL, nil)
	ctx := context.Background()

	snap, err := api.CreateSession(ctx, 7)
	if err != nil || snap.SessionID != "s1" || snap.TimeControl != 7 {
		t.Fatalf("CreateSession = %+v, %v", snap, err)
	}
	if snap, err := api.GetSession(ctx, "flaky"); err != nil || snap.SessionID != "flaky" {
		t.Fatalf("retry should recover from 503: %+v, %v", snap, err)
	}
	_, err = api.GetSession(ctx, "missing")
	if !IsStatus(err, http.StatusNotFound) {
		t.Fatalf("expected 404 APIError, got %v", err)
	}
	if err := api.Health(ctx); err != nil {
		t.Fatalf("Health: %v", err)
	}
}
