package main

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/park285/cheese-arena/internal/auth"
	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/internal/wsclient"
	"github.com/park285/cheese-arena/pkg/chessdto"
)

func inspectCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect",
		Usage: "check a running arena over REST and optionally watch a session",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "api", Value: "http://localhost:8080", Usage: "REST base URL", Sources: cli.EnvVars("ARENA_INSPECT_API")},
			&cli.StringFlag{Name: "ws", Value: "ws://localhost:8081" + wsPath, Usage: "websocket URL", Sources: cli.EnvVars("ARENA_INSPECT_WS")},
			&cli.StringFlag{Name: "token", Usage: "bearer token", Sources: cli.EnvVars("ARENA_INSPECT_TOKEN")},
			&cli.StringFlag{Name: "user", Usage: "user id sent as " + auth.UserHeader},
			&cli.StringFlag{Name: "session", Usage: "session to observe"},
			&cli.IntFlag{Name: "create", Usage: "create a session with this many minutes and observe it"},
			&cli.DurationFlag{Name: "watch", Value: 10 * time.Second, Usage: "how long to print frames"},
		},
		Action: runInspect,
	}
}

func runInspect(ctx context.Context, cmd *cli.Command) error {
	logger, err := obslog.Init(obslog.Options{Level: "info", Format: "console", Console: true})
	if err != nil {
		return err
	}
	token, user := cmd.String("token"), cmd.String("user")
	headers := func() map[string]string {
		h := map[string]string{}
		if token != "" {
			h["Authorization"] = "Bearer " + token
		}
		if user != "" {
			h[auth.UserHeader] = user
		}
		return h
	}

	api := wsclient.NewAPIClient(cmd.String("api"), headers)
	hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = api.Health(hctx)
	cancel()
	if err != nil {
		return fmt.Errorf("health: %w", err)
	}
	logger.Info("inspect_health_ok", zap.String("api", cmd.String("api")))

	sessionID := cmd.String("session")
	if minutes := cmd.Int("create"); minutes > 0 {
		snap, err := api.CreateSession(ctx, minutes)
		if err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		sessionID = snap.SessionID
		logger.Info("inspect_session_created", zap.String("session_id", sessionID), zap.String("fen", snap.FEN))
	}
	if sessionID == "" {
		return nil
	}

	client := wsclient.New(cmd.String("ws"),
		wsclient.WithHeaderProvider(headers),
		wsclient.WithLogger(logger),
	)
	client.OnStateChange(func(s wsclient.State) {
		logger.Info("inspect_ws_state", zap.Stringer("state", s))
	})
	client.OnMessage(func(f *chessdto.Outbound) {
		fmt.Printf("%s %s %s\n", f.Type, f.SessionID, string(f.Data))
	})
	if err := client.Connect(ctx); err != nil {
		_ = client.Close(context.Background())
		return fmt.Errorf("connect: %w", err)
	}
	client.Track(sessionID)
	if err := client.Send(ctx, chessdto.Inbound{Type: chessdto.TypeObserve, SessionID: sessionID}); err != nil {
		_ = client.Close(context.Background())
		return fmt.Errorf("observe: %w", err)
	}

	select {
	case <-ctx.Done():
	case <-time.After(cmd.Duration("watch")):
	}
	cctx, ccancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer ccancel()
	return client.Close(cctx)
}
