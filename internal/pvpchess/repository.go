package pvpchess

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/park285/cheese-arena/internal/domain"
)

// Repository persists player profiles and the archive of concluded sessions.
type Repository interface {
	// GetProfile returns nil, nil when the player has no profile yet.
	GetProfile(ctx context.Context, playerID string) (*domain.Profile, error)
	// SaveProfiles writes all profiles atomically.
	SaveProfiles(ctx context.Context, profiles ...*domain.Profile) error
	SaveResult(ctx context.Context, r *domain.Result) error
	Close() error
}

// PostgresRepository is the lib/pq backed Repository.
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(ctx context.Context, databaseURL string) (*PostgresRepository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresRepository{db: db}, nil
}

func (r *PostgresRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS arena_profiles (
	player_id    TEXT PRIMARY KEY,
	rating       INTEGER NOT NULL,
	games_played INTEGER NOT NULL DEFAULT 0,
	wins         INTEGER NOT NULL DEFAULT 0,
	losses       INTEGER NOT NULL DEFAULT 0,
	draws        INTEGER NOT NULL DEFAULT 0,
	last_delta   INTEGER NOT NULL DEFAULT 0,
	updated_at   TIMESTAMPTZ NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS arena_results (
	session_id    TEXT PRIMARY KEY,
	white_id      TEXT NOT NULL,
	black_id      TEXT NOT NULL,
	time_control  INTEGER NOT NULL,
	status        TEXT NOT NULL,
	result        TEXT NOT NULL,
	result_method TEXT NOT NULL,
	winner        TEXT NOT NULL DEFAULT '',
	moves_uci     JSONB NOT NULL,
	moves_san     JSONB NOT NULL,
	pgn           TEXT NOT NULL,
	started_at    TIMESTAMPTZ,
	ended_at      TIMESTAMPTZ NOT NULL,
	duration_ms   BIGINT NOT NULL
);`

// Migrate creates the tables if they do not exist.
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetProfile(ctx context.Context, playerID string) (*domain.Profile, error) {
	const query = `
		SELECT player_id, rating, games_played, wins, losses, draws, last_delta, updated_at, created_at
		FROM arena_profiles
		WHERE player_id = $1`
	var p domain.Profile
	err := r.db.QueryRowContext(ctx, query, playerID).Scan(
		&p.PlayerID,
		&p.Rating,
		&p.GamesPlayed,
		&p.Wins,
		&p.Losses,
		&p.Draws,
		&p.LastDelta,
		&p.UpdatedAt,
		&p.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select profile: %w", err)
	}
	return &p, nil
}

func (r *PostgresRepository) SaveProfiles(ctx context.Context, profiles ...*domain.Profile) error {
	const query = `
		INSERT INTO arena_profiles (
			player_id, rating, games_played, wins, losses, draws, last_delta, updated_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (player_id) DO UPDATE SET
			rating = EXCLUDED.rating,
			games_played = EXCLUDED.games_played,
			wins = EXCLUDED.wins,
			losses = EXCLUDED.losses,
			draws = EXCLUDED.draws,
			last_delta = EXCLUDED.last_delta,
			updated_at = EXCLUDED.updated_at`

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	for _, p := range profiles {
		if p == nil {
			continue
		}
		if _, err := tx.ExecContext(ctx, query,
			p.PlayerID, p.Rating, p.GamesPlayed, p.Wins, p.Losses, p.Draws, p.LastDelta, p.UpdatedAt, p.CreatedAt,
		); err != nil {
			return fmt.Errorf("upsert profile %s: %w", p.PlayerID, err)
		}
	}
	return tx.Commit()
}

// SaveResult upserts a concluded session into the archive.
func (r *PostgresRepository) SaveResult(ctx context.Context, res *domain.Result) error {
	if res == nil {
		return nil
	}
	movesUCI, _ := json.Marshal(res.MovesUCI)
	movesSAN, _ := json.Marshal(res.MovesSAN)
	var started sql.NullTime
	if !res.StartedAt.IsZero() {
		started = sql.NullTime{Time: res.StartedAt, Valid: true}
	}

	q := `INSERT INTO arena_results (
		session_id, white_id, black_id, time_control, status,
		result, result_method, winner, moves_uci, moves_san, pgn,
		started_at, ended_at, duration_ms
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
	) ON CONFLICT (session_id) DO UPDATE SET
		status=EXCLUDED.status,
		result=EXCLUDED.result,
		result_method=EXCLUDED.result_method,
		winner=EXCLUDED.winner,
		moves_uci=EXCLUDED.moves_uci,
		moves_san=EXCLUDED.moves_san,
		pgn=EXCLUDED.pgn,
		ended_at=EXCLUDED.ended_at,
		duration_ms=EXCLUDED.duration_ms`

	_, err := r.db.ExecContext(ctx, q,
		res.SessionID, res.WhiteID, res.BlackID, res.TimeControl, res.Status,
		res.PGNResult, res.Method, res.Winner, string(movesUCI), string(movesSAN), res.PGN,
		started, res.EndedAt, res.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("save result %s: %w", res.SessionID, err)
	}
	return nil
}

// ResultOf builds the archive record of a concluded session.
func ResultOf(s *Session) *domain.Result {
	if s == nil {
		return nil
	}
	res := &domain.Result{
		SessionID:   s.ID,
		WhiteID:     s.WhiteID,
		BlackID:     s.BlackID,
		TimeControl: s.TimeControl,
		Status:      string(s.Status),
		Method:      s.Status.Method(),
		Winner:      s.Winner,
		PGNResult:   pgnResult(s.Status),
		MovesUCI:    s.History(),
		MovesSAN:    s.SANs(),
		StartedAt:   s.StartedAt,
		EndedAt:     s.UpdatedAt,
	}
	if !s.StartedAt.IsZero() {
		if d := s.UpdatedAt.Sub(s.StartedAt); d > 0 {
			res.Duration = d
		}
	}
	res.PGN = buildPGN(s, res.PGNResult)
	return res
}

func pgnResult(st Status) string {
	if side, ok := st.WinningSide(); ok {
		if side == White {
			return "1-0"
		}
		return "0-1"
	}
	switch st {
	case StatusDraw, StatusStalemate:
		return "1/2-1/2"
	}
	return "*"
}

func buildPGN(s *Session, result string) string {
	var b strings.Builder
	date := s.UpdatedAt
	if date.IsZero() {
		date = time.Now()
	}
	b.WriteString("[Event \"Arena PvP\"]\n")
	b.WriteString("[Site \"cheese-arena\"]\n")
	b.WriteString(fmt.Sprintf("[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day()))
	b.WriteString(fmt.Sprintf("[White \"%s\"]\n", sanitizePGN(s.WhiteID)))
	b.WriteString(fmt.Sprintf("[Black \"%s\"]\n", sanitizePGN(s.BlackID)))
	b.WriteString(fmt.Sprintf("[TimeControl \"%d\"]\n", s.TimeControl*60))
	if m := s.Status.Method(); m != "" {
		b.WriteString(fmt.Sprintf("[Termination \"%s\"]\n", m))
	}
	b.WriteString(fmt.Sprintf("[Result \"%s\"]\n\n", result))

	sans := s.SANs()
	for i := 0; i < len(sans); i += 2 {
		b.WriteString(fmt.Sprintf("%d. %s", i/2+1, strings.TrimSpace(sans[i])))
		if i+1 < len(sans) {
			b.WriteString(" ")
			b.WriteString(strings.TrimSpace(sans[i+1]))
		}
		b.WriteString(" ")
	}
	b.WriteString(result)
	return b.String()
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}
