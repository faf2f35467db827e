package challenge

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/seonghun126/algoduel-bot/internal/domain"
)

// PostgresStore implements Store on database/sql.
type PostgresStore struct {
	db *sql.DB
}

// OpenDB opens and pings a Postgres connection pool shared by the stores.
func OpenDB(databaseURL string) (*sql.DB, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return db, nil
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the challenge tables when missing. DDL is idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS challenges (
			id             TEXT PRIMARY KEY,
			server_id      TEXT NOT NULL,
			channel_id     TEXT NOT NULL,
			message_id     TEXT NOT NULL DEFAULT '',
			host_user_id   TEXT NOT NULL,
			contest_id     INTEGER NOT NULL,
			problem_index  TEXT NOT NULL,
			problem_name   TEXT NOT NULL,
			problem_rating INTEGER NOT NULL,
			length_minutes INTEGER NOT NULL,
			started_at     TIMESTAMPTZ NOT NULL,
			ends_at        TIMESTAMPTZ NOT NULL,
			status         TEXT NOT NULL,
			check_index    INTEGER NOT NULL DEFAULT 0,
			cancelled_by   TEXT NOT NULL DEFAULT '',
			created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_challenges_status_server
			ON challenges (status, server_id);
		CREATE TABLE IF NOT EXISTS challenge_participants (
			challenge_id  TEXT NOT NULL REFERENCES challenges(id),
			user_id       TEXT NOT NULL,
			position      INTEGER NOT NULL,
			solved_at     TIMESTAMPTZ,
			rating_before INTEGER,
			rating_delta  INTEGER,
			PRIMARY KEY (challenge_id, user_id)
		);`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *PostgresStore) InsertChallenge(ctx context.Context, ch *domain.Challenge) error {
	if ch == nil {
		return fmt.Errorf("nil challenge payload")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const chq = `
		INSERT INTO challenges (
			id, server_id, channel_id, message_id, host_user_id,
			contest_id, problem_index, problem_name, problem_rating,
			length_minutes, started_at, ends_at, status, check_index
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`
	if _, err := tx.ExecContext(ctx, chq,
		ch.ID, ch.ServerID, ch.ChannelID, ch.MessageID, ch.HostUserID,
		ch.Problem.Ref.ContestID, ch.Problem.Ref.Index, ch.Problem.Name, ch.Problem.Rating,
		ch.LengthMinutes, ch.StartedAt, ch.EndsAt, string(ch.Status), ch.CheckIndex,
	); err != nil {
		return fmt.Errorf("insert challenge row: %w", err)
	}

	const pq = `
		INSERT INTO challenge_participants (challenge_id, user_id, position, rating_before)
		VALUES ($1,$2,$3,$4)`
	for _, p := range ch.Participants {
		if _, err := tx.ExecContext(ctx, pq, ch.ID, p.UserID, p.Position, nullableInt(p.RatingBefore)); err != nil {
			return fmt.Errorf("insert participant row: %w", err)
		}
	}
	return tx.Commit()
}

func (s *PostgresStore) GetChallenge(ctx context.Context, id string) (*domain.Challenge, error) {
	chs, err := s.queryChallenges(ctx, `WHERE c.id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(chs) == 0 {
		return nil, nil
	}
	return chs[0], nil
}

func (s *PostgresStore) ListActive(ctx context.Context, serverID string) ([]*domain.Challenge, error) {
	if strings.TrimSpace(serverID) == "" {
		return s.queryChallenges(ctx, `WHERE c.status = $1 ORDER BY c.started_at`, string(domain.StatusActive))
	}
	return s.queryChallenges(ctx,
		`WHERE c.status = $1 AND c.server_id = $2 ORDER BY c.started_at`,
		string(domain.StatusActive), serverID)
}

func (s *PostgresStore) ListRecentCompleted(ctx context.Context, serverID string, limit int) ([]*domain.Challenge, error) {
	if limit <= 0 {
		limit = 5
	}
	return s.queryChallenges(ctx,
		`WHERE c.status = $1 AND c.server_id = $2 ORDER BY c.ends_at DESC LIMIT $3`,
		string(domain.StatusCompleted), serverID, limit)
}

// UpdateStatus transitions an ACTIVE challenge. The WHERE guard makes the
// write a compare-and-set so a concurrent cancel/finalize cannot be clobbered.
func (s *PostgresStore) UpdateStatus(ctx context.Context, id string, status domain.ChallengeStatus, cancelledBy string) (bool, error) {
	const q = `
		UPDATE challenges SET status = $2, cancelled_by = $3
		WHERE id = $1 AND status = $4`
	res, err := s.db.ExecContext(ctx, q, id, string(status), cancelledBy, string(domain.StatusActive))
	if err != nil {
		return false, fmt.Errorf("update status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *PostgresStore) UpdateCheckIndex(ctx context.Context, id string, index int) error {
	const q = `UPDATE challenges SET check_index = $2 WHERE id = $1`
	if _, err := s.db.ExecContext(ctx, q, id, index); err != nil {
		return fmt.Errorf("update check index: %w", err)
	}
	return nil
}

// MarkSolved is one-shot: the solved_at IS NULL guard keeps a second write
// from ever overwriting a recorded solve or its delta.
func (s *PostgresStore) MarkSolved(ctx context.Context, challengeID, userID string, solvedAt time.Time, ratingDelta *int) error {
	const q = `
		UPDATE challenge_participants
		SET solved_at = $3, rating_delta = $4
		WHERE challenge_id = $1 AND user_id = $2 AND solved_at IS NULL`
	if _, err := s.db.ExecContext(ctx, q, challengeID, userID, solvedAt, nullableInt(ratingDelta)); err != nil {
		return fmt.Errorf("mark solved: %w", err)
	}
	return nil
}

// SetPenalty writes the penalty delta once for a participant who never solved.
func (s *PostgresStore) SetPenalty(ctx context.Context, challengeID, userID string, ratingDelta int) error {
	const q = `
		UPDATE challenge_participants
		SET rating_delta = $3
		WHERE challenge_id = $1 AND user_id = $2
		  AND solved_at IS NULL AND rating_delta IS NULL`
	if _, err := s.db.ExecContext(ctx, q, challengeID, userID, ratingDelta); err != nil {
		return fmt.Errorf("set penalty: %w", err)
	}
	return nil
}

func (s *PostgresStore) queryChallenges(ctx context.Context, where string, args ...any) ([]*domain.Challenge, error) {
	q := `
		SELECT
			c.id, c.server_id, c.channel_id, c.message_id, c.host_user_id,
			c.contest_id, c.problem_index, c.problem_name, c.problem_rating,
			c.length_minutes, c.started_at, c.ends_at, c.status, c.check_index,
			c.cancelled_by
		FROM challenges c ` + where

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("select challenges: %w", err)
	}
	defer rows.Close()

	var (
		out []*domain.Challenge
		ids []string
	)
	byID := make(map[string]*domain.Challenge)
	for rows.Next() {
		var (
			ch     domain.Challenge
			status string
		)
		if err := rows.Scan(
			&ch.ID, &ch.ServerID, &ch.ChannelID, &ch.MessageID, &ch.HostUserID,
			&ch.Problem.Ref.ContestID, &ch.Problem.Ref.Index, &ch.Problem.Name, &ch.Problem.Rating,
			&ch.LengthMinutes, &ch.StartedAt, &ch.EndsAt, &status, &ch.CheckIndex,
			&ch.CancelledBy,
		); err != nil {
			return nil, fmt.Errorf("scan challenge: %w", err)
		}
		ch.Status = domain.ChallengeStatus(status)
		out = append(out, &ch)
		ids = append(ids, ch.ID)
		byID[ch.ID] = &ch
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return out, nil
	}
	if err := s.loadParticipants(ctx, ids, byID); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) loadParticipants(ctx context.Context, ids []string, byID map[string]*domain.Challenge) error {
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	q := `
		SELECT challenge_id, user_id, position, solved_at, rating_before, rating_delta
		FROM challenge_participants
		WHERE challenge_id IN (` + strings.Join(placeholders, ",") + `)
		ORDER BY challenge_id, position`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("select participants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			p        domain.Participant
			solvedAt sql.NullTime
			before   sql.NullInt64
			delta    sql.NullInt64
		)
		if err := rows.Scan(&p.ChallengeID, &p.UserID, &p.Position, &solvedAt, &before, &delta); err != nil {
			return fmt.Errorf("scan participant: %w", err)
		}
		if solvedAt.Valid {
			t := solvedAt.Time
			p.SolvedAt = &t
		}
		if before.Valid {
			v := int(before.Int64)
			p.RatingBefore = &v
		}
		if delta.Valid {
			v := int(delta.Int64)
			p.RatingDelta = &v
		}
		ch, ok := byID[p.ChallengeID]
		if !ok {
			return errors.New("participant row without challenge")
		}
		ch.Participants = append(ch.Participants, &p)
	}
	return rows.Err()
}

func nullableInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
