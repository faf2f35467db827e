package profile

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/seonghun126/algoduel-bot/internal/domain"
)

// PostgresStore persists per-user profile data: judge handle, duel rating and
// the solve history used to avoid recommending a problem twice. Streaks are
// not stored; they are derived from challenge participant rows on demand.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS profiles (
			server_id  TEXT NOT NULL,
			user_id    TEXT NOT NULL,
			handle     TEXT NOT NULL DEFAULT '',
			rating     INTEGER,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (server_id, user_id)
		);
		CREATE TABLE IF NOT EXISTS solve_history (
			server_id   TEXT NOT NULL,
			user_id     TEXT NOT NULL,
			problem_key TEXT NOT NULL,
			added_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (server_id, user_id, problem_key)
		);`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// GetRating returns nil when the user has no profile row or no rating yet.
func (s *PostgresStore) GetRating(ctx context.Context, serverID, userID string) (*int, error) {
	const q = `SELECT rating FROM profiles WHERE server_id = $1 AND user_id = $2`
	var rating sql.NullInt64
	err := s.db.QueryRowContext(ctx, q, serverID, userID).Scan(&rating)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select rating: %w", err)
	}
	if !rating.Valid {
		return nil, nil
	}
	v := int(rating.Int64)
	return &v, nil
}

func (s *PostgresStore) UpdateRating(ctx context.Context, serverID, userID string, newRating int) error {
	const q = `
		INSERT INTO profiles (server_id, user_id, rating, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (server_id, user_id)
		DO UPDATE SET rating = EXCLUDED.rating, updated_at = NOW()`
	if _, err := s.db.ExecContext(ctx, q, serverID, userID, newRating); err != nil {
		return fmt.Errorf("upsert rating: %w", err)
	}
	return nil
}

// GetHandle returns "" when no judge handle is linked.
func (s *PostgresStore) GetHandle(ctx context.Context, serverID, userID string) (string, error) {
	const q = `SELECT handle FROM profiles WHERE server_id = $1 AND user_id = $2`
	var handle string
	err := s.db.QueryRowContext(ctx, q, serverID, userID).Scan(&handle)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("select handle: %w", err)
	}
	return handle, nil
}

func (s *PostgresStore) SetHandle(ctx context.Context, serverID, userID, handle string) error {
	const q = `
		INSERT INTO profiles (server_id, user_id, handle, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (server_id, user_id)
		DO UPDATE SET handle = EXCLUDED.handle, updated_at = NOW()`
	if _, err := s.db.ExecContext(ctx, q, serverID, userID, handle); err != nil {
		return fmt.Errorf("upsert handle: %w", err)
	}
	return nil
}

// AddHistoryEntry records that a problem was served to a user. Duplicates are
// silently absorbed so the call is safe to repeat.
func (s *PostgresStore) AddHistoryEntry(ctx context.Context, serverID, userID, problemKey string) error {
	const q = `
		INSERT INTO solve_history (server_id, user_id, problem_key)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING`
	if _, err := s.db.ExecContext(ctx, q, serverID, userID, problemKey); err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	return nil
}

// HasHistoryEntry reports whether a problem was already served to a user.
func (s *PostgresStore) HasHistoryEntry(ctx context.Context, serverID, userID, problemKey string) (bool, error) {
	const q = `
		SELECT EXISTS (
			SELECT 1 FROM solve_history
			WHERE server_id = $1 AND user_id = $2 AND problem_key = $3
		)`
	var exists bool
	if err := s.db.QueryRowContext(ctx, q, serverID, userID, problemKey).Scan(&exists); err != nil {
		return false, fmt.Errorf("select history: %w", err)
	}
	return exists, nil
}

// GetStreak derives the solve streak from recorded challenge solves up to at.
// excludeChallengeID lets the caller ask "what was the streak without this
// challenge's solve", which is how streak increases are detected.
func (s *PostgresStore) GetStreak(ctx context.Context, serverID, userID string, at time.Time, excludeChallengeID string) (domain.Streak, error) {
	const q = `
		SELECT p.solved_at
		FROM challenge_participants p
		JOIN challenges c ON c.id = p.challenge_id
		WHERE c.server_id = $1 AND p.user_id = $2
		  AND p.solved_at IS NOT NULL AND p.solved_at <= $3
		  AND ($4 = '' OR p.challenge_id <> $4)`
	rows, err := s.db.QueryContext(ctx, q, serverID, userID, at, excludeChallengeID)
	if err != nil {
		return domain.Streak{}, fmt.Errorf("select solve days: %w", err)
	}
	defer rows.Close()

	var solves []time.Time
	for rows.Next() {
		var solvedAt time.Time
		if err := rows.Scan(&solvedAt); err != nil {
			return domain.Streak{}, fmt.Errorf("scan solve day: %w", err)
		}
		solves = append(solves, solvedAt)
	}
	if err := rows.Err(); err != nil {
		return domain.Streak{}, err
	}
	return ComputeStreak(solves, at), nil
}
