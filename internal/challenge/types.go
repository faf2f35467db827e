package challenge

import (
	"context"
	"fmt"
	"time"

	"github.com/seonghun126/algoduel-bot/internal/domain"
)

// Store is durable persistence for challenges and their participants.
// The engine is the only writer.
type Store interface {
	// InsertChallenge persists the challenge and all participant rows in one
	// transaction.
	InsertChallenge(ctx context.Context, ch *domain.Challenge) error
	GetChallenge(ctx context.Context, id string) (*domain.Challenge, error)
	// ListActive returns active challenges, scoped to a server when serverID
	// is non-empty.
	ListActive(ctx context.Context, serverID string) ([]*domain.Challenge, error)
	// UpdateStatus moves an ACTIVE challenge to the given status. It reports
	// false when the row was not active anymore, making the transition a
	// guarded one-shot write.
	UpdateStatus(ctx context.Context, id string, status domain.ChallengeStatus, cancelledBy string) (bool, error)
	UpdateCheckIndex(ctx context.Context, id string, index int) error
	// MarkSolved sets solvedAt (and the reward delta, when known) once;
	// an already-solved participant row is left untouched.
	MarkSolved(ctx context.Context, challengeID, userID string, solvedAt time.Time, ratingDelta *int) error
	// SetPenalty writes the penalty delta once for an unsolved participant.
	SetPenalty(ctx context.Context, challengeID, userID string, ratingDelta int) error
	ListRecentCompleted(ctx context.Context, serverID string, limit int) ([]*domain.Challenge, error)
}

// ProfileStore supplies per-user rating, handle, streak and history data.
type ProfileStore interface {
	// GetRating returns nil when the user's rating is unknown.
	GetRating(ctx context.Context, serverID, userID string) (*int, error)
	UpdateRating(ctx context.Context, serverID, userID string, newRating int) error
	// GetHandle returns "" when no judge handle is linked.
	GetHandle(ctx context.Context, serverID, userID string) (string, error)
	// GetStreak computes the user's solve streak as of at, optionally
	// excluding solves recorded for one challenge.
	GetStreak(ctx context.Context, serverID, userID string, at time.Time, excludeChallengeID string) (domain.Streak, error)
	AddHistoryEntry(ctx context.Context, serverID, userID, problemKey string) error
}

// JudgeClient performs one remote query for a user's recent submissions to a
// problem. Records are raw; the engine does the window classification.
type JudgeClient interface {
	QuerySubmissions(ctx context.Context, ref domain.ProblemRef, handle string) ([]domain.Submission, error)
}

// RatingModel maps (current rating, problem rating, duel length) to a
// (penalty, reward) delta pair.
type RatingModel interface {
	ComputeDeltas(currentRating, problemRating, lengthMinutes int) (penalty, reward int)
}

// CompletionNotifier is invoked once per successful finalize. Failures are
// logged and swallowed; they never re-open the challenge.
type CompletionNotifier interface {
	OnChallengeCompleted(ctx context.Context, challengeID string) error
}

// MessageSyncer refreshes the live challenge message. Best-effort: errors are
// logged and never affect engine state.
type MessageSyncer interface {
	SyncChallenge(ctx context.Context, ch *domain.Challenge, notes []StreakNote) error
}

// CreateParams carries everything needed to start a challenge.
type CreateParams struct {
	ServerID           string
	ChannelID          string
	MessageID          string
	HostUserID         string
	Problem            domain.Problem
	LengthMinutes      int
	ParticipantUserIDs []string
	StartedAt          time.Time
}

// CompletedChallenge annotates a finished challenge with its first solver.
type CompletedChallenge struct {
	Challenge   *domain.Challenge
	FirstSolver *domain.Participant
}

// StreakNote reports a strictly increased solve streak after a solve.
type StreakNote struct {
	UserID       string
	Days         int
	PersonalBest bool
}

func (n StreakNote) String() string {
	if n.PersonalBest {
		return fmt.Sprintf("%d-day solve streak — new personal best", n.Days)
	}
	return fmt.Sprintf("%d-day solve streak", n.Days)
}
