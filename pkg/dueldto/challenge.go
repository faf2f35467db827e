package dueldto

import "time"

// ParticipantView is one racer's row as shown in chat.
type ParticipantView struct {
	UserID       string
	Solved       bool
	SolvedAt     time.Time
	Elapsed      time.Duration
	RatingBefore *int
	RatingDelta  *int
}

// ChallengeView is the chat-facing shape of a duel.
type ChallengeView struct {
	ID            string
	ServerID      string
	ChannelID     string
	MessageID     string
	HostUserID    string
	ProblemKey    string
	ProblemName   string
	ProblemRating int
	LengthMinutes int
	StartedAt     time.Time
	EndsAt        time.Time
	Status        string
	CancelledBy   string
	FirstSolver   string
	Participants  []ParticipantView
}

// StreakView announces a grown solve streak.
type StreakView struct {
	UserID       string
	Days         int
	PersonalBest bool
}
