package domain

import (
	"fmt"
	"time"
)

// ChallengeStatus is the lifecycle state of a challenge. Transitions are
// forward-only: ACTIVE → COMPLETED or ACTIVE → CANCELLED, never back.
type ChallengeStatus string

const (
	StatusActive    ChallengeStatus = "ACTIVE"
	StatusCompleted ChallengeStatus = "COMPLETED"
	StatusCancelled ChallengeStatus = "CANCELLED"
)

// ProblemRef identifies a problem on the external judge.
type ProblemRef struct {
	ContestID int    `json:"contest_id"`
	Index     string `json:"index"`
}

func (r ProblemRef) Key() string { return fmt.Sprintf("%d%s", r.ContestID, r.Index) }

// Problem is the judge problem a challenge is raced on.
type Problem struct {
	Ref    ProblemRef `json:"ref"`
	Name   string     `json:"name"`
	Rating int        `json:"rating"`
}

// Challenge is a timed duel on a single problem.
type Challenge struct {
	ID            string
	ServerID      string
	ChannelID     string
	MessageID     string
	HostUserID    string
	Problem       Problem
	LengthMinutes int

	// StartedAt/EndsAt are fixed at creation: EndsAt = StartedAt + length.
	StartedAt time.Time
	EndsAt    time.Time

	Status      ChallengeStatus
	CancelledBy string

	// CheckIndex is the persisted round-robin cursor into Participants.
	CheckIndex int

	// Participants are ordered by Position; the order is stable and persisted.
	Participants []*Participant
}

// Participant is one racer inside a challenge.
type Participant struct {
	ChallengeID string
	UserID      string
	Position    int

	// SolvedAt is set at most once and never cleared.
	SolvedAt *time.Time
	// RatingBefore is the rating snapshot taken at creation; nil when unknown.
	RatingBefore *int
	// RatingDelta is set at most once: reward on solve, penalty at finalize.
	RatingDelta *int
}

func (p *Participant) Solved() bool { return p != nil && p.SolvedAt != nil }

// AllSolved reports whether every participant has a recorded solve.
func (c *Challenge) AllSolved() bool {
	for _, p := range c.Participants {
		if !p.Solved() {
			return false
		}
	}
	return true
}

// Expired reports whether the challenge window has passed at now.
func (c *Challenge) Expired(now time.Time) bool { return !now.Before(c.EndsAt) }

// Window returns the [start, end] interval submissions must fall into.
func (c *Challenge) Window() (time.Time, time.Time) { return c.StartedAt, c.EndsAt }

// FirstSolver returns the participant with the earliest solve, or nil.
func (c *Challenge) FirstSolver() *Participant {
	var first *Participant
	for _, p := range c.Participants {
		if !p.Solved() {
			continue
		}
		if first == nil || p.SolvedAt.Before(*first.SolvedAt) {
			first = p
		}
	}
	return first
}

// Submission is one raw record returned by the judge for a user.
type Submission struct {
	ID           int64
	ContestID    int
	ProblemIndex string
	// Verdict is empty or "TESTING" while the judge is still running tests.
	Verdict     string
	SubmittedAt time.Time
}

const (
	VerdictAccepted = "OK"
	VerdictTesting  = "TESTING"
)

// Final reports whether the judge has finished judging this submission.
func (s Submission) Final() bool { return s.Verdict != "" && s.Verdict != VerdictTesting }

// Accepted reports whether the submission passed all tests.
func (s Submission) Accepted() bool { return s.Verdict == VerdictAccepted }

// Matches reports whether the submission targets the given problem.
func (s Submission) Matches(ref ProblemRef) bool {
	return s.ContestID == ref.ContestID && s.ProblemIndex == ref.Index
}
