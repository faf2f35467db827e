package challenge

import (
	"time"

	"github.com/seonghun126/algoduel-bot/internal/domain"
)

// Outcome classifies one solve check against the judge. It is a tagged
// variant on purpose: finalize must collect every participant's outcome
// before committing anything, so the error case is data, not control flow.
type Outcome int

const (
	// OutcomeOK: an accepted submission exists inside the window.
	OutcomeOK Outcome = iota
	// OutcomePending: a submission in the window is still being judged.
	OutcomePending
	// OutcomeNone: no matching submission, or no handle linked.
	OutcomeNone
	// OutcomeError: the judge query itself failed.
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomePending:
		return "pending"
	case OutcomeNone:
		return "none"
	default:
		return "error"
	}
}

// classifySubmissions reduces raw judge records to an Outcome over the
// [start, end] window. An accepted submission wins over a pending one; the
// earliest accepted time is returned so late finalize does not distort
// solve durations.
func classifySubmissions(subs []domain.Submission, start, end time.Time) (Outcome, time.Time) {
	var (
		solvedAt time.Time
		solved   bool
		pending  bool
	)
	for _, s := range subs {
		if s.SubmittedAt.Before(start) || s.SubmittedAt.After(end) {
			continue
		}
		if s.Accepted() {
			if !solved || s.SubmittedAt.Before(solvedAt) {
				solvedAt = s.SubmittedAt
				solved = true
			}
			continue
		}
		if !s.Final() {
			pending = true
		}
	}
	if solved {
		return OutcomeOK, solvedAt
	}
	if pending {
		return OutcomePending, time.Time{}
	}
	return OutcomeNone, time.Time{}
}
