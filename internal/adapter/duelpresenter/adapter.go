package duelpresenter

import (
	"github.com/seonghun126/algoduel-bot/internal/challenge"
	"github.com/seonghun126/algoduel-bot/internal/domain"
	"github.com/seonghun126/algoduel-bot/pkg/dueldto"
)

// ToChallengeView flattens a domain challenge into its chat-facing shape.
func ToChallengeView(ch *domain.Challenge) dueldto.ChallengeView {
	if ch == nil {
		return dueldto.ChallengeView{}
	}
	v := dueldto.ChallengeView{
		ID:            ch.ID,
		ServerID:      ch.ServerID,
		ChannelID:     ch.ChannelID,
		MessageID:     ch.MessageID,
		HostUserID:    ch.HostUserID,
		ProblemKey:    ch.Problem.Ref.Key(),
		ProblemName:   ch.Problem.Name,
		ProblemRating: ch.Problem.Rating,
		LengthMinutes: ch.LengthMinutes,
		StartedAt:     ch.StartedAt,
		EndsAt:        ch.EndsAt,
		Status:        string(ch.Status),
		CancelledBy:   ch.CancelledBy,
	}
	if first := ch.FirstSolver(); first != nil {
		v.FirstSolver = first.UserID
	}
	for _, p := range ch.Participants {
		pv := dueldto.ParticipantView{
			UserID:       p.UserID,
			RatingBefore: p.RatingBefore,
			RatingDelta:  p.RatingDelta,
		}
		if p.SolvedAt != nil {
			pv.Solved = true
			pv.SolvedAt = *p.SolvedAt
			pv.Elapsed = p.SolvedAt.Sub(ch.StartedAt)
		}
		v.Participants = append(v.Participants, pv)
	}
	return v
}

func toStreakViews(notes []challenge.StreakNote) []dueldto.StreakView {
	out := make([]dueldto.StreakView, 0, len(notes))
	for _, n := range notes {
		out = append(out, dueldto.StreakView{UserID: n.UserID, Days: n.Days, PersonalBest: n.PersonalBest})
	}
	return out
}
