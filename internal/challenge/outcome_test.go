package challenge

import (
	"testing"
	"time"

	"github.com/seonghun126/algoduel-bot/internal/domain"
)

func sub(verdict string, at time.Time) domain.Submission {
	return domain.Submission{ContestID: 1850, ProblemIndex: "A", Verdict: verdict, SubmittedAt: at}
}

func TestClassifySubmissions(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	end := start.Add(30 * time.Minute)

	cases := []struct {
		name     string
		subs     []domain.Submission
		want     Outcome
		solvedAt time.Time
	}{
		{name: "empty", want: OutcomeNone},
		{
			name: "accepted inside window",
			subs: []domain.Submission{sub(domain.VerdictAccepted, start.Add(5 * time.Minute))},
			want: OutcomeOK, solvedAt: start.Add(5 * time.Minute),
		},
		{
			name: "accepted before start is ignored",
			subs: []domain.Submission{sub(domain.VerdictAccepted, start.Add(-time.Second))},
			want: OutcomeNone,
		},
		{
			name: "accepted after end is ignored",
			subs: []domain.Submission{sub(domain.VerdictAccepted, end.Add(time.Second))},
			want: OutcomeNone,
		},
		{
			name: "window boundaries are inclusive",
			subs: []domain.Submission{sub(domain.VerdictAccepted, end)},
			want: OutcomeOK, solvedAt: end,
		},
		{
			name: "earliest accepted wins",
			subs: []domain.Submission{
				sub(domain.VerdictAccepted, start.Add(20 * time.Minute)),
				sub(domain.VerdictAccepted, start.Add(3 * time.Minute)),
				sub(domain.VerdictAccepted, start.Add(10 * time.Minute)),
			},
			want: OutcomeOK, solvedAt: start.Add(3 * time.Minute),
		},
		{
			name: "rejections alone are none",
			subs: []domain.Submission{
				sub("WRONG_ANSWER", start.Add(time.Minute)),
				sub("TIME_LIMIT_EXCEEDED", start.Add(2 * time.Minute)),
			},
			want: OutcomeNone,
		},
		{
			name: "still judging is pending",
			subs: []domain.Submission{sub(domain.VerdictTesting, start.Add(time.Minute))},
			want: OutcomePending,
		},
		{
			name: "blank verdict is pending",
			subs: []domain.Submission{sub("", start.Add(time.Minute))},
			want: OutcomePending,
		},
		{
			name: "accepted beats pending",
			subs: []domain.Submission{
				sub(domain.VerdictTesting, start.Add(10 * time.Minute)),
				sub(domain.VerdictAccepted, start.Add(4 * time.Minute)),
			},
			want: OutcomeOK, solvedAt: start.Add(4 * time.Minute),
		},
		{
			name: "pending outside the window does not block",
			subs: []domain.Submission{sub(domain.VerdictTesting, end.Add(time.Minute))},
			want: OutcomeNone,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, at := classifySubmissions(tc.subs, start, end)
			if got != tc.want {
				t.Fatalf("outcome = %s, want %s", got, tc.want)
			}
			if tc.want == OutcomeOK && !at.Equal(tc.solvedAt) {
				t.Fatalf("solvedAt = %v, want %v", at, tc.solvedAt)
			}
		})
	}
}

func TestOutcomeString(t *testing.T) {
	if OutcomeOK.String() != "ok" || OutcomePending.String() != "pending" ||
		OutcomeNone.String() != "none" || OutcomeError.String() != "error" {
		t.Fatalf("outcome labels are wrong")
	}
}
