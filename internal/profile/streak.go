package profile

import (
	"sort"
	"time"

	"github.com/seonghun126/algoduel-bot/internal/domain"
)

const daySeconds = 24 * 60 * 60

func dayNumber(t time.Time) int64 { return t.UTC().Unix() / daySeconds }

// ComputeStreak reduces a set of solve timestamps to the current and longest
// consecutive-day streaks as of "at". Days are UTC calendar days; a streak is
// still current when its last solve day is at's day or the day before, so a
// streak survives until a full day is actually missed.
func ComputeStreak(solves []time.Time, at time.Time) domain.Streak {
	if len(solves) == 0 {
		return domain.Streak{}
	}

	today := dayNumber(at)
	seen := make(map[int64]struct{}, len(solves))
	for _, s := range solves {
		d := dayNumber(s)
		if d > today {
			continue
		}
		seen[d] = struct{}{}
	}
	if len(seen) == 0 {
		return domain.Streak{}
	}

	days := make([]int64, 0, len(seen))
	for d := range seen {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })

	var st domain.Streak
	run := 1
	for i := 1; i <= len(days); i++ {
		if i < len(days) && days[i] == days[i-1]+1 {
			run++
			continue
		}
		if run > st.Longest {
			st.Longest = run
		}
		last := days[i-1]
		if last == today || last == today-1 {
			st.Current = run
		}
		run = 1
	}
	return st
}
