package rating

import "math"

// Elo computes duel rating deltas from a logistic expectation of solving the
// problem. Shorter duels swing harder: racing a problem in 15 minutes says
// more than grinding it for three hours.
type Elo struct {
	// K is the base volatility. Zero value falls back to DefaultK.
	K float64
}

const (
	DefaultK = 40.0

	// lengthPivot is the duel length (minutes) at which the time factor is 1.
	lengthPivot = 120.0
	minFactor   = 0.75
	maxFactor   = 1.5
)

func NewElo() *Elo { return &Elo{K: DefaultK} }

// ComputeDeltas returns the (penalty, reward) pair for a participant at
// currentRating racing a problem of problemRating over lengthMinutes.
// The penalty is negative, the reward positive; callers pick one side.
func (e *Elo) ComputeDeltas(currentRating, problemRating, lengthMinutes int) (penalty, reward int) {
	k := e.K
	if k <= 0 {
		k = DefaultK
	}

	// Expected probability of the player beating the problem.
	exp := 1.0 / (1.0 + math.Pow(10, float64(problemRating-currentRating)/400.0))

	factor := timeFactor(lengthMinutes)
	reward = int(math.Round(k * (1 - exp) * factor))
	if reward < 1 {
		reward = 1
	}
	// Failing to solve is penalized at half weight: duels should stay
	// attractive to join even for players punching above their rating.
	penalty = -int(math.Round(k * exp * factor / 2))
	if penalty > -1 {
		penalty = -1
	}
	return penalty, reward
}

func timeFactor(lengthMinutes int) float64 {
	if lengthMinutes <= 0 {
		return 1
	}
	f := math.Sqrt(lengthPivot / float64(lengthMinutes))
	if f < minFactor {
		return minFactor
	}
	if f > maxFactor {
		return maxFactor
	}
	return f
}
