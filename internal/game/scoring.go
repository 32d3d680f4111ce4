package game

import "math"

// Scoring constants are a versioned contract: any client-side score preview
// must use identical values or drift from the authoritative total.
const (
	BasePoints     = 100
	SpeedFloor     = 0.3
	SpeedPower     = 2.0
	MultiplierStep = 5

	InitialSequenceLength   = 2
	SequenceLengthIncrement = 1
)

// SpeedPoints scales points by how much of the turn remains. A correct
// completion always earns at least SpeedFloor*BasePoints, and faster
// completions earn superlinearly more.
func SpeedPoints(secondsRemaining, turnTotalSeconds float64) int {
	if turnTotalSeconds <= 0 {
		return int(math.Round(BasePoints * SpeedFloor))
	}
	r := secondsRemaining / turnTotalSeconds
	r = math.Max(0, math.Min(1, r))
	return int(math.Round(BasePoints * (SpeedFloor + (1-SpeedFloor)*math.Pow(r, SpeedPower))))
}

// StreakMultiplier is purely a function of completions so far this turn,
// before the current one is counted.
func StreakMultiplier(sequencesCompletedThisTurn int) int {
	if sequencesCompletedThisTurn < 0 {
		sequencesCompletedThisTurn = 0
	}
	return 1 + sequencesCompletedThisTurn/MultiplierStep
}

// ScoreSubmission computes the points for one successful completion.
func ScoreSubmission(secondsRemaining, turnTotalSeconds float64, sequencesCompletedThisTurn int) (speedPoints, multiplier, earned int) {
	speedPoints = SpeedPoints(secondsRemaining, turnTotalSeconds)
	multiplier = StreakMultiplier(sequencesCompletedThisTurn)
	earned = speedPoints * multiplier
	return speedPoints, multiplier, earned
}
