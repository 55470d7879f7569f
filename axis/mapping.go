package axis

import "math"

const fullTurn = 2 * math.Pi

// Normalize maps radians into [0, 2π).
func Normalize(radians float64) float64 {
	a := math.Mod(radians, fullTurn)
	if a < 0 {
		a += fullTurn
	}
	// a tiny negative input can round up to exactly 2π above
	if a >= fullTurn {
		a = 0
	}

	return a
}

// StepsForAngle converts a non-negative angle to the nearest whole number of
// steps on an axis with totalSteps steps per revolution.
func StepsForAngle(totalSteps int, radians float64) int {
	return int(math.Round(radians / fullTurn * float64(totalSteps)))
}

// TargetStep returns the absolute step position for radians on the axis
// described by s.
//
// Angles in [0, π] are reached forward from the reference position, angles in
// (π, 2π) backward, so the target always lies within half a turn of the
// reference position.
func TargetStep(s State, radians float64) int {
	a := Normalize(radians)
	if a <= math.Pi {
		return s.ReferencePosition + StepsForAngle(s.TotalSteps, a)
	}

	return s.ReferencePosition - StepsForAngle(s.TotalSteps, fullTurn-a)
}

// ReverseSteps returns the step count covering |radians| on the axis described by s.
// It sizes the backoff move performed before a reference run.
func ReverseSteps(s State, radians float64) int {
	return StepsForAngle(s.TotalSteps, math.Abs(radians))
}
