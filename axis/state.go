package axis

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ErrInvalidState indicates a status line that does not decode into a State.
var ErrInvalidState = errors.New("axis: invalid state")

// State is a snapshot of one axis as reported by the device's status command.
//
// A State is never updated in place; callers fetch a fresh snapshot whenever
// they need the current position.
type State struct {
	// GPIO assignments, informational only.
	StepPin      int `json:"stepPin"`
	DirectionPin int `json:"directionPin"`
	HallPin      int `json:"hallPin"`

	// ReferenceOffset is the calibration offset of the hall sensor, informational only.
	ReferenceOffset float64 `json:"referenceOffset"`

	// TotalSteps is the number of full steps per revolution. Always > 0.
	TotalSteps int `json:"totalSteps"`
	// MaxAngularRate is the fastest safe angular velocity; not enforced by the client.
	MaxAngularRate float64 `json:"maxAngularRate"`

	IsInitialized bool `json:"isInitialized"`
	// Position is the current absolute step count.
	Position int `json:"position"`
	// LastStepTimestamp is the device clock time of the last step.
	LastStepTimestamp int64 `json:"lastStepTimestamp"`

	// IsReferenced reports whether a reference run completed since power-up.
	// Angle-based moves are only meaningful when it is true.
	IsReferenced bool `json:"isReferenced"`
	// ReferencePosition is the absolute step count of angle zero.
	ReferencePosition int `json:"referencePosition"`
}

// wireState mirrors State with pointer fields so missing keys can be detected.
type wireState struct {
	StepPin           *int     `json:"stepPin"`
	DirectionPin      *int     `json:"directionPin"`
	HallPin           *int     `json:"hallPin"`
	ReferenceOffset   *float64 `json:"referenceOffset"`
	TotalSteps        *int     `json:"totalSteps"`
	MaxAngularRate    *float64 `json:"maxAngularRate"`
	IsInitialized     *bool    `json:"isInitialized"`
	Position          *int     `json:"position"`
	LastStepTimestamp *int64   `json:"lastStepTimestamp"`
	IsReferenced      *bool    `json:"isReferenced"`
	ReferencePosition *int     `json:"referencePosition"`
}

// ParseState decodes a single status line.
//
// The line must hold exactly one JSON object carrying every State field and no
// others, and totalSteps must be positive.
func ParseState(line string) (State, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(line)))
	dec.DisallowUnknownFields()

	var w wireState
	if err := dec.Decode(&w); err != nil {
		return State{}, fmt.Errorf("%w: %w", ErrInvalidState, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return State{}, fmt.Errorf("%w: trailing data after status object", ErrInvalidState)
	}

	missing := w.missingFields()
	if len(missing) > 0 {
		return State{}, fmt.Errorf("%w: missing fields %v", ErrInvalidState, missing)
	}

	s := State{
		StepPin:           *w.StepPin,
		DirectionPin:      *w.DirectionPin,
		HallPin:           *w.HallPin,
		ReferenceOffset:   *w.ReferenceOffset,
		TotalSteps:        *w.TotalSteps,
		MaxAngularRate:    *w.MaxAngularRate,
		IsInitialized:     *w.IsInitialized,
		Position:          *w.Position,
		LastStepTimestamp: *w.LastStepTimestamp,
		IsReferenced:      *w.IsReferenced,
		ReferencePosition: *w.ReferencePosition,
	}
	if s.TotalSteps <= 0 {
		return State{}, fmt.Errorf("%w: totalSteps must be positive, got %d", ErrInvalidState, s.TotalSteps)
	}

	return s, nil
}

func (w *wireState) missingFields() []string {
	var missing []string
	check := func(present bool, name string) {
		if !present {
			missing = append(missing, name)
		}
	}
	check(w.StepPin != nil, "stepPin")
	check(w.DirectionPin != nil, "directionPin")
	check(w.HallPin != nil, "hallPin")
	check(w.ReferenceOffset != nil, "referenceOffset")
	check(w.TotalSteps != nil, "totalSteps")
	check(w.MaxAngularRate != nil, "maxAngularRate")
	check(w.IsInitialized != nil, "isInitialized")
	check(w.Position != nil, "position")
	check(w.LastStepTimestamp != nil, "lastStepTimestamp")
	check(w.IsReferenced != nil, "isReferenced")
	check(w.ReferencePosition != nil, "referencePosition")

	return missing
}

// Angle returns the current angle in radians, normalized to [0, 2π), measured
// from the reference position.
func (s State) Angle() float64 {
	if s.TotalSteps <= 0 {
		return 0
	}
	offset := float64(s.Position-s.ReferencePosition) / float64(s.TotalSteps)

	return Normalize(offset * fullTurn)
}

func (s State) String() string {
	return fmt.Sprintf("position=%d reference=%d total=%d referenced=%t initialized=%t angle=%.4frad",
		s.Position, s.ReferencePosition, s.TotalSteps, s.IsReferenced, s.IsInitialized, s.Angle())
}

