// Package pricing maintains tiered price schedules while they are edited.
//
// A schedule is an ordered list of tiers. The first tier starts at unit 0,
// each following tier starts one unit after the previous tier ends, and only
// the final tier is unbounded. Every operation returns a fresh schedule and
// leaves its input untouched.
package pricing

import (
	"errors"
	"fmt"
	"math"

	"openinvoice/backend/internal/money"
)

type Model string

const (
	ModelFlat      Model = "flat"
	ModelVolume    Model = "volume"
	ModelGraduated Model = "graduated"
)

func (m Model) Valid() bool {
	switch m {
	case ModelFlat, ModelVolume, ModelGraduated:
		return true
	default:
		return false
	}
}

func (m Model) Tiered() bool {
	return m == ModelVolume || m == ModelGraduated
}

var (
	ErrCannotRemove       = errors.New("cannot remove tier")
	ErrIndexOutOfRange    = errors.New("tier index out of range")
	ErrLastTierBoundary   = errors.New("the last tier is always unbounded")
	ErrMissingBoundary    = errors.New("only the last tier may be unbounded")
	ErrBoundaryBelowStart = errors.New("tier cannot end before it starts")
	ErrNotTiered          = errors.New("schedule needs at least two tiers")
	ErrInvalidSchedule    = errors.New("invalid tier schedule")
	ErrBoundaryOverflow   = errors.New("tier boundary out of range")
)

// MaxBoundary is the largest last unit a bounded tier may have, leaving room
// for the following tier to start one unit later.
const MaxBoundary = math.MaxInt64 - 1

type PriceTier struct {
	FromValue  int64       `json:"from_value"`
	ToValue    *int64      `json:"to_value"`
	UnitAmount money.Money `json:"unit_amount"`
}

type Schedule []PriceTier

func bound(v int64) *int64 { return &v }

// Clone deep-copies the schedule, including boundary pointers.
func (s Schedule) Clone() Schedule {
	if s == nil {
		return nil
	}
	out := make(Schedule, len(s))
	for i, tier := range s {
		out[i] = tier
		if tier.ToValue != nil {
			out[i].ToValue = bound(*tier.ToValue)
		}
	}
	return out
}

// Validate checks contiguity from zero, a single unbounded final tier, and
// that every bounded tier ends at or after its start and at most at
// MaxBoundary.
func Validate(s Schedule) error {
	if len(s) < 2 {
		return fmt.Errorf("%w: %w", ErrInvalidSchedule, ErrNotTiered)
	}
	if s[0].FromValue != 0 {
		return fmt.Errorf("%w: first tier must start at 0, got %d", ErrInvalidSchedule, s[0].FromValue)
	}
	last := len(s) - 1
	for i, tier := range s {
		if tier.FromValue < 0 {
			return fmt.Errorf("%w: tier %d starts at negative unit %d", ErrInvalidSchedule, i, tier.FromValue)
		}
		if i == last {
			if tier.ToValue != nil {
				return fmt.Errorf("%w: last tier must be unbounded", ErrInvalidSchedule)
			}
		} else {
			if tier.ToValue == nil {
				return fmt.Errorf("%w: tier %d: %w", ErrInvalidSchedule, i, ErrMissingBoundary)
			}
			if *tier.ToValue < tier.FromValue {
				return fmt.Errorf("%w: tier %d ends at %d before it starts at %d", ErrInvalidSchedule, i, *tier.ToValue, tier.FromValue)
			}
			if *tier.ToValue > MaxBoundary {
				return fmt.Errorf("%w: tier %d: %w", ErrInvalidSchedule, i, ErrBoundaryOverflow)
			}
		}
		if i > 0 && tier.FromValue != *s[i-1].ToValue+1 {
			return fmt.Errorf("%w: tier %d starts at %d, expected %d", ErrInvalidSchedule, i, tier.FromValue, *s[i-1].ToValue+1)
		}
	}
	return nil
}

// OnModelChange switches between pricing models. Moving to flat drops the
// tiers and resets the flat amount to flatBase. Moving to a tiered model from
// an empty schedule seeds two tiers priced at the current flat amount and
// zeroes the flat amount.
func OnModelChange(target Model, schedule Schedule, flatAmount money.Money, flatBase money.Money) (Schedule, money.Money) {
	if target == ModelFlat {
		return nil, flatBase
	}
	if len(schedule) > 0 {
		return schedule.Clone(), flatAmount
	}
	seeded := Schedule{
		{FromValue: 0, ToValue: bound(1), UnitAmount: flatAmount},
		{FromValue: 2, ToValue: nil, UnitAmount: flatAmount},
	}
	return seeded, money.Zero(flatAmount.Currency())
}

// OnTierBoundaryChange sets the last unit of the tier at index and re-links
// the tiers that follow. A later bounded tier that would now end before it
// starts collapses to a single-unit band.
func OnTierBoundaryChange(schedule Schedule, index int, newToValue *int64) (Schedule, error) {
	if index < 0 || index >= len(schedule) {
		return nil, fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}
	if index == len(schedule)-1 {
		return nil, ErrLastTierBoundary
	}
	if newToValue == nil {
		return nil, ErrMissingBoundary
	}
	if *newToValue < schedule[index].FromValue {
		return nil, fmt.Errorf("%w: %d < %d", ErrBoundaryBelowStart, *newToValue, schedule[index].FromValue)
	}
	if *newToValue > MaxBoundary {
		return nil, fmt.Errorf("%w: %d", ErrBoundaryOverflow, *newToValue)
	}

	next := schedule.Clone()
	next[index].ToValue = bound(*newToValue)
	if err := relink(next, index+1); err != nil {
		return nil, err
	}
	return next, nil
}

// OnTierCreate inserts a zero-priced single-unit tier just before the
// unbounded one.
func OnTierCreate(schedule Schedule) (Schedule, error) {
	if len(schedule) < 2 {
		return nil, ErrNotTiered
	}
	last := len(schedule) - 1
	prev := schedule[last-1]
	if prev.ToValue == nil {
		return nil, ErrMissingBoundary
	}
	if *prev.ToValue >= MaxBoundary {
		return nil, fmt.Errorf("%w: no room after unit %d", ErrBoundaryOverflow, *prev.ToValue)
	}

	start := *prev.ToValue + 1
	created := PriceTier{
		FromValue:  start,
		ToValue:    bound(start),
		UnitAmount: money.Zero(schedule[last].UnitAmount.Currency()),
	}

	next := make(Schedule, 0, len(schedule)+1)
	next = append(next, schedule[:last].Clone()...)
	next = append(next, created)
	final := schedule[last]
	final.ToValue = nil
	final.FromValue = start + 1
	next = append(next, final)
	return next, nil
}

// OnTierRemove drops the tier at index. The first tier and schedules of two
// tiers or fewer are refused with ErrCannotRemove.
func OnTierRemove(schedule Schedule, index int) (Schedule, error) {
	if index == 0 || len(schedule) <= 2 {
		return nil, ErrCannotRemove
	}
	if index < 0 || index >= len(schedule) {
		return nil, fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}

	next := make(Schedule, 0, len(schedule)-1)
	next = append(next, schedule[:index].Clone()...)
	next = append(next, schedule[index+1:].Clone()...)

	if index == len(next) {
		next[len(next)-1].ToValue = nil
		return next, nil
	}
	if err := relink(next, index); err != nil {
		return nil, err
	}
	return next, nil
}

// OnCurrencyChange re-sanitizes unit amounts for the new currency precision.
func OnCurrencyChange(schedule Schedule, currency money.Currency) Schedule {
	next := schedule.Clone()
	for i := range next {
		next[i].UnitAmount = next[i].UnitAmount.In(currency)
	}
	return next
}

// relink restarts each tier from index from one unit after its predecessor.
// It stops at the first tier that already lines up.
func relink(s Schedule, from int) error {
	for i := from; i < len(s); i++ {
		prev := s[i-1].ToValue
		if prev == nil {
			return fmt.Errorf("%w: tier %d: %w", ErrInvalidSchedule, i-1, ErrMissingBoundary)
		}
		if *prev > MaxBoundary {
			return fmt.Errorf("%w: tier %d: %w", ErrInvalidSchedule, i-1, ErrBoundaryOverflow)
		}
		start := *prev + 1
		if s[i].FromValue == start {
			return nil
		}
		s[i].FromValue = start
		if s[i].ToValue != nil && *s[i].ToValue < start {
			s[i].ToValue = bound(start)
		}
	}
	return nil
}
