// Package domain holds the convoy data model shared by the server stores,
// services and the device agent.
package domain

import (
	"strings"
	"time"

	"github.com/leapkore-12/journeys-tribe-sub000/internal/apperr"
)

// TripStatus is the lifecycle status stored on a trip row.
type TripStatus string

const (
	TripPlanned   TripStatus = "planned"
	TripActive    TripStatus = "active"
	TripPaused    TripStatus = "paused"
	TripCompleted TripStatus = "completed"
	TripCancelled TripStatus = "cancelled"
)

// ParseTripStatus normalizes and validates a status string.
func ParseTripStatus(in string) (TripStatus, error) {
	s := TripStatus(strings.ToLower(strings.TrimSpace(in)))
	if s.Valid() {
		return s, nil
	}
	return "", apperr.New(apperr.CodeInvalidArgument, "invalid trip status "+in)
}

func (s TripStatus) Valid() bool {
	switch s {
	case TripPlanned, TripActive, TripPaused, TripCompleted, TripCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether next is reachable from s in one step.
func (s TripStatus) CanTransitionTo(next TripStatus) bool {
	switch s {
	case TripPlanned:
		return next == TripActive || next == TripCancelled
	case TripActive:
		return next == TripPaused || next == TripCompleted || next == TripCancelled
	case TripPaused:
		return next == TripActive || next == TripCompleted
	default:
		return false
	}
}

// Terminal reports whether no further transitions are possible.
func (s TripStatus) Terminal() bool {
	return s == TripCompleted || s == TripCancelled
}

// Open reports whether the trip counts as the owner's current trip.
func (s TripStatus) Open() bool {
	return s == TripActive || s == TripPaused
}

// Joinable reports whether new roster members may join.
func (s TripStatus) Joinable() bool {
	return s == TripPlanned || s == TripActive || s == TripPaused
}

func (s TripStatus) String() string {
	return string(s)
}

// Point is a geographic position with an optional label.
type Point struct {
	Lat   float64 `json:"lat"`
	Lng   float64 `json:"lng"`
	Label string  `json:"label,omitempty"`
}

type Trip struct {
	ID           string     `json:"id"`
	OwnerID      string     `json:"owner_id"`
	Name         string     `json:"name"`
	Status       TripStatus `json:"status"`
	Origin       Point      `json:"origin"`
	Destination  Point      `json:"destination"`
	DistanceM    float64    `json:"distance_m"`
	DurationSec  int64      `json:"duration_sec"`
	SampleCount  int64      `json:"sample_count"`
	LastPosition *Point     `json:"last_position,omitempty"`
	LastSampleAt *time.Time `json:"last_sample_at,omitempty"`
	ActiveSince  *time.Time `json:"active_since,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	PausedAt     *time.Time `json:"paused_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	Version      int64      `json:"version"`
}

// Elapsed returns the accrued active duration including the open window.
func (t Trip) Elapsed(now time.Time) time.Duration {
	d := time.Duration(t.DurationSec) * time.Second
	if t.Status == TripActive && t.ActiveSince != nil && now.After(*t.ActiveSince) {
		d += now.Sub(*t.ActiveSince).Truncate(time.Second)
	}
	return d
}

// Transition returns a copy of t moved to next at now. Accumulators are
// folded on every exit from active so the active window never double counts.
func (t Trip) Transition(next TripStatus, now time.Time) (Trip, error) {
	if !t.Status.CanTransitionTo(next) {
		return Trip{}, apperr.New(apperr.CodeInvalidTransition,
			"cannot move trip from "+t.Status.String()+" to "+next.String())
	}
	out := t
	if t.Status == TripActive {
		out.DurationSec = int64(t.Elapsed(now) / time.Second)
		out.ActiveSince = nil
	}
	switch next {
	case TripActive:
		at := now
		out.ActiveSince = &at
		if out.StartedAt == nil {
			out.StartedAt = &at
		}
		out.PausedAt = nil
	case TripPaused:
		at := now
		out.PausedAt = &at
	case TripCompleted, TripCancelled:
		at := now
		out.CompletedAt = &at
		out.PausedAt = nil
	}
	out.Status = next
	out.UpdatedAt = now
	return out, nil
}

// TripDraft is the input for planning or starting a trip.
type TripDraft struct {
	OwnerID     string `json:"owner_id"`
	Name        string `json:"name"`
	Origin      Point  `json:"origin"`
	Destination Point  `json:"destination"`
}

// TripProgress is the bookkeeping derived from the last sample of a batch.
type TripProgress struct {
	LastPosition Point     `json:"last_position"`
	LastSampleAt time.Time `json:"last_sample_at"`
	DistanceM    float64   `json:"distance_m"`
}
