// Package events carries trip lifecycle and roster notifications to the
// presence hub and to downstream consumers on RabbitMQ.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/leapkore-12/journeys-tribe-sub000/internal/domain"
)

// Type doubles as the AMQP routing key.
type Type string

const (
	TripStarted    Type = "trip.started"
	TripPaused     Type = "trip.paused"
	TripResumed    Type = "trip.resumed"
	TripCompleted  Type = "trip.completed"
	TripCancelled  Type = "trip.cancelled"
	RosterChanged  Type = "roster.changed"
	MemberLeft     Type = "roster.member_left"
	InviteAccepted Type = "invite.accepted"
)

type Event struct {
	Type   Type         `json:"type"`
	TripID string       `json:"trip_id"`
	UserID string       `json:"user_id,omitempty"`
	Trip   *domain.Trip `json:"trip,omitempty"`
	At     time.Time    `json:"at"`
}

// ForTrip builds the lifecycle event for a trip that just left status from.
func ForTrip(t domain.Trip, from domain.TripStatus, actorID string, at time.Time) Event {
	var typ Type
	switch t.Status {
	case domain.TripActive:
		typ = TripStarted
		if from == domain.TripPaused {
			typ = TripResumed
		}
	case domain.TripPaused:
		typ = TripPaused
	case domain.TripCompleted:
		typ = TripCompleted
	case domain.TripCancelled:
		typ = TripCancelled
	default:
		typ = TripStarted
	}
	trip := t
	return Event{Type: typ, TripID: t.ID, UserID: actorID, Trip: &trip, At: at}
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Fanout delivers each event to every publisher and joins their failures.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, ev Event) error

func (f PublisherFunc) Publish(ctx context.Context, ev Event) error { return f(ctx, ev) }
