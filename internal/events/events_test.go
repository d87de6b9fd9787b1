package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/leapkore-12/journeys-tribe-sub000/internal/domain"
)

type fakeChannel struct {
	declared  string
	kind      string
	published []amqp.Publishing
	keys      []string
	failWith  error
	closed    bool
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, _, _, _, _ bool, _ amqp.Table) error {
	f.declared = name
	f.kind = kind
	return nil
}

func (f *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	if f.failWith != nil {
		return f.failWith
	}
	f.keys = append(f.keys, key)
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestAMQPPublisherRoutesByType(t *testing.T) {
	ch := &fakeChannel{}
	p, err := newAMQPPublisher(ch, DefaultExchange, nil)
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	if ch.declared != DefaultExchange || ch.kind != amqp.ExchangeTopic {
		t.Fatalf("expected topic exchange declared, got %s/%s", ch.declared, ch.kind)
	}

	trip := domain.Trip{ID: "trip-1", Status: domain.TripCompleted}
	ev := ForTrip(trip, domain.TripActive, "user-1", time.Now())
	if err := p.Publish(context.Background(), ev); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(ch.keys) != 1 || ch.keys[0] != string(TripCompleted) {
		t.Fatalf("unexpected routing keys %v", ch.keys)
	}
	msg := ch.published[0]
	if msg.DeliveryMode != amqp.Persistent || msg.ContentType != "application/json" || msg.MessageId == "" {
		t.Fatalf("unexpected publishing %+v", msg)
	}
	var decoded Event
	if err := json.Unmarshal(msg.Body, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.TripID != "trip-1" || decoded.Trip == nil || decoded.Trip.Status != domain.TripCompleted {
		t.Fatalf("unexpected body %+v", decoded)
	}

	if err := p.Close(); err != nil || !ch.closed {
		t.Fatalf("expected channel closed")
	}
	if err := p.Publish(context.Background(), ev); err == nil {
		t.Fatalf("expected publish after close to fail")
	}
}

func TestForTripTypes(t *testing.T) {
	now := time.Now()
	cases := []struct {
		status domain.TripStatus
		from   domain.TripStatus
		want   Type
	}{
		{domain.TripActive, domain.TripPlanned, TripStarted},
		{domain.TripActive, domain.TripPaused, TripResumed},
		{domain.TripPaused, domain.TripActive, TripPaused},
		{domain.TripCancelled, domain.TripPlanned, TripCancelled},
	}
	for _, tc := range cases {
		ev := ForTrip(domain.Trip{ID: "t", Status: tc.status}, tc.from, "u", now)
		if ev.Type != tc.want {
			t.Fatalf("%s from %s: got %s want %s", tc.status, tc.from, ev.Type, tc.want)
		}
	}
}

func TestFanoutJoinsErrors(t *testing.T) {
	var calls int
	ok := PublisherFunc(func(context.Context, Event) error { calls++; return nil })
	boom := errors.New("boom")
	bad := PublisherFunc(func(context.Context, Event) error { calls++; return boom })

	err := Fanout{ok, nil, bad, Nop{}}.Publish(context.Background(), Event{Type: RosterChanged})
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected every publisher called, got %d", calls)
	}
}
