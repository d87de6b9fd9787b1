package agent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/leapkore-12/journeys-tribe-sub000/internal/domain"
	"github.com/leapkore-12/journeys-tribe-sub000/internal/invite"
	"github.com/leapkore-12/journeys-tribe-sub000/internal/presence"
	"github.com/leapkore-12/journeys-tribe-sub000/internal/roster"
	"github.com/leapkore-12/journeys-tribe-sub000/internal/store/memory"
	"github.com/leapkore-12/journeys-tribe-sub000/internal/tracking"
	"github.com/leapkore-12/journeys-tribe-sub000/internal/trip"
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// backend wires the real services over the memory store.
type backend struct {
	store    *memory.Store
	trips    *trip.Service
	roster   *roster.Coordinator
	tracking *tracking.Service
	invites  *invite.Service
}

func newBackend() *backend {
	store := memory.New()
	return &backend{
		store:    store,
		trips:    trip.NewService(store, nil, quiet()),
		roster:   roster.NewCoordinator(store, nil, quiet()),
		tracking: tracking.NewService(store, quiet()),
		invites:  invite.NewService(store, nil, 0, quiet()),
	}
}

// serviceAPI calls the services in-process as one user.
type serviceAPI struct {
	b      *backend
	userID string

	mu          sync.Mutex
	appendCalls int
	batchSizes  []int
	failAppend  map[int]error
	failAction  error
}

func (a *serviceAPI) as(userID string) *serviceAPI {
	return &serviceAPI{b: a.b, userID: userID}
}

func (a *serviceAPI) Health(context.Context) error { return nil }

func (a *serviceAPI) Trip(ctx context.Context, tripID string) (trip.View, error) {
	t, err := a.b.trips.Get(ctx, tripID)
	if err != nil {
		return trip.View{}, err
	}
	return a.b.trips.Describe(t), nil
}

func (a *serviceAPI) Transition(ctx context.Context, tripID, action string) (trip.View, error) {
	a.mu.Lock()
	fail := a.failAction
	a.mu.Unlock()
	if fail != nil {
		return trip.View{}, fail
	}
	var (
		t   domain.Trip
		err error
	)
	switch action {
	case "pause":
		t, err = a.b.trips.Pause(ctx, tripID, a.userID)
	case "resume":
		t, err = a.b.trips.Resume(ctx, tripID, a.userID)
	case "complete":
		t, err = a.b.trips.Complete(ctx, tripID, a.userID)
	case "cancel":
		t, err = a.b.trips.Cancel(ctx, tripID, a.userID)
	default:
		return trip.View{}, errors.New("unknown action " + action)
	}
	if err != nil {
		return trip.View{}, err
	}
	return a.b.trips.Describe(t), nil
}

func (a *serviceAPI) Roster(ctx context.Context, tripID string) ([]domain.RosterEntry, error) {
	return a.b.roster.ListActive(ctx, tripID)
}

func (a *serviceAPI) Leave(ctx context.Context, tripID string) (domain.RosterEntry, error) {
	return a.b.roster.Leave(ctx, tripID, a.userID)
}

func (a *serviceAPI) TransferLeadership(ctx context.Context, tripID, newLeaderID string) (domain.RosterEntry, error) {
	if err := a.b.roster.TransferLeadership(ctx, tripID, a.userID, newLeaderID); err != nil {
		return domain.RosterEntry{}, err
	}
	return a.b.roster.Leader(ctx, tripID)
}

func (a *serviceAPI) CreateInvite(ctx context.Context, tripID, inviteeID string) (domain.Invite, error) {
	return a.b.invites.Create(ctx, tripID, a.userID, inviteeID)
}

func (a *serviceAPI) AcceptInvite(ctx context.Context, code string) (invite.Acceptance, error) {
	return a.b.invites.Accept(ctx, code, a.userID)
}

func (a *serviceAPI) AppendPositions(ctx context.Context, tripID string, batch tracking.Batch) (tracking.BatchResult, error) {
	a.mu.Lock()
	a.appendCalls++
	a.batchSizes = append(a.batchSizes, len(batch.Samples))
	err := a.failAppend[a.appendCalls]
	a.mu.Unlock()
	if err != nil {
		return tracking.BatchResult{}, err
	}
	return a.b.tracking.AppendBatch(ctx, tripID, a.userID, batch)
}

func (a *serviceAPI) sizes() []int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]int(nil), a.batchSizes...)
}

// fakeDialer hands out in-memory presence connections and records what the
// device sends.
type fakeDialer struct {
	mu    sync.Mutex
	dials int
	conns []*fakeConn
	sent  chan presence.Message
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{sent: make(chan presence.Message, 256)}
}

func (d *fakeDialer) Dial(context.Context, string) (PresenceConn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	c := &fakeConn{sent: d.sent, inbox: make(chan presence.Message, 16), closed: make(chan struct{})}
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

type fakeConn struct {
	sent   chan presence.Message
	inbox  chan presence.Message
	closed chan struct{}
	once   sync.Once
}

func (c *fakeConn) Send(_ context.Context, msg presence.Message) error {
	select {
	case <-c.closed:
		return errors.New("closed")
	default:
	}
	c.sent <- msg
	return nil
}

func (c *fakeConn) Receive(ctx context.Context) (presence.Message, error) {
	select {
	case <-c.closed:
		return presence.Message{}, io.EOF
	case <-ctx.Done():
		return presence.Message{}, ctx.Err()
	case msg := <-c.inbox:
		return msg, nil
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

// nextSent returns the next message of type typ the device published.
func nextSent(t *testing.T, d *fakeDialer, typ presence.MessageType) presence.Message {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case msg := <-d.sent:
			if msg.Type == typ {
				return msg
			}
		case <-timeout:
			t.Fatalf("timeout waiting for %s message", typ)
		}
	}
}

func fastOptions(tripID, userID string) Options {
	return Options{
		TripID:          tripID,
		UserID:          userID,
		VehicleType:     "car",
		FlushBatch:      100,
		FlushInterval:   5 * time.Millisecond,
		PublishInterval: 5 * time.Millisecond,
		StalenessWindow: 30 * time.Second,
		TickInterval:    5 * time.Millisecond,
		RefreshInterval: time.Hour,
		RedialInterval:  5 * time.Millisecond,
	}
}
