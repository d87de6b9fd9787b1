// Package agent is the device-side runtime of a convoy member: it samples
// positions, buffers them for durable upload, publishes live presence and
// keeps a merged view of the convoy.
package agent

import (
	"context"
	"time"

	"github.com/leapkore-12/journeys-tribe-sub000/internal/domain"
	"github.com/leapkore-12/journeys-tribe-sub000/internal/invite"
	"github.com/leapkore-12/journeys-tribe-sub000/internal/presence"
	"github.com/leapkore-12/journeys-tribe-sub000/internal/tracking"
	"github.com/leapkore-12/journeys-tribe-sub000/internal/trip"
)

// API is the part of the convoy HTTP API a session uses. *Client
// implements it.
type API interface {
	Health(ctx context.Context) error
	Trip(ctx context.Context, tripID string) (trip.View, error)
	Transition(ctx context.Context, tripID, action string) (trip.View, error)
	Roster(ctx context.Context, tripID string) ([]domain.RosterEntry, error)
	Leave(ctx context.Context, tripID string) (domain.RosterEntry, error)
	TransferLeadership(ctx context.Context, tripID, newLeaderID string) (domain.RosterEntry, error)
	CreateInvite(ctx context.Context, tripID, inviteeID string) (domain.Invite, error)
	AcceptInvite(ctx context.Context, code string) (invite.Acceptance, error)
	AppendPositions(ctx context.Context, tripID string, batch tracking.Batch) (tracking.BatchResult, error)
}

type PresenceDialer interface {
	Dial(ctx context.Context, tripID string) (PresenceConn, error)
}

// PresenceConn is one open presence channel. Receive blocks until a message
// arrives or the connection is closed.
type PresenceConn interface {
	Send(ctx context.Context, msg presence.Message) error
	Receive(ctx context.Context) (presence.Message, error)
	Close() error
}

type Options struct {
	TripID          string
	UserID          string
	VehicleType     string
	FlushBatch      int
	FlushInterval   time.Duration
	PublishInterval time.Duration
	StalenessWindow time.Duration
	TickInterval    time.Duration
	RefreshInterval time.Duration
	RedialInterval  time.Duration
}

func (o *Options) defaults() {
	if o.FlushBatch <= 0 {
		o.FlushBatch = 100
	}
	if o.FlushBatch > tracking.MaxBatch {
		o.FlushBatch = tracking.MaxBatch
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = 2 * time.Second
	}
	if o.PublishInterval <= 0 {
		o.PublishInterval = 2 * time.Second
	}
	if o.StalenessWindow <= 0 {
		o.StalenessWindow = presence.DefaultWindow
	}
	if o.TickInterval <= 0 {
		o.TickInterval = time.Second
	}
	if o.RefreshInterval <= 0 {
		o.RefreshInterval = 15 * time.Second
	}
	if o.RedialInterval <= 0 {
		o.RedialInterval = 2 * time.Second
	}
}

// Status is what the device shows about its own sync state.
type Status struct {
	TripID     string            `json:"trip_id"`
	TripStatus domain.TripStatus `json:"trip_status"`
	Online     bool              `json:"online"`
	Syncing    bool              `json:"syncing"`
	Connected  bool              `json:"connected"`
	Pending    int               `json:"pending"`
	Dropped    int64             `json:"dropped"`
	Rejected   int64             `json:"rejected"`
	DistanceM  float64           `json:"distance_m"`
	ElapsedSec int64             `json:"elapsed_sec"`
	LastFix    *domain.Point     `json:"last_fix,omitempty"`
}
