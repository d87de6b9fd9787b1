package presence

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/leapkore-12/journeys-tribe-sub000/internal/domain"
	"github.com/leapkore-12/journeys-tribe-sub000/internal/events"
)

const (
	channelPrefix = "convoy:"
	channelSuffix = ":presence"
)

// Hub fans presence messages out to the websocket clients of a trip and
// bridges them to other API instances through Redis.
type Hub struct {
	redis  *redis.Client
	log    *slog.Logger
	origin string
	window time.Duration
	now    func() time.Time

	mu       sync.RWMutex
	clients  map[string]map[*Client]struct{}
	trackers map[string]*Tracker
	// trip -> user ("" for the whole trip) -> when updates stopped being accepted
	revoked map[string]map[string]time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

type Client struct {
	TripID string
	UserID string
	Send   chan []byte

	quit chan struct{}
	once sync.Once
}

// Done is closed once the member has left the trip or the trip is no longer
// active. The connection serving the client must close.
func (c *Client) Done() <-chan struct{} { return c.quit }

func (c *Client) Revoked() bool {
	select {
	case <-c.quit:
		return true
	default:
		return false
	}
}

func (c *Client) revoke() {
	c.once.Do(func() { close(c.quit) })
}

func NewHub(redisClient *redis.Client, log *slog.Logger, window time.Duration) *Hub {
	if log == nil {
		log = slog.Default()
	}
	if window <= 0 {
		window = DefaultWindow
	}
	h := &Hub{
		redis:    redisClient,
		log:      log,
		origin:   uuid.NewString(),
		window:   window,
		now:      func() time.Time { return time.Now().UTC() },
		clients:  map[string]map[*Client]struct{}{},
		trackers: map[string]*Tracker{},
		revoked:  map[string]map[string]time.Time{},
		done:     make(chan struct{}),
	}

	if redisClient == nil {
		close(h.done)
		return h
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	pubsub := redisClient.PSubscribe(ctx, channelPrefix+"*"+channelSuffix)
	subCtx, subCancel := context.WithTimeout(ctx, 2*time.Second)
	_, err := pubsub.Receive(subCtx)
	subCancel()
	if err != nil {
		log.Warn("presence_bridge_unavailable", "error", err)
		_ = pubsub.Close()
		close(h.done)
		return h
	}
	go h.subscribeRedis(ctx, pubsub)
	return h
}

// Close stops the Redis bridge.
func (h *Hub) Close() {
	if h.cancel != nil {
		h.cancel()
	}
	<-h.done
}

func (h *Hub) Window() time.Duration { return h.window }

func (h *Hub) Register(tripID, userID string) *Client {
	client := &Client{
		TripID: tripID,
		UserID: userID,
		Send:   make(chan []byte, 64),
		quit:   make(chan struct{}),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	// The caller has admitted userID, so an earlier departure no longer holds.
	if r := h.revoked[tripID]; r != nil {
		delete(r, userID)
		if len(r) == 0 {
			delete(h.revoked, tripID)
		}
	}
	if h.clients[tripID] == nil {
		h.clients[tripID] = map[*Client]struct{}{}
	}
	h.clients[tripID][client] = struct{}{}
	return client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	tripClients, ok := h.clients[client.TripID]
	if !ok {
		return
	}
	if _, ok := tripClients[client]; !ok {
		return
	}
	delete(tripClients, client)
	if len(tripClients) == 0 {
		delete(h.clients, client.TripID)
	}
	close(client.Send)
}

// Broadcast applies msg to local presence state, delivers it to the trip's
// clients and forwards it to the other instances. Clients the message
// revokes are disconnected after it is queued to them.
func (h *Hub) Broadcast(ctx context.Context, msg Message) {
	if msg.At.IsZero() {
		msg.At = h.now()
	}
	msg.Origin = h.origin
	h.apply(msg)
	payload := msg.Encode()
	h.deliver(msg.TripID, payload)
	h.disconnect(msg)

	if h.redis != nil {
		if err := h.redis.Publish(ctx, redisChannel(msg.TripID), payload).Err(); err != nil {
			h.log.Warn("presence_publish_failed", "trip_id", msg.TripID, "error", err)
		}
	}
}

// Update records a live position and broadcasts it. An out-of-order record
// older than the one held is dropped, as is one from a member who left or
// for a trip that is no longer active.
func (h *Hub) Update(ctx context.Context, rec domain.PresenceRecord) bool {
	if !h.record(rec) {
		return false
	}
	h.Broadcast(ctx, Message{Type: TypePosition, TripID: rec.TripID, UserID: rec.UserID, Record: &rec})
	return true
}

func (h *Hub) Join(ctx context.Context, tripID, userID string) {
	h.Broadcast(ctx, Message{Type: TypeJoin, TripID: tripID, UserID: userID})
}

func (h *Hub) Leave(ctx context.Context, tripID, userID string) {
	h.Broadcast(ctx, Message{Type: TypeLeave, TripID: tripID, UserID: userID})
}

// Snapshot returns the fresh presence records of a trip.
func (h *Hub) Snapshot(tripID string) []domain.PresenceRecord {
	h.mu.RLock()
	t := h.trackers[tripID]
	h.mu.RUnlock()
	if t == nil {
		return []domain.PresenceRecord{}
	}
	return t.Snapshot(h.now())
}

// Sweep removes stale records on every trip and broadcasts a leave for each.
func (h *Hub) Sweep(ctx context.Context) int {
	now := h.now()
	h.mu.RLock()
	trackers := make(map[string]*Tracker, len(h.trackers))
	for id, t := range h.trackers {
		trackers[id] = t
	}
	h.mu.RUnlock()

	h.mu.Lock()
	for tripID, users := range h.revoked {
		for userID, at := range users {
			if now.Sub(at) > 2*h.window {
				delete(users, userID)
			}
		}
		if len(users) == 0 {
			delete(h.revoked, tripID)
		}
	}
	h.mu.Unlock()

	removed := 0
	for tripID, t := range trackers {
		for _, userID := range t.Sweep(now) {
			removed++
			h.log.Info("presence_swept", "trip_id", tripID, "user_id", userID)
			h.Broadcast(ctx, Message{Type: TypeLeave, TripID: tripID, UserID: userID, At: now})
		}
	}
	return removed
}

func (h *Hub) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = h.window / 2
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Sweep(ctx)
		}
	}
}

// Publish turns lifecycle and roster events into control messages so
// connected devices refresh their view.
func (h *Hub) Publish(ctx context.Context, ev events.Event) error {
	switch ev.Type {
	case events.RosterChanged, events.InviteAccepted:
		h.Broadcast(ctx, Message{Type: TypeRoster, TripID: ev.TripID, UserID: ev.UserID, At: ev.At})
	case events.MemberLeft:
		h.Broadcast(ctx, Message{Type: TypeLeave, TripID: ev.TripID, UserID: ev.UserID, Revoked: true, At: ev.At})
		h.Broadcast(ctx, Message{Type: TypeRoster, TripID: ev.TripID, UserID: ev.UserID, At: ev.At})
	case events.TripStarted, events.TripResumed, events.TripPaused, events.TripCompleted, events.TripCancelled:
		msg := Message{Type: TypeTrip, TripID: ev.TripID, UserID: ev.UserID, At: ev.At}
		if ev.Trip != nil {
			msg.Status = ev.Trip.Status
		}
		h.Broadcast(ctx, msg)
	}
	return nil
}

// apply keeps the trackers of this instance in step with a message, whether
// it was produced locally or received from the bridge.
func (h *Hub) apply(msg Message) {
	if userID, ok := revocation(msg); ok {
		h.revoke(msg.TripID, userID)
		return
	}
	switch msg.Type {
	case TypePosition:
		if msg.Record != nil {
			h.record(*msg.Record)
		}
	case TypeLeave:
		h.mu.RLock()
		t := h.trackers[msg.TripID]
		h.mu.RUnlock()
		if t != nil {
			t.Remove(msg.UserID)
		}
	case TypeTrip:
		if msg.Status == domain.TripActive {
			h.reinstate(msg.TripID)
		}
	}
}

// revocation reports whose presence msg ends: the member of a revoked leave,
// or everyone ("") when the trip stops being active.
func revocation(msg Message) (string, bool) {
	switch {
	case msg.Type == TypeLeave && msg.Revoked:
		return msg.UserID, true
	case msg.Type == TypeTrip && msg.Status != "" && msg.Status != domain.TripActive:
		return "", true
	}
	return "", false
}

// revoke drops the presence of userID on a trip, or of the whole trip when
// userID is empty. Their updates are refused until they register again or
// the trip turns active again.
func (h *Hub) revoke(tripID, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.revoked[tripID] == nil {
		h.revoked[tripID] = map[string]time.Time{}
	}
	h.revoked[tripID][userID] = h.now()
	if userID == "" {
		delete(h.trackers, tripID)
	} else if t := h.trackers[tripID]; t != nil {
		t.Remove(userID)
	}
}

// disconnect signals the clients revoked by msg to close.
func (h *Hub) disconnect(msg Message) {
	userID, ok := revocation(msg)
	if !ok {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients[msg.TripID] {
		if userID == "" || c.UserID == userID {
			c.revoke()
		}
	}
}

func (h *Hub) reinstate(tripID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r := h.revoked[tripID]; r != nil {
		delete(r, "")
		if len(r) == 0 {
			delete(h.revoked, tripID)
		}
	}
}

// record applies rec unless its trip or member has been revoked. The check
// and the write happen under one lock so a revocation cannot be undone by an
// update already in flight.
func (h *Hub) record(rec domain.PresenceRecord) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r := h.revoked[rec.TripID]; r != nil {
		if _, ok := r[""]; ok {
			return false
		}
		if _, ok := r[rec.UserID]; ok {
			return false
		}
	}
	t := h.trackers[rec.TripID]
	if t == nil {
		t = NewTracker(h.window)
		h.trackers[rec.TripID] = t
	}
	return t.Apply(rec)
}

func (h *Hub) deliver(tripID string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[tripID] {
		select {
		case client.Send <- payload:
		default:
		}
	}
}

func (h *Hub) subscribeRedis(ctx context.Context, pubsub *redis.PubSub) {
	defer close(h.done)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			msg, err := Decode([]byte(m.Payload))
			if err != nil {
				h.log.Warn("presence_bad_payload", "channel", m.Channel, "error", err)
				continue
			}
			if msg.Origin == h.origin {
				continue
			}
			if msg.TripID == "" {
				msg.TripID = tripIDFromChannel(m.Channel)
			}
			h.apply(msg)
			h.deliver(msg.TripID, []byte(m.Payload))
			h.disconnect(msg)
		}
	}
}

func redisChannel(tripID string) string {
	return channelPrefix + tripID + channelSuffix
}

func tripIDFromChannel(ch string) string {
	// convoy:{trip}:presence
	if !strings.HasPrefix(ch, channelPrefix) || !strings.HasSuffix(ch, channelSuffix) {
		return ""
	}
	if len(ch) <= len(channelPrefix)+len(channelSuffix) {
		return ""
	}
	return ch[len(channelPrefix) : len(ch)-len(channelSuffix)]
}
