package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/leapkore-12/journeys-tribe-sub000/internal/apperr"
	"github.com/leapkore-12/journeys-tribe-sub000/internal/auth"
	"github.com/leapkore-12/journeys-tribe-sub000/internal/config"
	"github.com/leapkore-12/journeys-tribe-sub000/internal/domain"
	"github.com/leapkore-12/journeys-tribe-sub000/internal/events"
	"github.com/leapkore-12/journeys-tribe-sub000/internal/invite"
	"github.com/leapkore-12/journeys-tribe-sub000/internal/store/memory"
	"github.com/leapkore-12/journeys-tribe-sub000/internal/tracking"
	"github.com/leapkore-12/journeys-tribe-sub000/internal/trip"
)

const secret = "secret"

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() config.Config {
	return config.Config{
		JWTSecret:       secret,
		ServerPort:      ":0",
		StalenessWindow: 30 * time.Second,
		InviteTTL:       time.Hour,
	}
}

func newTestServer(t *testing.T, st Store, extra events.Publisher) *Server {
	t.Helper()
	s := NewServer(testConfig(), st, nil, extra, quietLogger())
	t.Cleanup(s.Close)
	return s
}

func call(t *testing.T, s *Server, method, path, user string, body any, out any) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		token, err := auth.Sign(secret, user, time.Minute)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.App.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

type failingPing struct {
	*memory.Store
}

func (failingPing) Ping(context.Context) error { return errors.New("connection refused") }

func TestHealthRoute(t *testing.T) {
	s := newTestServer(t, memory.New(), nil)

	req := httptest.NewRequest("GET", "/health", nil)
	resp, err := s.App.Test(req)
	if err != nil {
		t.Fatalf("test request: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200 status")
	}
}

func TestHealthReportsUnavailableStore(t *testing.T) {
	s := newTestServer(t, failingPing{memory.New()}, nil)

	var body apperr.Body
	if code := call(t, s, http.MethodGet, "/health", "", nil, &body); code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", code)
	}
	if body.Code != apperr.CodePersistenceUnavailable {
		t.Fatalf("unexpected code %q", body.Code)
	}
}

func TestRoutesRequireToken(t *testing.T) {
	s := newTestServer(t, memory.New(), nil)
	if code := call(t, s, http.MethodGet, "/trips/active", "", nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", code)
	}
}

func TestConvoyFlow(t *testing.T) {
	var published []events.Type
	extra := events.PublisherFunc(func(_ context.Context, ev events.Event) error {
		published = append(published, ev.Type)
		return nil
	})
	s := newTestServer(t, memory.New(), extra)

	var created trip.View
	code := call(t, s, http.MethodPost, "/trips", "leader", map[string]any{"name": "Coast run"}, &created)
	if code != http.StatusCreated {
		t.Fatalf("create trip: %d", code)
	}
	if created.Status != domain.TripActive {
		t.Fatalf("expected active trip, got %s", created.Status)
	}
	tripID := created.ID

	var inv domain.Invite
	code = call(t, s, http.MethodPost, "/trips/"+tripID+"/invites", "leader", map[string]string{"invitee_id": "rider"}, &inv)
	if code != http.StatusCreated {
		t.Fatalf("create invite: %d", code)
	}

	var accepted invite.Acceptance
	if code := call(t, s, http.MethodPost, "/invites/"+inv.Code+"/accept", "rider", nil, &accepted); code != http.StatusOK {
		t.Fatalf("accept invite: %d", code)
	}
	if accepted.Entry.UserID != "rider" || !accepted.Entry.Active() {
		t.Fatalf("unexpected entry %+v", accepted.Entry)
	}

	var roster []domain.RosterEntry
	if code := call(t, s, http.MethodGet, "/trips/"+tripID+"/roster", "rider", nil, &roster); code != http.StatusOK {
		t.Fatalf("roster: %d", code)
	}
	if len(roster) != 2 {
		t.Fatalf("expected 2 roster entries, got %d", len(roster))
	}

	now := time.Now().UTC().Add(-time.Second)
	batch := tracking.Batch{Samples: []domain.PositionSample{
		{Seq: 1, Lat: 52.0, Lng: 4.0, CapturedAt: now.Add(-time.Second)},
		{Seq: 2, Lat: 52.001, Lng: 4.0, CapturedAt: now},
	}}
	var result tracking.BatchResult
	if code := call(t, s, http.MethodPost, "/trips/"+tripID+"/positions", "leader", batch, &result); code != http.StatusCreated {
		t.Fatalf("append positions: %d", code)
	}
	if result.Stored != 2 || result.LastSeq != 2 {
		t.Fatalf("unexpected result %+v", result)
	}

	s.Presence.Update(context.Background(), domain.PresenceRecord{
		TripID: tripID, UserID: "rider", Lat: 52.002, Lng: 4.0, UpdatedAt: time.Now().UTC(),
	})

	var view struct {
		Members []domain.MergedMember `json:"members"`
	}
	if code := call(t, s, http.MethodGet, "/trips/"+tripID+"/convoy?lat=52.0&lng=4.0", "leader", nil, &view); code != http.StatusOK {
		t.Fatalf("convoy: %d", code)
	}
	if len(view.Members) != 1 || view.Members[0].UserID != "rider" || !view.Members[0].Connected {
		t.Fatalf("unexpected convoy view %+v", view.Members)
	}
	if view.Members[0].DistanceFromViewerM == nil {
		t.Fatalf("expected distance from viewer")
	}

	var ended trip.View
	if code := call(t, s, http.MethodPost, "/trips/"+tripID+"/complete", "rider", nil, nil); code != http.StatusForbidden {
		t.Fatalf("expected non-leader complete to be forbidden, got %d", code)
	}
	if code := call(t, s, http.MethodPost, "/trips/"+tripID+"/complete", "leader", nil, &ended); code != http.StatusOK {
		t.Fatalf("complete: %d", code)
	}
	if ended.Status != domain.TripCompleted {
		t.Fatalf("expected completed, got %s", ended.Status)
	}
	if got := s.Presence.Snapshot(tripID); len(got) != 0 {
		t.Fatalf("expected presence released on completion, got %d records", len(got))
	}
	if len(published) == 0 || published[len(published)-1] != events.TripCompleted {
		t.Fatalf("expected trip.completed to reach the extra publisher, got %v", published)
	}
}

func TestPresenceGate(t *testing.T) {
	s := newTestServer(t, memory.New(), nil)
	ctx := context.Background()

	active, err := s.Trips.Start(ctx, domain.TripDraft{OwnerID: "leader", Name: "a"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.admitPresence(ctx, active.ID, "leader"); err != nil {
		t.Fatalf("leader should be admitted: %v", err)
	}
	if err := s.admitPresence(ctx, active.ID, "stranger"); err == nil {
		t.Fatalf("expected stranger to be rejected")
	}
	if err := s.admitPresence(ctx, "missing", "leader"); !errors.Is(err, apperr.ErrTripNotFound) {
		t.Fatalf("expected trip not found, got %v", err)
	}

	if _, err := s.Trips.Pause(ctx, active.ID, "leader"); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := s.admitPresence(ctx, active.ID, "leader"); !errors.Is(err, apperr.ErrTripNotActive) {
		t.Fatalf("expected trip not active, got %v", err)
	}
}

func TestPresenceRequiresUpgrade(t *testing.T) {
	s := newTestServer(t, memory.New(), nil)
	if code := call(t, s, http.MethodGet, "/presence/ws/trip-1", "leader", nil, nil); code != http.StatusUpgradeRequired {
		t.Fatalf("expected 426, got %d", code)
	}
}

func TestNewServerWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	s := NewServer(testConfig(), memory.New(), rdb, nil, quietLogger())
	defer s.Close()

	if code := call(t, s, http.MethodGet, "/health", "", nil, nil); code != http.StatusOK {
		t.Fatalf("health with redis: %d", code)
	}
}
