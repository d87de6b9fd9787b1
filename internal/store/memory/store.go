// Package memory is a process-local store used by STORE_DRIVER=memory and
// by scenario tests. A single mutex makes every method atomic.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/leapkore-12/journeys-tribe-sub000/internal/apperr"
	"github.com/leapkore-12/journeys-tribe-sub000/internal/domain"
)

type Store struct {
	mu        sync.Mutex
	trips     map[string]domain.Trip
	active    map[string]string
	roster    map[string]map[string]domain.RosterEntry
	invites   map[string]domain.Invite
	positions map[string]map[int64]domain.PositionSample
}

func New() *Store {
	return &Store{
		trips:     map[string]domain.Trip{},
		active:    map[string]string{},
		roster:    map[string]map[string]domain.RosterEntry{},
		invites:   map[string]domain.Invite{},
		positions: map[string]map[int64]domain.PositionSample{},
	}
}

func (s *Store) CreateTrip(_ context.Context, t domain.Trip, leader domain.RosterEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.trips[t.ID]; ok {
		return apperr.ErrStaleWrite
	}
	if t.Status.Open() && s.hasOpenLocked(t.OwnerID, t.ID) {
		return apperr.ErrStaleWrite
	}
	s.trips[t.ID] = t
	s.roster[t.ID] = map[string]domain.RosterEntry{leader.UserID: leader}
	if t.Status == domain.TripActive {
		s.active[t.OwnerID] = t.ID
	}
	return nil
}

func (s *Store) GetTrip(_ context.Context, id string) (domain.Trip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trips[id]
	if !ok {
		return domain.Trip{}, apperr.ErrTripNotFound
	}
	return t, nil
}

func (s *Store) OpenTrips(_ context.Context, ownerID string) ([]domain.Trip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Trip
	for _, t := range s.trips {
		if t.OwnerID == ownerID && t.Status.Open() {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) ActiveTrip(_ context.Context, userID string) (domain.Trip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.active[userID]; ok {
		if t, ok := s.trips[id]; ok && t.Status.Open() {
			return t, nil
		}
	}
	var (
		best  domain.Trip
		found bool
	)
	for tripID, entries := range s.roster {
		e, ok := entries[userID]
		if !ok || !e.Active() {
			continue
		}
		t := s.trips[tripID]
		if t.Status.Open() && (!found || t.UpdatedAt.After(best.UpdatedAt)) {
			best, found = t, true
		}
	}
	if !found {
		return domain.Trip{}, apperr.ErrTripNotFound
	}
	return best, nil
}

func (s *Store) UpdateTrip(_ context.Context, t domain.Trip, from domain.TripStatus) (domain.Trip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.trips[t.ID]
	if !ok {
		return domain.Trip{}, apperr.ErrTripNotFound
	}
	if cur.Status != from || cur.Version != t.Version {
		return domain.Trip{}, apperr.ErrStaleWrite
	}
	if t.Status.Open() && !from.Open() && s.hasOpenLocked(t.OwnerID, t.ID) {
		return domain.Trip{}, apperr.ErrStaleWrite
	}
	t.Version++
	s.trips[t.ID] = t
	switch {
	case t.Status == domain.TripActive:
		s.active[t.OwnerID] = t.ID
	case t.Status.Terminal():
		for uid, e := range s.roster[t.ID] {
			if e.Active() {
				e.Status = domain.MemberCompleted
				e.UpdatedAt = t.UpdatedAt
				s.roster[t.ID][uid] = e
			}
		}
		if s.active[t.OwnerID] == t.ID {
			delete(s.active, t.OwnerID)
		}
	}
	return t, nil
}

func (s *Store) Leader(_ context.Context, tripID string) (domain.RosterEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.leaderLocked(tripID); ok {
		return e, nil
	}
	return domain.RosterEntry{}, apperr.ErrNotLeader
}

func (s *Store) Entry(_ context.Context, tripID, userID string) (domain.RosterEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.roster[tripID][userID]
	if !ok {
		return domain.RosterEntry{}, apperr.ErrNotActiveMember
	}
	return e, nil
}

func (s *Store) ListActive(_ context.Context, tripID string) ([]domain.RosterEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.trips[tripID]; !ok {
		return nil, apperr.ErrTripNotFound
	}
	out := make([]domain.RosterEntry, 0, len(s.roster[tripID]))
	for _, e := range s.roster[tripID] {
		if e.Active() {
			out = append(out, e)
		}
	}
	domain.SortByJoin(out)
	return out, nil
}

func (s *Store) Join(_ context.Context, entry domain.RosterEntry) (domain.RosterEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joinLocked(entry)
}

func (s *Store) Leave(_ context.Context, tripID, userID string, at time.Time) (domain.RosterEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.roster[tripID][userID]
	if !ok || !e.Active() {
		return domain.RosterEntry{}, apperr.ErrNotActiveMember
	}
	e.Status = domain.MemberLeft
	e.UpdatedAt = at
	s.roster[tripID][userID] = e
	return e, nil
}

func (s *Store) TransferLeadership(_ context.Context, tripID, fromUserID, toUserID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	leader, ok := s.leaderLocked(tripID)
	if !ok || leader.UserID != fromUserID {
		return apperr.ErrNotLeader
	}
	target, ok := s.roster[tripID][toUserID]
	if !ok || !target.Active() {
		return apperr.ErrTargetNotActiveMember
	}
	if fromUserID == toUserID {
		return nil
	}
	leader.IsLeader = false
	leader.UpdatedAt = at
	s.roster[tripID][fromUserID] = leader
	target.IsLeader = true
	target.UpdatedAt = at
	s.roster[tripID][toUserID] = target
	return nil
}

func (s *Store) CreateInvite(_ context.Context, inv domain.Invite) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.invites[inv.Code]; ok {
		return apperr.ErrStaleWrite
	}
	s.invites[inv.Code] = inv
	return nil
}

func (s *Store) GetInvite(_ context.Context, code string) (domain.Invite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invites[code]
	if !ok {
		return domain.Invite{}, apperr.ErrInviteNotFound
	}
	return inv, nil
}

func (s *Store) ListInvites(_ context.Context, tripID string) ([]domain.Invite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Invite
	for _, inv := range s.invites {
		if inv.TripID == tripID {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// AcceptInvite consumes the invite and joins the roster atomically. An
// invite found past its expiry is flipped to expired before failing.
func (s *Store) AcceptInvite(_ context.Context, code, userID string, now time.Time) (domain.Invite, domain.RosterEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invites[code]
	if !ok {
		return domain.Invite{}, domain.RosterEntry{}, apperr.ErrInviteNotFound
	}
	if err := inv.CheckAcceptable(userID, now); err != nil {
		if inv.Status == domain.InvitePending && inv.Expired(now) {
			inv.Status = domain.InviteExpired
			s.invites[code] = inv
		}
		return domain.Invite{}, domain.RosterEntry{}, err
	}
	entry, err := s.joinLocked(domain.RosterEntry{
		TripID:     inv.TripID,
		UserID:     userID,
		Status:     domain.MemberActive,
		JoinedAt:   now,
		InviteCode: code,
		UpdatedAt:  now,
	})
	if err != nil {
		return domain.Invite{}, domain.RosterEntry{}, err
	}
	inv.Status = domain.InviteAccepted
	inv.AcceptedBy = userID
	at := now
	inv.AcceptedAt = &at
	s.invites[code] = inv
	return inv, entry, nil
}

// AppendPositions stores samples idempotently on seq and returns how many
// were new.
func (s *Store) AppendPositions(_ context.Context, tripID, userID string, samples []domain.PositionSample, progress *domain.TripProgress) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trips[tripID]
	if !ok {
		return 0, apperr.ErrTripNotFound
	}
	key := tripID + "/" + userID
	if s.positions[key] == nil {
		s.positions[key] = map[int64]domain.PositionSample{}
	}
	stored := 0
	for _, p := range samples {
		if _, dup := s.positions[key][p.Seq]; dup {
			continue
		}
		p.Pending = false
		s.positions[key][p.Seq] = p
		stored++
	}
	if t.Status.Open() && (stored > 0 || progress != nil) {
		t.SampleCount += int64(stored)
		if progress != nil {
			pos := progress.LastPosition
			at := progress.LastSampleAt
			t.LastPosition = &pos
			t.LastSampleAt = &at
			t.DistanceM = progress.DistanceM
		}
		t.Version++
		s.trips[tripID] = t
	}
	return stored, nil
}

func (s *Store) Positions(_ context.Context, tripID, userID string) ([]domain.PositionSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.positions[tripID+"/"+userID]
	out := make([]domain.PositionSample, 0, len(m))
	for _, p := range m {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// Ping satisfies the health check.
func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) joinLocked(entry domain.RosterEntry) (domain.RosterEntry, error) {
	t, ok := s.trips[entry.TripID]
	if !ok {
		return domain.RosterEntry{}, apperr.ErrTripNotFound
	}
	if !t.Status.Joinable() {
		return domain.RosterEntry{}, apperr.ErrTripNotActive
	}
	if s.roster[entry.TripID] == nil {
		s.roster[entry.TripID] = map[string]domain.RosterEntry{}
	}
	if cur, ok := s.roster[entry.TripID][entry.UserID]; ok {
		if cur.Active() {
			return domain.RosterEntry{}, apperr.ErrAlreadyMember
		}
		cur.Status = domain.MemberActive
		cur.JoinedAt = entry.JoinedAt
		cur.InviteCode = entry.InviteCode
		cur.UpdatedAt = entry.UpdatedAt
		s.roster[entry.TripID][entry.UserID] = cur
		return cur, nil
	}
	entry.IsLeader = false
	entry.Status = domain.MemberActive
	s.roster[entry.TripID][entry.UserID] = entry
	return entry, nil
}

func (s *Store) leaderLocked(tripID string) (domain.RosterEntry, bool) {
	for _, e := range s.roster[tripID] {
		if e.IsLeader {
			return e, true
		}
	}
	return domain.RosterEntry{}, false
}

func (s *Store) hasOpenLocked(ownerID, except string) bool {
	for id, t := range s.trips {
		if id != except && t.OwnerID == ownerID && t.Status.Open() {
			return true
		}
	}
	return false
}

// LeaderCount returns how many entries of the trip carry the leader flag.
func (s *Store) LeaderCount(tripID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.roster[tripID] {
		if e.IsLeader {
			n++
		}
	}
	return n
}
