package agent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/leapkore-12/journeys-tribe-sub000/internal/agent/buffer"
	"github.com/leapkore-12/journeys-tribe-sub000/internal/apperr"
	"github.com/leapkore-12/journeys-tribe-sub000/internal/convoy"
	"github.com/leapkore-12/journeys-tribe-sub000/internal/domain"
	"github.com/leapkore-12/journeys-tribe-sub000/internal/invite"
	"github.com/leapkore-12/journeys-tribe-sub000/internal/presence"
	"github.com/leapkore-12/journeys-tribe-sub000/internal/tracking"
	"github.com/leapkore-12/journeys-tribe-sub000/internal/trip"
)

const teardownTimeout = 10 * time.Second

// Session is one device's participation in one trip.
//
// Every fix goes into the buffer before anything else sees it. The flush
// loop drains the buffer in order while online; the presence loop keeps the
// live channel open while the trip is active and the device is online.
type Session struct {
	api    API
	dialer PresenceDialer
	buf    buffer.Buffer
	geo    GeoSource
	conn   Connectivity
	log    *slog.Logger
	opts   Options
	now    func() time.Time

	view         *convoy.View
	throttle     *presence.Throttle
	flushKick    chan struct{}
	presenceKick chan struct{}
	flushMu      sync.Mutex

	mu          sync.Mutex
	prog        progress
	ownerID     string
	known       map[string]bool
	online      bool
	syncing     bool
	pconn       PresenceConn
	lastPublish time.Time
	rejected    int64
	samplerStop context.CancelFunc
	samplerDone chan struct{}
	loopCtx     context.Context
	finish      context.CancelFunc
	ending      bool
}

func NewSession(api API, dialer PresenceDialer, buf buffer.Buffer, geo GeoSource, conn Connectivity, opts Options, log *slog.Logger) *Session {
	opts.defaults()
	if log == nil {
		log = slog.Default()
	}
	if conn == nil {
		conn = NewManualConnectivity(true)
	}
	s := &Session{
		api:          api,
		dialer:       dialer,
		buf:          buf,
		geo:          geo,
		conn:         conn,
		log:          log.With("trip_id", opts.TripID, "user_id", opts.UserID),
		opts:         opts,
		now:          func() time.Time { return time.Now().UTC() },
		flushKick:    make(chan struct{}, 1),
		presenceKick: make(chan struct{}, 1),
		known:        map[string]bool{},
	}
	s.prog.status = domain.TripActive
	s.view = convoy.NewView(opts.UserID, opts.StalenessWindow, s.now())
	s.throttle = presence.NewThrottle(opts.PublishInterval, s.publishPresence)
	return s
}

// Run drives the session until ctx is cancelled or the trip ends for this
// device. Teardown stops the sampler, flushes what is buffered, then says
// leave on the presence channel before the remaining loops are cancelled.
func (s *Session) Run(ctx context.Context) error {
	runCtx, finish := context.WithCancel(ctx)
	defer finish()
	loopCtx, stopLoops := context.WithCancel(context.WithoutCancel(ctx))
	defer stopLoops()

	s.mu.Lock()
	s.finish = finish
	s.loopCtx = loopCtx
	s.online = s.conn.Online()
	s.mu.Unlock()

	if s.isOnline() {
		if err := s.refresh(runCtx); err != nil {
			if isPermanent(err) {
				return err
			}
			s.log.Warn("trip_state_unknown", "error", err)
		}
	}

	g, gctx := errgroup.WithContext(loopCtx)
	g.Go(func() error { return s.throttle.Run(gctx) })
	g.Go(func() error { return s.presenceLoop(gctx) })
	g.Go(func() error { return s.tickLoop(gctx) })
	g.Go(func() error { return s.connectivityLoop(gctx) })
	g.Go(func() error { return s.flushLoop(gctx) })
	if r, ok := s.conn.(interface{ Run(context.Context) error }); ok {
		g.Go(func() error { return r.Run(gctx) })
	}

	s.react(s.currentStatus())
	s.log.Info("session_started", "status", s.currentStatus())

	select {
	case <-runCtx.Done():
	case <-gctx.Done():
	}

	s.teardown()
	stopLoops()
	err := g.Wait()
	s.log.Info("session_stopped")
	return err
}

func (s *Session) teardown() {
	s.mu.Lock()
	s.ending = true
	s.mu.Unlock()

	s.stopSampler()
	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	if s.isOnline() {
		if err := s.Flush(ctx); err != nil {
			pending, _ := s.buf.Len(ctx)
			s.log.Warn("final_flush_failed", "pending", pending, "error", err)
		}
	}
	s.closePresence(ctx)
}

// Record buffers a fix, then offers it to the presence channel.
func (s *Session) Record(ctx context.Context, sample domain.PositionSample) (domain.PositionSample, error) {
	stored, err := s.buf.Append(ctx, s.opts.TripID, sample)
	if err != nil {
		return domain.PositionSample{}, err
	}
	s.mu.Lock()
	s.prog.add(stored)
	connected := s.pconn != nil
	s.mu.Unlock()

	s.view.SetViewer(&domain.Point{Lat: stored.Lat, Lng: stored.Lng})
	if connected {
		s.throttle.Offer(s.presenceRecord(stored))
	}
	kick(s.flushKick)
	return stored, nil
}

// Flush drains the buffer in capture order. A batch is removed only after
// the server confirms it; on failure it stays at the head for the next try.
// A batch rejected as invalid is halved and retried until the bad sample is
// alone. A batch the server rejects for good (the trip or membership is gone,
// or a single invalid sample) is discarded, logged and counted in
// Status.Rejected.
func (s *Session) Flush(ctx context.Context) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()
	s.setSyncing(true)
	defer s.setSyncing(false)

	limit := s.opts.FlushBatch
	for {
		entries, err := s.buf.Peek(ctx, limit)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}
		tripID := entries[0].TripID
		samples := make([]domain.PositionSample, 0, len(entries))
		for _, e := range entries {
			if e.TripID != tripID {
				break
			}
			sample := e.Sample
			sample.Pending = false
			samples = append(samples, sample)
		}
		through := samples[len(samples)-1].Seq

		s.mu.Lock()
		own := tripID == s.opts.TripID
		reported := 0.0
		if own {
			reported = s.prog.distanceAt(through)
		}
		owner := own && s.ownerID == s.opts.UserID
		s.mu.Unlock()

		res, err := s.api.AppendPositions(ctx, tripID, tracking.Batch{Samples: samples, DistanceM: reported})
		if err != nil {
			// An invalid batch is split until the offending sample is alone;
			// only that one is dropped.
			if errors.Is(err, apperr.ErrInvalidArgument) && len(samples) > 1 {
				limit = len(samples) / 2
				s.log.Warn("position_batch_split", "batch_trip_id", tripID, "samples", len(samples), "limit", limit, "error", err)
				continue
			}
			if !isPermanent(err) {
				return err
			}
			s.log.Error("position_batch_discarded", "batch_trip_id", tripID, "samples", len(samples), "through_seq", through, "error", err)
			s.mu.Lock()
			s.rejected += int64(len(samples))
			s.mu.Unlock()
		}
		if err := s.buf.Ack(ctx, through); err != nil {
			return err
		}

		s.mu.Lock()
		confirmed := 0.0
		if owner {
			confirmed = res.DistanceM
		}
		s.prog.confirm(through, confirmed)
		s.mu.Unlock()
		limit = s.opts.FlushBatch
		s.log.Debug("position_batch_flushed", "samples", len(samples), "stored", res.Stored, "through_seq", through)
	}
}

func (s *Session) Pause(ctx context.Context) (trip.View, error) {
	v, err := s.api.Transition(ctx, s.opts.TripID, "pause")
	if err != nil {
		return trip.View{}, err
	}
	s.applyView(v)
	return v, nil
}

func (s *Session) Resume(ctx context.Context) (trip.View, error) {
	v, err := s.api.Transition(ctx, s.opts.TripID, "resume")
	if err != nil {
		return trip.View{}, err
	}
	s.applyView(v)
	return v, nil
}

// Complete flushes what is buffered and completes the trip. On failure the
// sampler is restarted if the trip is still active.
func (s *Session) Complete(ctx context.Context) (trip.View, error) {
	s.stopSampler()
	if s.isOnline() {
		if err := s.Flush(ctx); err != nil {
			s.log.Warn("pre_complete_flush_failed", "error", err)
		}
	}
	v, err := s.api.Transition(ctx, s.opts.TripID, "complete")
	if err != nil {
		if s.currentStatus() == domain.TripActive {
			s.startSampler()
		}
		return trip.View{}, err
	}
	s.applyView(v)
	return v, nil
}

// Leave takes this device out of the convoy and ends the session.
func (s *Session) Leave(ctx context.Context) (domain.RosterEntry, error) {
	s.stopSampler()
	if s.isOnline() {
		if err := s.Flush(ctx); err != nil {
			s.log.Warn("pre_leave_flush_failed", "error", err)
		}
	}
	e, err := s.api.Leave(ctx, s.opts.TripID)
	if err != nil {
		if s.currentStatus() == domain.TripActive {
			s.startSampler()
		}
		return domain.RosterEntry{}, err
	}
	s.closePresence(ctx)
	s.end()
	return e, nil
}

func (s *Session) TransferLeadership(ctx context.Context, newLeaderID string) (domain.RosterEntry, error) {
	leader, err := s.api.TransferLeadership(ctx, s.opts.TripID, newLeaderID)
	if err != nil {
		return domain.RosterEntry{}, err
	}
	s.refreshRoster(ctx)
	return leader, nil
}

func (s *Session) CreateInvite(ctx context.Context, inviteeID string) (domain.Invite, error) {
	return s.api.CreateInvite(ctx, s.opts.TripID, inviteeID)
}

func (s *Session) AcceptInvite(ctx context.Context, code string) (invite.Acceptance, error) {
	out, err := s.api.AcceptInvite(ctx, code)
	if err != nil {
		return invite.Acceptance{}, err
	}
	if out.Invite.TripID == s.opts.TripID {
		s.refreshRoster(ctx)
	}
	return out, nil
}

func (s *Session) Members() []domain.MergedMember {
	return s.view.Members()
}

func (s *Session) View() *convoy.View {
	return s.view
}

func (s *Session) Summary() convoy.Summary {
	return convoy.Summarize(s.currentStatus(), s.view.Members())
}

func (s *Session) Status(ctx context.Context) Status {
	pending, err := s.buf.Len(ctx)
	if err != nil {
		s.log.Warn("buffer_len_failed", "error", err)
	}
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		TripID:     s.opts.TripID,
		TripStatus: s.prog.status,
		Online:     s.online,
		Syncing:    s.syncing,
		Connected:  s.pconn != nil,
		Pending:    pending,
		Dropped:    s.buf.Dropped(),
		Rejected:   s.rejected,
		DistanceM:  s.prog.distanceM,
		ElapsedSec: int64(s.prog.elapsed(now) / time.Second),
	}
	if s.prog.lastFix != nil {
		st.LastFix = &domain.Point{Lat: s.prog.lastFix.Lat, Lng: s.prog.lastFix.Lng}
	}
	return st
}

// loops

func (s *Session) sampleLoop(ctx context.Context) {
	for {
		sample, err := s.geo.Next(ctx)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				s.log.Info("geo_source_exhausted")
			case ctx.Err() == nil:
				s.log.Warn("geo_source_failed", "error", err)
			}
			return
		}
		if _, err := s.Record(ctx, sample); err != nil {
			s.log.Error("sample_buffer_failed", "error", err)
		}
	}
}

func (s *Session) presenceLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		if !s.wantPresence() {
			select {
			case <-ctx.Done():
				return nil
			case <-s.presenceKick:
			}
			continue
		}
		pc, err := s.dialer.Dial(ctx, s.opts.TripID)
		if err != nil {
			s.log.Warn("presence_dial_failed", "error", err)
			if !wait(ctx, s.opts.RedialInterval, s.presenceKick) {
				return nil
			}
			continue
		}
		if !s.attach(pc) {
			_ = pc.Close()
			continue
		}
		s.log.Info("presence_connected")
		s.announce()
		s.receive(ctx, pc)
		s.detach(pc)
		s.log.Info("presence_disconnected")
	}
}

func (s *Session) receive(ctx context.Context, pc PresenceConn) {
	for {
		msg, err := pc.Receive(ctx)
		if err != nil {
			return
		}
		switch msg.Type {
		case presence.TypeSnapshot:
			records := make([]domain.PresenceRecord, 0, len(msg.Records))
			for _, r := range msg.Records {
				if r.UserID != s.opts.UserID {
					records = append(records, r)
				}
			}
			s.view.ReplacePresence(records)
		case presence.TypePosition:
			if msg.Record != nil && msg.Record.UserID != s.opts.UserID {
				s.view.ApplyPresence(*msg.Record)
			}
		case presence.TypeLeave:
			s.view.RemovePresence(msg.UserID)
		case presence.TypeJoin:
			if !s.knows(msg.UserID) {
				s.refreshRoster(ctx)
			}
		case presence.TypeRoster:
			s.refreshRoster(ctx)
		case presence.TypeTrip:
			if msg.Status != "" {
				s.setStatus(msg.Status)
			}
		}
	}
}

func (s *Session) tickLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.TickInterval)
	defer ticker.Stop()
	lastRefresh := s.now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		now := s.now()
		s.view.Tick(now)
		s.heartbeat(now)
		if now.Sub(lastRefresh) >= s.opts.RefreshInterval && s.isOnline() {
			lastRefresh = now
			if err := s.refresh(ctx); err != nil && ctx.Err() == nil {
				s.log.Warn("trip_refresh_failed", "error", err)
			}
		}
	}
}

func (s *Session) connectivityLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case online := <-s.conn.Changes():
			s.setOnline(online)
			// the trip may have moved on while we were away
			if online {
				if err := s.refresh(ctx); err != nil && ctx.Err() == nil {
					s.log.Warn("trip_refresh_failed", "error", err)
				}
			}
		}
	}
}

func (s *Session) flushLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.flushKick:
		}
		if !s.isOnline() {
			continue
		}
		if err := s.Flush(ctx); err != nil && ctx.Err() == nil {
			pending, _ := s.buf.Len(ctx)
			s.log.Warn("flush_failed", "pending", pending, "error", err)
		}
		if !wait(ctx, s.opts.FlushInterval, nil) {
			return nil
		}
	}
}

// state

func (s *Session) refresh(ctx context.Context) error {
	v, err := s.api.Trip(ctx, s.opts.TripID)
	if err != nil {
		return err
	}
	s.applyView(v)
	s.refreshRoster(ctx)
	return nil
}

func (s *Session) refreshRoster(ctx context.Context) {
	entries, err := s.api.Roster(ctx, s.opts.TripID)
	if err != nil {
		s.log.Warn("roster_refresh_failed", "error", err)
		return
	}
	known := make(map[string]bool, len(entries))
	for _, e := range entries {
		known[e.UserID] = true
	}
	s.mu.Lock()
	s.known = known
	s.mu.Unlock()
	s.view.SetRoster(entries)
}

func (s *Session) applyView(v trip.View) {
	s.mu.Lock()
	prev := s.prog.status
	s.ownerID = v.OwnerID
	s.prog.reset(v.Status, v.DistanceM, time.Duration(v.ElapsedSec)*time.Second, s.now())
	s.mu.Unlock()
	if prev != v.Status {
		s.log.Info("trip_status_changed", "from", prev, "to", v.Status)
	}
	s.react(v.Status)
}

func (s *Session) setStatus(status domain.TripStatus) {
	s.mu.Lock()
	prev := s.prog.status
	s.prog.setStatus(status, s.now())
	s.mu.Unlock()
	if prev != status {
		s.log.Info("trip_status_changed", "from", prev, "to", status)
	}
	s.react(status)
}

// react acquires or releases the sampler and presence channel for status.
func (s *Session) react(status domain.TripStatus) {
	switch status {
	case domain.TripActive:
		s.startSampler()
		kick(s.presenceKick)
	case domain.TripPaused, domain.TripPlanned:
		s.stopSampler()
		ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
		s.closePresence(ctx)
		cancel()
	case domain.TripCompleted, domain.TripCancelled:
		s.end()
	}
}

func (s *Session) setOnline(online bool) {
	s.mu.Lock()
	changed := s.online != online
	s.online = online
	s.mu.Unlock()
	if !changed {
		return
	}
	if online {
		s.log.Info("connectivity_online")
		kick(s.flushKick)
		kick(s.presenceKick)
		return
	}
	s.log.Info("connectivity_offline")
	s.mu.Lock()
	pc := s.pconn
	s.pconn = nil
	s.mu.Unlock()
	if pc != nil {
		_ = pc.Close()
	}
}

func (s *Session) startSampler() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.geo == nil || s.samplerStop != nil || s.ending || s.loopCtx == nil {
		return
	}
	ctx, cancel := context.WithCancel(s.loopCtx)
	done := make(chan struct{})
	s.samplerStop, s.samplerDone = cancel, done
	go func() {
		defer close(done)
		s.sampleLoop(ctx)
	}()
}

func (s *Session) stopSampler() {
	s.mu.Lock()
	cancel, done := s.samplerStop, s.samplerDone
	s.samplerStop, s.samplerDone = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Session) wantPresence() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online && !s.ending && s.prog.status == domain.TripActive && s.pconn == nil && s.dialer != nil
}

func (s *Session) attach(pc PresenceConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.online || s.ending || s.prog.status != domain.TripActive || s.pconn != nil {
		return false
	}
	s.pconn = pc
	return true
}

func (s *Session) detach(pc PresenceConn) {
	s.mu.Lock()
	if s.pconn == pc {
		s.pconn = nil
	}
	s.mu.Unlock()
	_ = pc.Close()
}

// closePresence says leave and closes the channel. The leave is best
// effort; peers fall back to the staleness window.
func (s *Session) closePresence(ctx context.Context) {
	s.mu.Lock()
	pc := s.pconn
	s.pconn = nil
	s.mu.Unlock()
	if pc == nil {
		return
	}
	if err := pc.Send(ctx, presence.Message{Type: presence.TypeLeave, TripID: s.opts.TripID, UserID: s.opts.UserID}); err != nil {
		s.log.Debug("presence_leave_failed", "error", err)
	}
	_ = pc.Close()
}

func (s *Session) announce() {
	s.mu.Lock()
	fix := s.prog.lastFix
	s.mu.Unlock()
	if fix != nil {
		s.throttle.Offer(s.presenceRecord(*fix))
	}
}

// heartbeat republishes the last fix so a stationary device does not go
// stale for its peers.
func (s *Session) heartbeat(now time.Time) {
	s.mu.Lock()
	due := s.pconn != nil && s.prog.lastFix != nil && now.Sub(s.lastPublish) >= s.opts.StalenessWindow/3
	var fix domain.PositionSample
	if due {
		fix = *s.prog.lastFix
	}
	s.mu.Unlock()
	if due {
		s.throttle.Offer(s.presenceRecord(fix))
	}
}

func (s *Session) publishPresence(ctx context.Context, rec domain.PresenceRecord) error {
	s.mu.Lock()
	pc := s.pconn
	s.mu.Unlock()
	if pc == nil {
		return nil
	}
	rec.UpdatedAt = s.now()
	err := pc.Send(ctx, presence.Message{Type: presence.TypePosition, TripID: s.opts.TripID, UserID: s.opts.UserID, Record: &rec})
	if err != nil {
		s.log.Debug("presence_publish_failed", "error", err)
		return err
	}
	s.mu.Lock()
	s.lastPublish = rec.UpdatedAt
	s.mu.Unlock()
	return nil
}

func (s *Session) presenceRecord(sample domain.PositionSample) domain.PresenceRecord {
	return domain.PresenceRecord{
		TripID:      s.opts.TripID,
		UserID:      s.opts.UserID,
		Lat:         sample.Lat,
		Lng:         sample.Lng,
		Heading:     sample.Heading,
		Speed:       sample.Speed,
		VehicleType: s.opts.VehicleType,
	}
}

func (s *Session) end() {
	s.mu.Lock()
	finish := s.finish
	s.mu.Unlock()
	if finish != nil {
		finish()
	}
}

func (s *Session) knows(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.known[userID]
}

func (s *Session) isOnline() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

func (s *Session) setSyncing(v bool) {
	s.mu.Lock()
	s.syncing = v
	s.mu.Unlock()
}

func (s *Session) currentStatus() domain.TripStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prog.status
}

// isPermanent reports errors retrying cannot fix.
func isPermanent(err error) bool {
	for _, target := range []error{
		apperr.ErrTripNotFound,
		apperr.ErrTripNotActive,
		apperr.ErrNotActiveMember,
		apperr.ErrInvalidArgument,
		apperr.ErrForbidden,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func kick(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// wait sleeps for d, returning early on a kick. It reports false when ctx
// is done.
func wait(ctx context.Context, d time.Duration, wake <-chan struct{}) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	case <-wake:
		return true
	}
}
