package convoy

import (
	"reflect"
	"sync"
	"time"

	"github.com/leapkore-12/journeys-tribe-sub000/internal/domain"
)

// View holds the latest roster and presence inputs of one trip and
// recomputes the merged member list whenever one of them changes.
// Subscribers receive the newest list; intermediate lists may be skipped.
type View struct {
	selfID string
	window time.Duration

	mu       sync.Mutex
	now      time.Time
	roster   []domain.RosterEntry
	presence map[string]domain.PresenceRecord
	viewer   *domain.Point
	members  []domain.MergedMember
	subs     map[int]chan []domain.MergedMember
	nextSub  int
}

func NewView(selfID string, window time.Duration, now time.Time) *View {
	v := &View{
		selfID:   selfID,
		window:   window,
		now:      now,
		presence: map[string]domain.PresenceRecord{},
		subs:     map[int]chan []domain.MergedMember{},
	}
	v.members = v.merge()
	return v
}

func (v *View) SetRoster(entries []domain.RosterEntry) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.roster = append([]domain.RosterEntry(nil), entries...)
	v.recompute(true)
}

// ApplyPresence keeps the record with the newest UpdatedAt per user.
func (v *View) ApplyPresence(rec domain.PresenceRecord) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if cur, ok := v.presence[rec.UserID]; ok && cur.UpdatedAt.After(rec.UpdatedAt) {
		return
	}
	v.presence[rec.UserID] = rec
	v.recompute(false)
}

func (v *View) ReplacePresence(records []domain.PresenceRecord) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.presence = make(map[string]domain.PresenceRecord, len(records))
	for _, r := range records {
		v.presence[r.UserID] = r
	}
	v.recompute(false)
}

func (v *View) RemovePresence(userID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.presence[userID]; !ok {
		return
	}
	delete(v.presence, userID)
	v.recompute(false)
}

func (v *View) SetViewer(p *domain.Point) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if p != nil {
		cp := *p
		p = &cp
	}
	v.viewer = p
	v.recompute(false)
}

// Tick moves the evaluation clock so staleness is re-evaluated.
func (v *View) Tick(now time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.now = now
	v.recompute(false)
}

func (v *View) Members() []domain.MergedMember {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]domain.MergedMember(nil), v.members...)
}

// Subscribe returns a channel that receives the current list and every
// change after it. The returned func cancels the subscription.
func (v *View) Subscribe() (<-chan []domain.MergedMember, func()) {
	v.mu.Lock()
	defer v.mu.Unlock()
	id := v.nextSub
	v.nextSub++
	ch := make(chan []domain.MergedMember, 1)
	ch <- append([]domain.MergedMember(nil), v.members...)
	v.subs[id] = ch
	return ch, func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		if _, ok := v.subs[id]; ok {
			delete(v.subs, id)
			close(ch)
		}
	}
}

func (v *View) merge() []domain.MergedMember {
	presence := make([]domain.PresenceRecord, 0, len(v.presence))
	for _, p := range v.presence {
		presence = append(presence, p)
	}
	return Merge(MergeInput{
		Roster:   v.roster,
		Presence: presence,
		SelfID:   v.selfID,
		Viewer:   v.viewer,
		Now:      v.now,
		Window:   v.window,
	})
}

// recompute must be called with mu held.
func (v *View) recompute(force bool) {
	next := v.merge()
	if !force && reflect.DeepEqual(next, v.members) {
		return
	}
	v.members = next
	for _, ch := range v.subs {
		snapshot := append([]domain.MergedMember(nil), next...)
		select {
		case ch <- snapshot:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- snapshot
		}
	}
}
