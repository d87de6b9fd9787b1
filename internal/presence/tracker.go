package presence

import (
	"sort"
	"sync"
	"time"

	"github.com/leapkore-12/journeys-tribe-sub000/internal/domain"
)

// DefaultWindow is how long a record counts as connected without an update.
const DefaultWindow = 30 * time.Second

// Tracker keeps the latest presence record per user for one trip. The most
// recent UpdatedAt wins regardless of arrival order.
type Tracker struct {
	window  time.Duration
	mu      sync.Mutex
	records map[string]domain.PresenceRecord
}

func NewTracker(window time.Duration) *Tracker {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Tracker{window: window, records: map[string]domain.PresenceRecord{}}
}

// Apply stores rec unless a newer record for the same user is held.
func (t *Tracker) Apply(rec domain.PresenceRecord) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.records[rec.UserID]; ok && cur.UpdatedAt.After(rec.UpdatedAt) {
		return false
	}
	t.records[rec.UserID] = rec
	return true
}

func (t *Tracker) Remove(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.records[userID]; !ok {
		return false
	}
	delete(t.records, userID)
	return true
}

// Snapshot returns the records that are fresh at now, ordered by user id.
func (t *Tracker) Snapshot(now time.Time) []domain.PresenceRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.PresenceRecord, 0, len(t.records))
	for _, r := range t.records {
		if !r.Stale(now, t.window) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Sweep drops stale records and returns their user ids.
func (t *Tracker) Sweep(now time.Time) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var removed []string
	for id, r := range t.records {
		if r.Stale(now, t.window) {
			delete(t.records, id)
			removed = append(removed, id)
		}
	}
	sort.Strings(removed)
	return removed
}

func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}
