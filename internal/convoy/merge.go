// Package convoy reconciles the durable roster with live presence into the
// member list a device renders.
package convoy

import (
	"sort"
	"time"

	"github.com/leapkore-12/journeys-tribe-sub000/internal/domain"
	"github.com/leapkore-12/journeys-tribe-sub000/internal/shared/geo"
)

type MergeInput struct {
	Roster   []domain.RosterEntry
	Presence []domain.PresenceRecord
	// SelfID is left out of the output.
	SelfID string
	Viewer *domain.Point
	Now    time.Time
	Window time.Duration
}

type ranked struct {
	member      domain.MergedMember
	joinIndex   int
	hasDistance bool
}

// Merge projects the active roster and presence records into one member
// list. It has no side effects and the same input always gives the same
// output.
//
// A stale record leaves the member disconnected but keeps the last known
// position. A fresh record for a user without an active roster entry becomes
// a provisional member, which covers a join or rejoin not yet visible in the
// roster. Left or completed users without fresh presence are not shown.
func Merge(in MergeInput) []domain.MergedMember {
	window := in.Window
	if window <= 0 {
		window = 30 * time.Second
	}

	latest := make(map[string]domain.PresenceRecord, len(in.Presence))
	for _, p := range in.Presence {
		if cur, ok := latest[p.UserID]; ok && cur.UpdatedAt.After(p.UpdatedAt) {
			continue
		}
		latest[p.UserID] = p
	}

	entries := make([]domain.RosterEntry, len(in.Roster))
	copy(entries, in.Roster)
	domain.SortByJoin(entries)

	active := make(map[string]bool, len(entries))
	rows := make([]ranked, 0, len(entries)+len(latest))
	for _, e := range entries {
		if !e.Active() {
			continue
		}
		active[e.UserID] = true
		if e.UserID == in.SelfID {
			continue
		}
		m := domain.MergedMember{
			UserID:   e.UserID,
			IsLeader: e.IsLeader,
			JoinedAt: e.JoinedAt,
		}
		if p, ok := latest[e.UserID]; ok {
			overlay(&m, p, in.Now, window)
		}
		rows = append(rows, rank(m, len(rows), in.Viewer))
	}

	var provisional []string
	for id, p := range latest {
		if active[id] || id == in.SelfID || p.Stale(in.Now, window) {
			continue
		}
		provisional = append(provisional, id)
	}
	sort.Strings(provisional)
	for _, id := range provisional {
		m := domain.MergedMember{UserID: id, Provisional: true}
		overlay(&m, latest[id], in.Now, window)
		rows = append(rows, rank(m, len(entries)+len(rows), in.Viewer))
	}

	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.member.Connected != b.member.Connected {
			return a.member.Connected
		}
		if a.hasDistance != b.hasDistance {
			return a.hasDistance
		}
		if a.hasDistance && *a.member.DistanceFromViewerM != *b.member.DistanceFromViewerM {
			return *a.member.DistanceFromViewerM < *b.member.DistanceFromViewerM
		}
		if a.member.Provisional != b.member.Provisional {
			return !a.member.Provisional
		}
		return a.joinIndex < b.joinIndex
	})

	out := make([]domain.MergedMember, len(rows))
	for i, r := range rows {
		out[i] = r.member
	}
	return out
}

func overlay(m *domain.MergedMember, p domain.PresenceRecord, now time.Time, window time.Duration) {
	at := p.UpdatedAt
	m.Connected = !p.Stale(now, window)
	m.Lat, m.Lng = p.Lat, p.Lng
	m.Heading, m.Speed = p.Heading, p.Speed
	m.VehicleType = p.VehicleType
	m.LastUpdate = &at
}

func rank(m domain.MergedMember, joinIndex int, viewer *domain.Point) ranked {
	r := ranked{member: m, joinIndex: joinIndex}
	if viewer != nil && m.LastUpdate != nil {
		d := geo.DistanceM(viewer.Lat, viewer.Lng, m.Lat, m.Lng)
		r.member.DistanceFromViewerM = &d
		r.hasDistance = true
	}
	return r
}

// Summary is the convoy header shown next to the member list.
type Summary struct {
	TripStatus domain.TripStatus `json:"trip_status"`
	Connected  int               `json:"connected"`
	Total      int               `json:"total"`
}

// Summarize counts the merged members, which never include the viewer.
func Summarize(status domain.TripStatus, members []domain.MergedMember) Summary {
	s := Summary{TripStatus: status, Total: len(members)}
	for _, m := range members {
		if m.Connected {
			s.Connected++
		}
	}
	return s
}
