package domain

import (
	"sort"
	"time"
)

// MemberStatus is the status of a roster entry. Entries are never deleted.
type MemberStatus string

const (
	MemberActive    MemberStatus = "active"
	MemberCompleted MemberStatus = "completed"
	MemberLeft      MemberStatus = "left"
)

// RosterEntry is the durable membership of one user in one trip.
type RosterEntry struct {
	TripID     string       `json:"trip_id"`
	UserID     string       `json:"user_id"`
	IsLeader   bool         `json:"is_leader"`
	Status     MemberStatus `json:"status"`
	JoinedAt   time.Time    `json:"joined_at"`
	InviteCode string       `json:"invite_code,omitempty"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// Active reports whether the entry counts toward the live convoy.
func (e RosterEntry) Active() bool {
	return e.Status == MemberActive
}

// SortByJoin orders entries by join time, then user id, in place.
func SortByJoin(entries []RosterEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].JoinedAt.Equal(entries[j].JoinedAt) {
			return entries[i].JoinedAt.Before(entries[j].JoinedAt)
		}
		return entries[i].UserID < entries[j].UserID
	})
}
