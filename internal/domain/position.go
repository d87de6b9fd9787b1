package domain

import "time"

// PositionSample is one geolocation fix. Seq is assigned by the device
// buffer in capture order and is the idempotency key on the server.
type PositionSample struct {
	Seq        int64     `json:"seq"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	Heading    float64   `json:"heading"`
	Speed      float64   `json:"speed"`
	CapturedAt time.Time `json:"captured_at"`
	Pending    bool      `json:"pending,omitempty"`
}

// Point returns the sample position.
func (s PositionSample) Point() Point {
	return Point{Lat: s.Lat, Lng: s.Lng}
}

// PresenceRecord is the ephemeral live state of a connected participant.
type PresenceRecord struct {
	TripID      string    `json:"trip_id"`
	UserID      string    `json:"user_id"`
	Lat         float64   `json:"lat"`
	Lng         float64   `json:"lng"`
	Heading     float64   `json:"heading"`
	Speed       float64   `json:"speed"`
	VehicleType string    `json:"vehicle_type,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Stale reports whether the record is older than window at now.
func (r PresenceRecord) Stale(now time.Time, window time.Duration) bool {
	return now.Sub(r.UpdatedAt) > window
}

// MergedMember is the read-only reconciliation of roster and presence.
type MergedMember struct {
	UserID              string     `json:"user_id"`
	IsLeader            bool       `json:"is_leader"`
	Provisional         bool       `json:"provisional,omitempty"`
	Connected           bool       `json:"connected"`
	Lat                 float64    `json:"lat,omitempty"`
	Lng                 float64    `json:"lng,omitempty"`
	Heading             float64    `json:"heading,omitempty"`
	Speed               float64    `json:"speed,omitempty"`
	VehicleType         string     `json:"vehicle_type,omitempty"`
	LastUpdate          *time.Time `json:"last_update,omitempty"`
	JoinedAt            time.Time  `json:"joined_at"`
	DistanceFromViewerM *float64   `json:"distance_from_viewer_m,omitempty"`
}
