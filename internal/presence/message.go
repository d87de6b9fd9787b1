// Package presence is the per-trip realtime channel: connected members
// publish their live position and receive everyone else's.
package presence

import (
	"encoding/json"
	"time"

	"github.com/leapkore-12/journeys-tribe-sub000/internal/domain"
)

type MessageType string

const (
	TypePosition MessageType = "position"
	TypeJoin     MessageType = "join"
	TypeLeave    MessageType = "leave"
	TypeSnapshot MessageType = "snapshot"
	TypeRoster   MessageType = "roster"
	TypeTrip     MessageType = "trip"
)

// Message is the envelope on the websocket and on the Redis bridge. A leave
// with Revoked set means the member left the trip, not just the channel.
type Message struct {
	Type    MessageType             `json:"type"`
	TripID  string                  `json:"trip_id"`
	UserID  string                  `json:"user_id,omitempty"`
	Record  *domain.PresenceRecord  `json:"record,omitempty"`
	Records []domain.PresenceRecord `json:"records,omitempty"`
	Status  domain.TripStatus       `json:"status,omitempty"`
	Revoked bool                    `json:"revoked,omitempty"`
	Origin  string                  `json:"origin,omitempty"`
	At      time.Time               `json:"at"`
}

func (m Message) Encode() []byte {
	b, _ := json.Marshal(m)
	return b
}

func Decode(b []byte) (Message, error) {
	var m Message
	err := json.Unmarshal(b, &m)
	return m, err
}
