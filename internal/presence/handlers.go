package presence

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// Gate decides whether a user may open the presence channel of a trip.
type Gate interface {
	Admit(ctx context.Context, tripID, userID string) error
}

type GateFunc func(ctx context.Context, tripID, userID string) error

func (f GateFunc) Admit(ctx context.Context, tripID, userID string) error {
	return f(ctx, tripID, userID)
}

func RegisterRoutes(r fiber.Router, hub *Hub, gate Gate, authMiddleware fiber.Handler) {
	r.Get("/ws/:tripID", authMiddleware, func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		userID, _ := c.Locals("user_id").(string)
		if gate != nil {
			if err := gate.Admit(c.UserContext(), c.Params("tripID"), userID); err != nil {
				return err
			}
		}
		return c.Next()
	}, websocket.New(func(c *websocket.Conn) {
		hub.serve(c)
	}))
}

func (h *Hub) serve(c *websocket.Conn) {
	ctx := context.Background()
	tripID := c.Params("tripID")
	userID, _ := c.Locals("user_id").(string)

	client := h.Register(tripID, userID)
	client.Send <- Message{Type: TypeSnapshot, TripID: tripID, Records: h.Snapshot(tripID), At: h.now()}.Encode()
	h.Join(ctx, tripID, userID)
	h.log.Info("presence_connected", "trip_id", tripID, "user_id", userID)

	extend := func() { _ = c.SetReadDeadline(time.Now().Add(h.window)) }
	extend()
	c.SetPongHandler(func(string) error {
		extend()
		return nil
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		ping := time.NewTicker(h.window / 3)
		defer ping.Stop()
		for {
			select {
			case msg, ok := <-client.Send:
				if !ok {
					return
				}
				if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
					return
				}
			case <-ping.C:
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-client.Done():
				h.drain(c, client)
				_ = c.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "presence revoked"),
					time.Now().Add(time.Second))
				_ = c.Close()
				return
			}
		}
	}()

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			break
		}
		extend()
		msg, err := Decode(data)
		if err != nil {
			continue
		}
		if msg.Type == TypeLeave {
			break
		}
		if msg.Type != TypePosition || msg.Record == nil {
			continue
		}
		if client.Revoked() {
			break
		}
		rec := *msg.Record
		rec.TripID = tripID
		rec.UserID = userID
		if now := h.now(); rec.UpdatedAt.IsZero() || rec.UpdatedAt.After(now) {
			rec.UpdatedAt = now
		}
		h.Update(ctx, rec)
	}

	h.Unregister(client)
	if !client.Revoked() {
		h.Leave(ctx, tripID, userID)
	}
	h.log.Info("presence_disconnected", "trip_id", tripID, "user_id", userID, "revoked", client.Revoked())
	<-done
}

// drain writes what is already queued for a revoked client, so the device
// sees the leave or trip message that explains the close.
func (h *Hub) drain(c *websocket.Conn, client *Client) {
	for {
		select {
		case msg, ok := <-client.Send:
			if !ok {
				return
			}
			if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		default:
			return
		}
	}
}
