package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/leapkore-12/journeys-tribe-sub000/internal/apperr"
	"github.com/leapkore-12/journeys-tribe-sub000/internal/domain"
	"github.com/leapkore-12/journeys-tribe-sub000/internal/invite"
	"github.com/leapkore-12/journeys-tribe-sub000/internal/tracking"
	"github.com/leapkore-12/journeys-tribe-sub000/internal/trip"
)

const defaultTimeout = 10 * time.Second

// Client calls the convoy HTTP API on behalf of one user.
type Client struct {
	baseURL string
	token   string
	timeout time.Duration
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		timeout: defaultTimeout,
	}
}

func (c *Client) BaseURL() string { return c.baseURL }
func (c *Client) Token() string   { return c.token }

func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, fiber.MethodGet, "/health", nil, nil)
}

func (c *Client) ActiveTrip(ctx context.Context) (trip.View, error) {
	var v trip.View
	err := c.do(ctx, fiber.MethodGet, "/trips/active", nil, &v)
	return v, err
}

func (c *Client) Trip(ctx context.Context, tripID string) (trip.View, error) {
	var v trip.View
	err := c.do(ctx, fiber.MethodGet, "/trips/"+tripID, nil, &v)
	return v, err
}

// Transition runs a lifecycle action (pause, resume, complete, cancel,
// activate) on a trip.
func (c *Client) Transition(ctx context.Context, tripID, action string) (trip.View, error) {
	var v trip.View
	err := c.do(ctx, fiber.MethodPost, "/trips/"+tripID+"/"+action, nil, &v)
	return v, err
}

func (c *Client) Roster(ctx context.Context, tripID string) ([]domain.RosterEntry, error) {
	var entries []domain.RosterEntry
	err := c.do(ctx, fiber.MethodGet, "/trips/"+tripID+"/roster", nil, &entries)
	return entries, err
}

func (c *Client) Leave(ctx context.Context, tripID string) (domain.RosterEntry, error) {
	var e domain.RosterEntry
	err := c.do(ctx, fiber.MethodPost, "/trips/"+tripID+"/roster/leave", nil, &e)
	return e, err
}

func (c *Client) TransferLeadership(ctx context.Context, tripID, newLeaderID string) (domain.RosterEntry, error) {
	var e domain.RosterEntry
	body := map[string]string{"user_id": newLeaderID}
	err := c.do(ctx, fiber.MethodPost, "/trips/"+tripID+"/roster/leader", body, &e)
	return e, err
}

func (c *Client) CreateInvite(ctx context.Context, tripID, inviteeID string) (domain.Invite, error) {
	var inv domain.Invite
	body := map[string]string{"invitee_id": inviteeID}
	err := c.do(ctx, fiber.MethodPost, "/trips/"+tripID+"/invites", body, &inv)
	return inv, err
}

func (c *Client) AcceptInvite(ctx context.Context, code string) (invite.Acceptance, error) {
	var out invite.Acceptance
	err := c.do(ctx, fiber.MethodPost, "/invites/"+code+"/accept", nil, &out)
	return out, err
}

func (c *Client) AppendPositions(ctx context.Context, tripID string, batch tracking.Batch) (tracking.BatchResult, error) {
	var out tracking.BatchResult
	err := c.do(ctx, fiber.MethodPost, "/trips/"+tripID+"/positions", batch, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	// Bytes hands the agent back to the pool.
	a := fiber.AcquireAgent()

	req := a.Request()
	req.Header.SetMethod(method)
	req.SetRequestURI(c.baseURL + path)
	if c.token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+c.token)
	}
	if body != nil {
		a.JSON(body)
	}
	timeout := c.timeout
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); left < timeout {
			timeout = left
		}
	}
	a.Timeout(timeout)
	if err := a.Parse(); err != nil {
		fiber.ReleaseAgent(a)
		return apperr.Wrap(apperr.CodePersistenceUnavailable, "request failed", err)
	}

	code, payload, errs := a.Bytes()
	if len(errs) > 0 {
		return apperr.Wrap(apperr.CodePersistenceUnavailable, "request failed", errs[0])
	}
	if code < 200 || code >= 300 {
		return apperr.FromResponse(code, payload)
	}
	if out == nil || len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
