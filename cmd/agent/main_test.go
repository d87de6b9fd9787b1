package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/leapkore-12/journeys-tribe-sub000/internal/auth"
	"github.com/leapkore-12/journeys-tribe-sub000/internal/config"
	"github.com/leapkore-12/journeys-tribe-sub000/internal/domain"
	"github.com/leapkore-12/journeys-tribe-sub000/internal/server"
	"github.com/leapkore-12/journeys-tribe-sub000/internal/store/memory"
)

const secret = "secret"

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startAPI(t *testing.T) (*server.Server, string) {
	t.Helper()
	srv := server.NewServer(config.Config{
		JWTSecret:       secret,
		StalenessWindow: 30 * time.Second,
		InviteTTL:       time.Hour,
	}, memory.New(), nil, nil, quietLogger())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = srv.App.Listener(ln) }()
	t.Cleanup(func() {
		_ = srv.App.Shutdown()
		srv.Close()
	})
	return srv, "http://" + ln.Addr().String()
}

func agentConfig(t *testing.T, baseURL, token, tripID string) config.AgentConfig {
	return config.AgentConfig{
		APIURL:          baseURL,
		Token:           token,
		TripID:          tripID,
		VehicleType:     "car",
		BufferPath:      filepath.Join(t.TempDir(), "buffer.db"),
		BufferMax:       100,
		FlushBatch:      10,
		PublishInterval: 10 * time.Millisecond,
		ProbeInterval:   50 * time.Millisecond,
		StalenessWindow: 30 * time.Second,
	}
}

func fixes(n int) string {
	base := time.Now().UTC().Add(-time.Minute)
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, `{"lat":%.4f,"lng":4.0,"speed":12,"captured_at":%q}`+"\n",
			52.0+float64(i)*0.001, base.Add(time.Duration(i)*time.Second).Format(time.RFC3339Nano))
	}
	return b.String()
}

func TestRunUploadsReplayedFixes(t *testing.T) {
	srv, baseURL := startAPI(t)
	ctx := context.Background()

	tr, err := srv.Trips.Start(ctx, domain.TripDraft{OwnerID: "A", Name: "dunes"})
	if err != nil {
		t.Fatalf("start trip: %v", err)
	}
	token, _ := auth.Sign(secret, "A", time.Hour)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	errCh := make(chan error, 1)
	go func() {
		// no trip id: the agent resolves the caller's active trip
		errCh <- Run(runCtx, agentConfig(t, baseURL, token, ""), strings.NewReader(fixes(3)), quietLogger())
	}()

	deadline := time.Now().Add(10 * time.Second)
	for {
		stored, err := srv.Store.Positions(ctx, tr.ID, "A")
		if err != nil {
			t.Fatalf("positions: %v", err)
		}
		if len(stored) == 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected 3 stored fixes, got %d", len(stored))
		}
		time.Sleep(20 * time.Millisecond)
	}

	got, err := srv.Trips.Get(ctx, tr.ID)
	if err != nil {
		t.Fatalf("get trip: %v", err)
	}
	if got.DistanceM <= 0 {
		t.Fatalf("expected trip distance to grow, got %v", got.DistanceM)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("agent did not stop")
	}
}

func TestRunRequiresToken(t *testing.T) {
	cfg := config.AgentConfig{APIURL: "http://127.0.0.1:1"}
	if err := Run(context.Background(), cfg, strings.NewReader(""), quietLogger()); err == nil {
		t.Fatalf("expected error without token")
	}
}

func TestRunFailsWithoutActiveTrip(t *testing.T) {
	_, baseURL := startAPI(t)
	token, _ := auth.Sign(secret, "nobody", time.Hour)

	err := Run(context.Background(), agentConfig(t, baseURL, token, ""), strings.NewReader(""), quietLogger())
	if err == nil {
		t.Fatalf("expected error when the user has no active trip")
	}
}
