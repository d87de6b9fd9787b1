// Command agent runs a convoy member session on the device side. Position
// fixes are replayed as newline-delimited JSON from stdin.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/leapkore-12/journeys-tribe-sub000/internal/agent"
	"github.com/leapkore-12/journeys-tribe-sub000/internal/agent/buffer"
	"github.com/leapkore-12/journeys-tribe-sub000/internal/auth"
	"github.com/leapkore-12/journeys-tribe-sub000/internal/config"
)

func main() {
	cfg := config.LoadAgent()
	log := config.NewLogger(cfg.LogLevel, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := Run(ctx, cfg, os.Stdin, log); err != nil {
		log.Error("agent_exited", "error", err)
		os.Exit(1)
	}
}

// Run opens the durable buffer and drives one session until ctx ends or the
// trip is over for this user.
func Run(ctx context.Context, cfg config.AgentConfig, fixes io.Reader, log *slog.Logger) error {
	if cfg.Token == "" {
		return errors.New("AGENT_TOKEN is required")
	}
	client := agent.NewClient(cfg.APIURL, cfg.Token)

	tripID := cfg.TripID
	if tripID == "" {
		v, err := client.ActiveTrip(ctx)
		if err != nil {
			return fmt.Errorf("resolve active trip: %w", err)
		}
		tripID = v.ID
	}

	buf, err := buffer.OpenSQLite(ctx, cfg.BufferPath, cfg.BufferMax, log)
	if err != nil {
		return fmt.Errorf("open buffer: %w", err)
	}
	defer buf.Close()

	probe := agent.NewProbeConnectivity(client.Health, cfg.ProbeInterval)
	probe.Threshold = 1
	probe.Check(ctx)

	userID := cfg.UserID
	if userID == "" {
		if userID, err = auth.Subject(cfg.Token); err != nil {
			return fmt.Errorf("read token: %w", err)
		}
	}

	session := agent.NewSession(client, agent.NewWSDialer(cfg.APIURL, cfg.Token), buf,
		agent.NewReplaySource(fixes, cfg.ReplayPace), probe, agent.Options{
			TripID:          tripID,
			UserID:          userID,
			VehicleType:     cfg.VehicleType,
			FlushBatch:      cfg.FlushBatch,
			PublishInterval: cfg.PublishInterval,
			StalenessWindow: cfg.StalenessWindow,
		}, log)

	done := make(chan struct{})
	defer close(done)
	go reportStatus(ctx, session, cfg.StatusInterval, log, done)

	return session.Run(ctx)
}

func reportStatus(ctx context.Context, s *agent.Session, interval time.Duration, log *slog.Logger, done <-chan struct{}) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			st := s.Status(ctx)
			sum := s.Summary()
			log.Info("agent_status",
				"trip_status", st.TripStatus,
				"online", st.Online,
				"connected", st.Connected,
				"pending", st.Pending,
				"dropped", st.Dropped,
				"rejected", st.Rejected,
				"distance_m", st.DistanceM,
				"elapsed_sec", st.ElapsedSec,
				"members_connected", sum.Connected,
				"members_total", sum.Total,
			)
		}
	}
}
