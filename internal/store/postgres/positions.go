package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/leapkore-12/journeys-tribe-sub000/internal/domain"
)

func (s *Store) AppendPositions(ctx context.Context, tripID, userID string, samples []domain.PositionSample, progress *domain.TripProgress) (int, error) {
	stored := 0
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		stored = 0
		for _, p := range samples {
			tag, err := tx.Exec(ctx, `
				INSERT INTO positions (trip_id, user_id, seq, lat, lng, heading, speed, captured_at)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
				ON CONFLICT (trip_id, user_id, seq) DO NOTHING
			`, tripID, userID, p.Seq, p.Lat, p.Lng, p.Heading, p.Speed, p.CapturedAt)
			if err != nil {
				return err
			}
			stored += int(tag.RowsAffected())
		}
		if stored == 0 && progress == nil {
			return nil
		}

		var (
			distance         *float64
			lastLat, lastLng *float64
			lastAt           *time.Time
		)
		if progress != nil {
			distance = &progress.DistanceM
			lastLat, lastLng = &progress.LastPosition.Lat, &progress.LastPosition.Lng
			lastAt = &progress.LastSampleAt
		}
		_, err := tx.Exec(ctx, `
			UPDATE trips
			SET sample_count = sample_count + $2,
			    distance_m = COALESCE($3, distance_m),
			    last_lat = COALESCE($4, last_lat),
			    last_lng = COALESCE($5, last_lng),
			    last_sample_at = COALESCE($6, last_sample_at),
			    updated_at = $7, version = version + 1
			WHERE id=$1 AND status IN ('active', 'paused')
		`, tripID, stored, distance, lastLat, lastLng, lastAt, s.now())
		return err
	})
	if err != nil {
		return 0, err
	}
	return stored, nil
}

func (s *Store) Positions(ctx context.Context, tripID, userID string) ([]domain.PositionSample, error) {
	rows, err := s.db.Query(ctx, `
		SELECT seq, lat, lng, heading, speed, captured_at
		FROM positions WHERE trip_id=$1 AND user_id=$2
		ORDER BY seq
	`, tripID, userID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	points := []domain.PositionSample{}
	for rows.Next() {
		var p domain.PositionSample
		if err := rows.Scan(&p.Seq, &p.Lat, &p.Lng, &p.Heading, &p.Speed, &p.CapturedAt); err != nil {
			return nil, classify(err)
		}
		points = append(points, p)
	}
	return points, classify(rows.Err())
}
