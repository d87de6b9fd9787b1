package buffer

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/leapkore-12/journeys-tribe-sub000/internal/domain"
)

//go:embed migrations/*.sql
var migrations embed.FS

// SQLite is a Buffer that survives app restarts.
type SQLite struct {
	db      *sql.DB
	max     int
	log     *slog.Logger
	dropped atomic.Int64
}

// OpenSQLite opens (or creates) the buffer at path. ":memory:" gives a
// private in-memory buffer.
func OpenSQLite(ctx context.Context, path string, max int, log *slog.Logger) (*SQLite, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("buffer path is required")
	}
	if max <= 0 {
		max = DefaultMaxSamples
	}
	if log == nil {
		log = slog.Default()
	}
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite buffer: %w", err)
	}
	// A single connection serialises writers and keeps ":memory:" to one database.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite buffer: %w", err)
	}

	sub, err := fs.Sub(migrations, "migrations")
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, sub)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("buffer migrations: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run buffer migrations: %w", err)
	}

	b := &SQLite{db: db, max: max, log: log}
	var dropped int64
	if err := db.QueryRowContext(ctx, `SELECT value FROM buffer_meta WHERE key='dropped'`).Scan(&dropped); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("read buffer meta: %w", err)
	}
	b.dropped.Store(dropped)
	return b, nil
}

func (b *SQLite) Append(ctx context.Context, tripID string, s domain.PositionSample) (domain.PositionSample, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.PositionSample{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var last int64
	if err := tx.QueryRowContext(ctx, `SELECT value FROM buffer_meta WHERE key='last_seq'`).Scan(&last); err != nil {
		return domain.PositionSample{}, err
	}
	s.Seq = nextSeq(last, s.CapturedAt)
	s.Pending = true

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO samples (seq, trip_id, lat, lng, heading, speed, captured_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.Seq, tripID, s.Lat, s.Lng, s.Heading, s.Speed, s.CapturedAt.UTC().UnixMicro(),
	); err != nil {
		return domain.PositionSample{}, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE buffer_meta SET value=? WHERE key='last_seq'`, s.Seq); err != nil {
		return domain.PositionSample{}, err
	}

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM samples`).Scan(&count); err != nil {
		return domain.PositionSample{}, err
	}
	over := count - b.max
	if over > 0 {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM samples WHERE seq IN (SELECT seq FROM samples ORDER BY seq LIMIT ?)`, over,
		); err != nil {
			return domain.PositionSample{}, err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE buffer_meta SET value=value+? WHERE key='dropped'`, over); err != nil {
			return domain.PositionSample{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.PositionSample{}, err
	}
	if over > 0 {
		total := b.dropped.Add(int64(over))
		b.log.Warn("buffer_dropped_oldest", "dropped", over, "total_dropped", total)
	}
	return s, nil
}

func (b *SQLite) Peek(ctx context.Context, n int) ([]Entry, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT seq, trip_id, lat, lng, heading, speed, captured_at
		FROM samples ORDER BY seq LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e  Entry
			at int64
		)
		s := &e.Sample
		if err := rows.Scan(&s.Seq, &e.TripID, &s.Lat, &s.Lng, &s.Heading, &s.Speed, &at); err != nil {
			return nil, err
		}
		s.CapturedAt = time.UnixMicro(at).UTC()
		s.Pending = true
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (b *SQLite) Ack(ctx context.Context, through int64) error {
	_, err := b.db.ExecContext(ctx, `DELETE FROM samples WHERE seq <= ?`, through)
	return err
}

func (b *SQLite) Len(ctx context.Context) (int, error) {
	var n int
	err := b.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM samples`).Scan(&n)
	return n, err
}

func (b *SQLite) Dropped() int64 { return b.dropped.Load() }

func (b *SQLite) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}
