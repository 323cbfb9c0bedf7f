package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	_ "github.com/lib/pq"

	"github.com/example/driver-client/internal/models"
)

type PostgresJournal struct {
	db *sql.DB
}

func NewPostgresJournal(dsn string) (*PostgresJournal, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresJournal{db: db}, nil
}

// Migrate executes the SQL file at path against the journal database.
func (p *PostgresJournal) Migrate(ctx context.Context, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read migration: %w", err)
	}
	if _, err := p.db.ExecContext(ctx, string(b)); err != nil {
		return fmt.Errorf("apply migration %s: %w", path, err)
	}
	return nil
}

func (p *PostgresJournal) Record(ctx context.Context, ev TripEvent) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO trip_events(driver_id, trip_id, ride_request_id, kind, status, pickup_lat, pickup_lng, dropoff_lat, dropoff_lng, price, recorded_at) VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		ev.DriverID, ev.TripID, ev.RideRequestID, string(ev.Kind), string(ev.Status), ev.Pickup.Lat, ev.Pickup.Lng, ev.Dropoff.Lat, ev.Dropoff.Lng, ev.Price, ev.At)
	return err
}

func (p *PostgresJournal) Recent(ctx context.Context, limit int) ([]TripEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `SELECT driver_id, trip_id, COALESCE(ride_request_id, ''), kind, status, pickup_lat, pickup_lng, dropoff_lat, dropoff_lng, price, recorded_at FROM trip_events ORDER BY recorded_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TripEvent
	for rows.Next() {
		var ev TripEvent
		var kind, status string
		if err := rows.Scan(&ev.DriverID, &ev.TripID, &ev.RideRequestID, &kind, &status,
			&ev.Pickup.Lat, &ev.Pickup.Lng, &ev.Dropoff.Lat, &ev.Dropoff.Lng, &ev.Price, &ev.At); err != nil {
			return nil, err
		}
		ev.Kind = EventKind(kind)
		ev.Status = models.TripStatus(status)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (p *PostgresJournal) Close() error { return p.db.Close() }
