package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/example/ride-hailing/internal/models"
)

// PostgresStore persists rides in a single rides table
// (migrations/001_create_rides.sql). Conditional location+status writes are
// a single UPDATE so concurrent updates from both parties can never observe
// a stale status and lose a transition.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }

const rideColumns = `id, passenger_id, driver_id,
	start_lat, start_lon, start_address, dest_lat, dest_lon, dest_address,
	driver_lat, driver_lon, driver_updated,
	passenger_lat, passenger_lon, passenger_updated,
	status, distance_km, fare,
	driver_name, driver_rating, passenger_name, passenger_rating,
	polyline, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, draft models.Ride) (*models.Ride, error) {
	id := newID()
	row := p.db.QueryRowContext(ctx, `
		INSERT INTO rides (id, passenger_id, driver_id,
			start_lat, start_lon, start_address, dest_lat, dest_lon, dest_address,
			driver_lat, driver_lon, driver_updated,
			passenger_lat, passenger_lon, passenger_updated,
			status, distance_km, fare,
			driver_name, driver_rating, passenger_name, passenger_rating,
			polyline, created_at, updated_at)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9,
			$10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22, $23, now(), now()
		WHERE NOT EXISTS (
			SELECT 1 FROM rides
			WHERE status NOT IN ('completed', 'cancelled')
			  AND (passenger_id = $2 OR driver_id = $3)
		)
		RETURNING `+rideColumns,
		id, draft.PassengerID, draft.DriverID,
		draft.StartLocation.Lat, draft.StartLocation.Lon, draft.StartLocation.Address,
		draft.DestinationLocation.Lat, draft.DestinationLocation.Lon, draft.DestinationLocation.Address,
		draft.CurrentLocations.Driver.Lat, draft.CurrentLocations.Driver.Lon, draft.CurrentLocations.Driver.LastUpdated,
		draft.CurrentLocations.Passenger.Lat, draft.CurrentLocations.Passenger.Lon, draft.CurrentLocations.Passenger.LastUpdated,
		string(draft.Status), draft.DistanceKm, draft.Fare,
		draft.DriverDetails.Name, draft.DriverDetails.Rating,
		draft.PassengerDetails.Name, draft.PassengerDetails.Rating,
		draft.Polyline)
	r, err := scanRide(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrActiveRide
	}
	if err != nil {
		return nil, fmt.Errorf("create ride: %w", err)
	}
	return r, nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*models.Ride, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+rideColumns+` FROM rides WHERE id = $1`, id)
	r, err := scanRide(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ride: %w", err)
	}
	return r, nil
}

func (p *PostgresStore) UpdateLocation(ctx context.Context, id string, role models.Role, loc models.TrackedLocation, cond *StatusChange) (*models.Ride, bool, error) {
	condFrom, condTo := "", ""
	if cond != nil {
		condFrom, condTo = string(cond.From), string(cond.To)
	}
	slot := "driver"
	if role == models.RolePassenger {
		slot = "passenger"
	}
	// Stale guard, location write and conditional status change in one
	// statement; zero rows means not found, terminal or stale.
	q := fmt.Sprintf(`
		UPDATE rides SET
			%[1]s_lat = $2, %[1]s_lon = $3, %[1]s_updated = $4,
			status = CASE WHEN $5::text <> '' AND status = $5::text THEN $6::text ELSE status END,
			updated_at = now()
		WHERE id = $1
		  AND status NOT IN ('completed', 'cancelled')
		  AND %[1]s_updated < $4
		RETURNING `+rideColumns, slot)
	row := p.db.QueryRowContext(ctx, q, id, loc.Lat, loc.Lon, loc.LastUpdated, condFrom, condTo)
	r, err := scanRide(row)
	if errors.Is(err, sql.ErrNoRows) {
		current, gerr := p.Get(ctx, id)
		if gerr != nil {
			return nil, false, gerr
		}
		return current, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("update location: %w", err)
	}
	return r, true, nil
}

func (p *PostgresStore) CompareAndSetStatus(ctx context.Context, id string, from, to models.RideStatus) (*models.Ride, bool, error) {
	row := p.db.QueryRowContext(ctx, `
		UPDATE rides SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2
		RETURNING `+rideColumns, id, string(from), string(to))
	r, err := scanRide(row)
	if errors.Is(err, sql.ErrNoRows) {
		current, gerr := p.Get(ctx, id)
		if gerr != nil {
			return nil, false, gerr
		}
		return current, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cas status: %w", err)
	}
	return r, true, nil
}

func (p *PostgresStore) SetStatus(ctx context.Context, id string, status models.RideStatus) (*models.Ride, error) {
	row := p.db.QueryRowContext(ctx, `
		UPDATE rides SET status = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+rideColumns, id, string(status))
	r, err := scanRide(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("set status: %w", err)
	}
	return r, nil
}

func (p *PostgresStore) FindByParticipant(ctx context.Context, userID string) ([]models.Ride, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+rideColumns+` FROM rides
		WHERE passenger_id = $1 OR driver_id = $1
		ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("find by participant: %w", err)
	}
	defer rows.Close()
	out := []models.Ride{}
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, fmt.Errorf("find by participant: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRide(row rowScanner) (*models.Ride, error) {
	var r models.Ride
	var status string
	err := row.Scan(&r.ID, &r.PassengerID, &r.DriverID,
		&r.StartLocation.Lat, &r.StartLocation.Lon, &r.StartLocation.Address,
		&r.DestinationLocation.Lat, &r.DestinationLocation.Lon, &r.DestinationLocation.Address,
		&r.CurrentLocations.Driver.Lat, &r.CurrentLocations.Driver.Lon, &r.CurrentLocations.Driver.LastUpdated,
		&r.CurrentLocations.Passenger.Lat, &r.CurrentLocations.Passenger.Lon, &r.CurrentLocations.Passenger.LastUpdated,
		&status, &r.DistanceKm, &r.Fare,
		&r.DriverDetails.Name, &r.DriverDetails.Rating,
		&r.PassengerDetails.Name, &r.PassengerDetails.Rating,
		&r.Polyline, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.Status = models.RideStatus(status)
	return &r, nil
}
