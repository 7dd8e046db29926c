// README: Partner store backed by PostgreSQL.
package partner

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"droply/internal/faults"
	"droply/internal/types"
)

type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, p *Partner) error {
	var lat, lng *float64
	var addr *string
	if p.Location != nil {
		lat, lng, addr = &p.Location.Position.Lat, &p.Location.Position.Lng, &p.Location.Address
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO partners (
			id, name, phone, verification, availability,
			loc_lat, loc_lng, loc_address,
			rating_sum, rating_count, total_deliveries, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		string(p.ID), p.Name, p.Phone, string(p.Verification), string(p.Availability),
		lat, lng, addr,
		p.RatingSum, p.RatingCount, p.TotalDeliveries, p.CreatedAt,
	)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, id types.ID) (*Partner, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, name, phone, verification, availability,
		       loc_lat, loc_lng, loc_address, loc_updated_at,
		       rating_sum, rating_count, total_deliveries, created_at
		FROM partners WHERE id = $1`, string(id))

	var p Partner
	var lat, lng *float64
	var addr *string
	var locUpdated sql.NullTime
	err := row.Scan(
		&p.ID, &p.Name, &p.Phone, &p.Verification, &p.Availability,
		&lat, &lng, &addr, &locUpdated,
		&p.RatingSum, &p.RatingCount, &p.TotalDeliveries, &p.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, faults.NotFound("partner %s", id)
	}
	if err != nil {
		return nil, err
	}
	if lat != nil && lng != nil {
		loc := Location{Position: types.Point{Lat: *lat, Lng: *lng}}
		if addr != nil {
			loc.Address = *addr
		}
		if locUpdated.Valid {
			loc.UpdatedAt = locUpdated.Time
		}
		p.Location = &loc
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, vehicle_type, registration_no, verified, active
		FROM vehicles WHERE partner_id = $1 ORDER BY created_at`, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var v Vehicle
		if err := rows.Scan(&v.ID, &v.Type, &v.RegistrationNo, &v.Verified, &v.Active); err != nil {
			return nil, err
		}
		p.Vehicles = append(p.Vehicles, v)
	}
	return &p, rows.Err()
}

func (s *PostgresStore) SetAvailability(ctx context.Context, id types.ID, from, to Availability) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE partners SET availability = $1
		WHERE id = $2 AND availability = $3`,
		string(to), string(id), string(from))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) SetVerification(ctx context.Context, id types.ID, v Verification) error {
	tag, err := s.db.Exec(ctx, `UPDATE partners SET verification = $1 WHERE id = $2`, string(v), string(id))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return faults.NotFound("partner %s", id)
	}
	return nil
}

func (s *PostgresStore) SetLocation(ctx context.Context, id types.ID, loc Location) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE partners SET loc_lat = $1, loc_lng = $2, loc_address = $3, loc_updated_at = $4
		WHERE id = $5`,
		loc.Position.Lat, loc.Position.Lng, loc.Address, loc.UpdatedAt, string(id))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return faults.NotFound("partner %s", id)
	}
	return nil
}

func (s *PostgresStore) AddVehicle(ctx context.Context, partnerID types.ID, v Vehicle) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO vehicles (id, partner_id, vehicle_type, registration_no, verified, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,NOW())`,
		string(v.ID), string(partnerID), string(v.Type), v.RegistrationNo, v.Verified, v.Active)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return faults.StateConflict("registration %s already taken", v.RegistrationNo)
	}
	return err
}

func (s *PostgresStore) VerifyVehicle(ctx context.Context, partnerID, vehicleID types.ID) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE vehicles SET verified = TRUE
		WHERE id = $1 AND partner_id = $2`,
		string(vehicleID), string(partnerID))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return faults.NotFound("vehicle %s on partner %s", vehicleID, partnerID)
	}
	return nil
}

// ApplyRating folds a rating in with a single UPDATE so concurrent submissions
// for the same partner cannot lose an update.
func (s *PostgresStore) ApplyRating(ctx context.Context, id types.ID, rating int) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE partners SET rating_sum = rating_sum + $1, rating_count = rating_count + 1
		WHERE id = $2`, rating, string(id))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return faults.NotFound("partner %s", id)
	}
	return nil
}

func (s *PostgresStore) IncrementDeliveries(ctx context.Context, id types.ID) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE partners SET total_deliveries = total_deliveries + 1 WHERE id = $1`, string(id))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return faults.NotFound("partner %s", id)
	}
	return nil
}
