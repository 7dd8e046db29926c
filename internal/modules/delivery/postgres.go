// README: Delivery store backed by PostgreSQL; aggregate body as JSONB, hot fields as columns.
package delivery

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
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

var activeStatusList = []string{
	string(StatusAccepted), string(StatusPickedUp), string(StatusInTransit), string(StatusArriving),
}

func (s *PostgresStore) Create(ctx context.Context, d *Delivery) error {
	body, err := json.Marshal(d)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO deliveries (
			id, tracking_code, customer_id, partner_id, status, version, body, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		string(d.ID), d.TrackingCode, string(d.CustomerID), partnerIDPtr(d), string(d.Status),
		d.Version, body, d.CreatedAt, d.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, id types.ID) (*Delivery, error) {
	return s.one(ctx, `SELECT body, version FROM deliveries WHERE id = $1`, string(id))
}

func (s *PostgresStore) GetByTrackingCode(ctx context.Context, code string) (*Delivery, error) {
	return s.one(ctx, `SELECT body, version FROM deliveries WHERE tracking_code = $1`, code)
}

func (s *PostgresStore) one(ctx context.Context, query string, arg any) (*Delivery, error) {
	var body []byte
	var version int
	err := s.db.QueryRow(ctx, query, arg).Scan(&body, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, faults.NotFound("delivery %v", arg)
	}
	if err != nil {
		return nil, err
	}
	d, err := s.decode(ctx, body, version)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (s *PostgresStore) decode(ctx context.Context, body []byte, version int) (*Delivery, error) {
	var d Delivery
	if err := json.Unmarshal(body, &d); err != nil {
		return nil, err
	}
	d.Version = version

	rows, err := s.db.Query(ctx, `
		SELECT lat, lng, at FROM delivery_waypoints WHERE delivery_id = $1 ORDER BY at`, string(d.ID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	d.Waypoints = nil
	for rows.Next() {
		var wp Waypoint
		if err := rows.Scan(&wp.Position.Lat, &wp.Position.Lng, &wp.At); err != nil {
			return nil, err
		}
		d.Waypoints = append(d.Waypoints, wp)
	}
	return &d, rows.Err()
}

func (s *PostgresStore) ListByCustomer(ctx context.Context, customerID types.ID) ([]*Delivery, error) {
	rows, err := s.db.Query(ctx, `
		SELECT body, version FROM deliveries WHERE customer_id = $1 ORDER BY created_at DESC`,
		string(customerID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.collect(ctx, rows)
}

func (s *PostgresStore) collect(ctx context.Context, rows pgx.Rows) ([]*Delivery, error) {
	type raw struct {
		body    []byte
		version int
	}
	var raws []raw
	for rows.Next() {
		var r raw
		if err := rows.Scan(&r.body, &r.version); err != nil {
			return nil, err
		}
		raws = append(raws, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]*Delivery, 0, len(raws))
	for _, r := range raws {
		d, err := s.decode(ctx, r.body, r.version)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func (s *PostgresStore) ActiveByPartner(ctx context.Context, partnerID types.ID) (*Delivery, error) {
	rows, err := s.db.Query(ctx, `
		SELECT body, version FROM deliveries
		WHERE partner_id = $1 AND status = ANY($2)`,
		string(partnerID), activeStatusList)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ds, err := s.collect(ctx, rows)
	if err != nil {
		return nil, err
	}
	switch len(ds) {
	case 0:
		return nil, faults.NotFound("no active delivery for partner %s", partnerID)
	case 1:
		return ds[0], nil
	default:
		return nil, errors.New("invariant violation: partner holds more than one active delivery")
	}
}

func (s *PostgresStore) HasActiveByPartner(ctx context.Context, partnerID types.ID) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM deliveries WHERE partner_id = $1 AND status = ANY($2)
		)`, string(partnerID), activeStatusList).Scan(&exists)
	return exists, err
}

func (s *PostgresStore) Update(ctx context.Context, d *Delivery, expected int) (bool, error) {
	next := *d
	next.Version = expected + 1
	next.Waypoints = nil
	body, err := json.Marshal(&next)
	if err != nil {
		return false, err
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE deliveries
		SET partner_id = $1, status = $2, version = version + 1, body = $3, updated_at = $4
		WHERE id = $5 AND version = $6`,
		partnerIDPtr(d), string(d.Status), body, d.UpdatedAt, string(d.ID), expected,
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}
	d.Version = next.Version
	return true, nil
}

func (s *PostgresStore) AppendWaypoint(ctx context.Context, id types.ID, wp Waypoint) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO delivery_waypoints (delivery_id, lat, lng, at) VALUES ($1,$2,$3,$4)`,
		string(id), wp.Position.Lat, wp.Position.Lng, wp.At)
	return err
}

func partnerIDPtr(d *Delivery) *string {
	if d.PartnerID == nil {
		return nil
	}
	v := string(*d.PartnerID)
	return &v
}
