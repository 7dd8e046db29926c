// README: Payment ledger backed by PostgreSQL; idempotency via a unique event-id index.
package settlement

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"droply/internal/faults"
	"droply/internal/modules/delivery"
	"droply/internal/types"
)

type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// CreateIfAbsent relies on the unique index over gateway_event_id: concurrent
// webhook deliveries both attempt the insert and exactly one row survives.
func (s *PostgresStore) CreateIfAbsent(ctx context.Context, p *Payment) (bool, *Payment, error) {
	tag, err := s.db.Exec(ctx, `
		INSERT INTO payments (
			id, delivery_id, partner_id, amount, method, gateway, gateway_event_id,
			payout_amount, payout_status, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (gateway_event_id) DO NOTHING`,
		string(p.ID), string(p.DeliveryID), idPtr(p.PartnerID), p.Amount, string(p.Method),
		p.Gateway, p.GatewayEventID, p.Payout.Amount, string(p.Payout.Status), p.CreatedAt,
	)
	if err != nil {
		return false, nil, err
	}
	stored, err := s.GetByEventID(ctx, p.GatewayEventID)
	if err != nil {
		return false, nil, err
	}
	return tag.RowsAffected() == 1, stored, nil
}

func (s *PostgresStore) GetByEventID(ctx context.Context, eventID string) (*Payment, error) {
	return s.one(ctx, `WHERE gateway_event_id = $1`, eventID)
}

func (s *PostgresStore) one(ctx context.Context, where string, arg any) (*Payment, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, delivery_id, partner_id, amount, method, gateway, gateway_event_id,
		       payout_amount, payout_status, payout_processed_at,
		       refund_amount, refund_status, refund_initiated_at, refund_processed_at,
		       created_at
		FROM payments `+where, arg)
	p, err := scanPayment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, faults.NotFound("payment %v", arg)
	}
	return p, err
}

func (s *PostgresStore) ListByDelivery(ctx context.Context, deliveryID types.ID) ([]*Payment, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, delivery_id, partner_id, amount, method, gateway, gateway_event_id,
		       payout_amount, payout_status, payout_processed_at,
		       refund_amount, refund_status, refund_initiated_at, refund_processed_at,
		       created_at
		FROM payments WHERE delivery_id = $1 ORDER BY created_at`, string(deliveryID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SetRefund(ctx context.Context, paymentID types.ID, r Refund) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE payments
		SET refund_amount = $1, refund_status = $2, refund_initiated_at = $3, refund_processed_at = $4
		WHERE id = $5`,
		r.Amount, string(r.Status), r.InitiatedAt, r.ProcessedAt, string(paymentID))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return faults.NotFound("payment %s", paymentID)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (*Payment, error) {
	var p Payment
	var partnerID sql.NullString
	var payoutProcessed, refundInitiated, refundProcessed sql.NullTime
	var refundAmount sql.NullInt64
	var refundStatus sql.NullString
	err := row.Scan(
		&p.ID, &p.DeliveryID, &partnerID, &p.Amount, &p.Method, &p.Gateway, &p.GatewayEventID,
		&p.Payout.Amount, &p.Payout.Status, &payoutProcessed,
		&refundAmount, &refundStatus, &refundInitiated, &refundProcessed,
		&p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if partnerID.Valid {
		id := types.ID(partnerID.String)
		p.PartnerID = &id
	}
	if payoutProcessed.Valid {
		t := payoutProcessed.Time
		p.Payout.ProcessedAt = &t
	}
	if refundStatus.Valid {
		r := Refund{Amount: refundAmount.Int64, Status: delivery.RefundStatus(refundStatus.String)}
		if refundInitiated.Valid {
			r.InitiatedAt = refundInitiated.Time
		}
		if refundProcessed.Valid {
			t := refundProcessed.Time
			r.ProcessedAt = &t
		}
		p.Refund = &r
	}
	return &p, nil
}

func idPtr(id *types.ID) *string {
	if id == nil {
		return nil
	}
	v := string(*id)
	return &v
}
