package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noah-isme/pay-core/internal/events"
)

// PGStore persists orders and domain events in Postgres.
type PGStore struct {
	Pool *pgxpool.Pool
}

// parseOrderID accepts both canonical UUIDs and the hyphen-stripped form that
// comes back inside a transaction reference.
func parseOrderID(orderID string) (pgtype.UUID, error) {
	parsed, err := uuid.Parse(orderID)
	if err != nil {
		return pgtype.UUID{}, ErrOrderNotFound
	}
	return pgtype.UUID{Bytes: parsed, Valid: true}, nil
}

func (s *PGStore) GetOrder(ctx context.Context, orderID string) (Order, error) {
	id, err := parseOrderID(orderID)
	if err != nil {
		return Order{}, err
	}
	const query = `
		SELECT id, COALESCE(customer_email, ''), total_amount, shipping_fee,
		       payment_status, order_status,
		       COALESCE(vnpay_txn_ref, ''), COALESCE(vnpay_expire_date, ''),
		       COALESCE(transaction_id, '')
		FROM orders
		WHERE id = $1`
	var (
		rowID pgtype.UUID
		order Order
	)
	err = s.Pool.QueryRow(ctx, query, id).Scan(
		&rowID, &order.Email, &order.TotalAmount, &order.ShippingFee,
		&order.PaymentStatus, &order.OrderStatus,
		&order.TxnRef, &order.TxnExpireDate, &order.TransactionID,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrOrderNotFound
	}
	if err != nil {
		return Order{}, fmt.Errorf("settlement: query order: %w", err)
	}
	order.ID = uuid.UUID(rowID.Bytes).String()
	return order, nil
}

func (s *PGStore) RecordAttempt(ctx context.Context, orderID, txnRef, createDate, expireDate string) error {
	id, err := parseOrderID(orderID)
	if err != nil {
		return err
	}
	const query = `
		UPDATE orders
		SET vnpay_txn_ref = $2,
		    vnpay_create_date = $3,
		    vnpay_expire_date = $4,
		    updated_at = now()
		WHERE id = $1`
	tag, err := s.Pool.Exec(ctx, query, id, txnRef, createDate, expireDate)
	if err != nil {
		return fmt.Errorf("settlement: record attempt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (s *PGStore) ApplyPaid(ctx context.Context, st Settlement) (bool, error) {
	id, err := parseOrderID(st.OrderID)
	if err != nil {
		return false, err
	}
	// The guard makes the update idempotent for the same transaction id and
	// refuses to overwrite a settlement committed under a different one.
	const query = `
		UPDATE orders
		SET payment_status = 'paid',
		    order_status = 'confirmed',
		    transaction_id = $2,
		    vnpay_txn_ref = $3,
		    payment_response_code = $4,
		    payment_transaction_status = $5,
		    payment_message = $6,
		    bank_code = $7,
		    bank_tran_no = $8,
		    card_type = $9,
		    pay_date = $10,
		    paid_at = now(),
		    updated_at = now()
		WHERE id = $1
		  AND (payment_status <> 'paid' OR transaction_id = $2)`
	tag, err := s.Pool.Exec(ctx, query, id,
		st.TransactionID, st.TxnRef, st.ResponseCode, st.TransactionStatus,
		st.ResponseMessage, st.BankCode, st.BankTranNo, st.CardType, st.PayDate,
	)
	if err != nil {
		return false, fmt.Errorf("settlement: apply paid: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PGStore) ApplyFailed(ctx context.Context, st Settlement) error {
	id, err := parseOrderID(st.OrderID)
	if err != nil {
		return err
	}
	const query = `
		UPDATE orders
		SET payment_status = 'failed',
		    payment_response_code = $2,
		    payment_transaction_status = $3,
		    payment_message = $4,
		    updated_at = now()
		WHERE id = $1
		  AND payment_status <> 'paid'`
	if _, err := s.Pool.Exec(ctx, query, id,
		st.ResponseCode, st.TransactionStatus, st.ResponseMessage,
	); err != nil {
		return fmt.Errorf("settlement: apply failed: %w", err)
	}
	return nil
}

// InsertDomainEvent satisfies the event bus store contract.
func (s *PGStore) InsertDomainEvent(ctx context.Context, topic, aggregateID string, payload []byte) (events.DomainEvent, error) {
	id, err := parseOrderID(aggregateID)
	if err != nil {
		return events.DomainEvent{}, fmt.Errorf("events: invalid aggregate id %q", aggregateID)
	}
	const query = `
		INSERT INTO domain_events (topic, aggregate_id, payload)
		VALUES ($1, $2, $3)
		RETURNING id, occurred_at`
	var (
		eventID    pgtype.UUID
		occurredAt pgtype.Timestamptz
	)
	if err := s.Pool.QueryRow(ctx, query, topic, id, payload).Scan(&eventID, &occurredAt); err != nil {
		return events.DomainEvent{}, fmt.Errorf("events: insert domain event: %w", err)
	}
	occurred := occurredAt.Time
	if !occurredAt.Valid {
		occurred = time.Now()
	}
	return events.DomainEvent{
		ID:          uuid.UUID(eventID.Bytes).String(),
		Topic:       topic,
		AggregateID: aggregateID,
		Payload:     payload,
		OccurredAt:  occurred,
	}, nil
}
