package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/pay-core/internal/events"
	"github.com/noah-isme/pay-core/internal/vnpay"
)

// Result classifies what a reconciliation attempt did to the order.
type Result string

const (
	// ResultPaid means the success outcome was applied and the order advanced.
	ResultPaid Result = "paid"
	// ResultFailed means a gateway-reported failure was recorded.
	ResultFailed Result = "failed"
	// ResultDuplicate means the same successful outcome had already been
	// applied for the same transaction id; nothing was written.
	ResultDuplicate Result = "duplicate"
	// ResultConflict means the order is already paid under a different
	// transaction id; the callback was rejected as anomalous.
	ResultConflict Result = "conflict"
	// ResultAmountMismatch means the paid amount disagreed with the expected
	// payable total; the order was marked failed.
	ResultAmountMismatch Result = "amount_mismatch"
	// ResultOrderNotFound means the reference did not resolve to an order.
	ResultOrderNotFound Result = "order_not_found"
)

// Outcome reports the effect of one reconciliation attempt.
type Outcome struct {
	Result  Result
	OrderID string
	Message string
}

// Locker serialises reconciliation per order. Both callback channels may
// fire concurrently for the same order; the lock turns the read-decide-write
// sequence into a critical section.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Service is the reconciliation state machine. It owns no HTTP concerns and
// performs every mutation through the OrderStore.
type Service struct {
	Orders    OrderStore
	Locks     Locker
	Events    *events.Bus
	Logger    zerolog.Logger
	Tolerance int64
	LockTTL   time.Duration
	Now       func() time.Time
}

// Reconcile maps a verified callback onto the order's payment state. It is
// safe to invoke any number of times for the same callback: duplicates are
// absorbed, and a committed success is never downgraded.
func (s *Service) Reconcile(ctx context.Context, cb vnpay.Callback) (Outcome, error) {
	if s == nil || s.Orders == nil {
		return Outcome{}, errors.New("settlement: service not configured")
	}
	ctx, span := otel.Tracer("settlement.Service").Start(ctx, "Service.Reconcile")
	defer span.End()
	span.SetAttributes(
		attribute.String("order.id", cb.OrderID),
		attribute.String("payment.txn_ref", cb.TxnRef),
		attribute.String("payment.response_code", cb.ResponseCode),
	)

	var out Outcome
	apply := func(ctx context.Context) error {
		var err error
		out, err = s.reconcileLocked(ctx, cb)
		return err
	}

	var err error
	if s.Locks != nil {
		ttl := s.LockTTL
		if ttl <= 0 {
			ttl = 30 * time.Second
		}
		err = s.Locks.WithLock(ctx, "settle:order:"+cb.OrderID, ttl, apply)
	} else {
		err = apply(ctx)
	}
	if err != nil {
		span.RecordError(err)
		return Outcome{}, err
	}
	span.SetAttributes(attribute.String("settlement.result", string(out.Result)))
	return out, nil
}

func (s *Service) reconcileLocked(ctx context.Context, cb vnpay.Callback) (Outcome, error) {
	order, err := s.Orders.GetOrder(ctx, cb.OrderID)
	if errors.Is(err, ErrOrderNotFound) {
		s.Logger.Warn().Str("order_id", cb.OrderID).Str("txn_ref", cb.TxnRef).
			Msg("callback references unknown order")
		return Outcome{Result: ResultOrderNotFound, OrderID: cb.OrderID, Message: "order not found"}, nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("settlement: load order: %w", err)
	}

	s.checkExpiry(order, cb)

	expected := order.Payable()
	if diff := cb.Amount - expected; diff > s.Tolerance || diff < -s.Tolerance {
		s.Logger.Error().Str("order_id", order.ID).Str("txn_ref", cb.TxnRef).
			Int64("expected", expected).Int64("paid", cb.Amount).
			Msg("callback amount mismatch")
		if applyErr := s.Orders.ApplyFailed(ctx, Settlement{
			OrderID:           order.ID,
			TxnRef:            cb.TxnRef,
			ResponseCode:      cb.ResponseCode,
			TransactionStatus: cb.TransactionStatus,
			ResponseMessage:   fmt.Sprintf("amount mismatch: expected %d, paid %d", expected, cb.Amount),
		}); applyErr != nil {
			return Outcome{}, fmt.Errorf("settlement: record amount mismatch: %w", applyErr)
		}
		return Outcome{Result: ResultAmountMismatch, OrderID: order.ID, Message: "amount mismatch"}, nil
	}

	if order.PaymentStatus == PaymentPaid {
		if order.TransactionID != "" && order.TransactionID == cb.TransactionNo {
			// Both channels may deliver the same success; the second is a no-op.
			s.Logger.Info().Str("order_id", order.ID).Str("transaction_id", cb.TransactionNo).
				Msg("duplicate settlement delivery absorbed")
			return Outcome{Result: ResultDuplicate, OrderID: order.ID, Message: "already processed"}, nil
		}
		s.Logger.Error().Str("order_id", order.ID).
			Str("committed_transaction_id", order.TransactionID).
			Str("callback_transaction_id", cb.TransactionNo).
			Str("txn_ref", cb.TxnRef).
			Msg("conflicting settlement for already-paid order rejected")
		return Outcome{Result: ResultConflict, OrderID: order.ID, Message: "order already confirmed"}, nil
	}

	if cb.Succeeded() {
		applied, err := s.Orders.ApplyPaid(ctx, Settlement{
			OrderID:           order.ID,
			TxnRef:            cb.TxnRef,
			TransactionID:     cb.TransactionNo,
			ResponseCode:      cb.ResponseCode,
			TransactionStatus: cb.TransactionStatus,
			ResponseMessage:   vnpay.ResponseMessage(cb.ResponseCode),
			BankCode:          cb.BankCode,
			BankTranNo:        cb.BankTranNo,
			CardType:          cb.CardType,
			PayDate:           cb.PayDate,
		})
		if err != nil {
			return Outcome{}, fmt.Errorf("settlement: apply paid: %w", err)
		}
		if !applied {
			// The storage guard lost a race we did not observe above.
			fresh, err := s.Orders.GetOrder(ctx, cb.OrderID)
			if err == nil && fresh.TransactionID == cb.TransactionNo {
				return Outcome{Result: ResultDuplicate, OrderID: order.ID, Message: "already processed"}, nil
			}
			return Outcome{Result: ResultConflict, OrderID: order.ID, Message: "order already confirmed"}, nil
		}
		s.Logger.Info().Str("order_id", order.ID).Str("transaction_id", cb.TransactionNo).
			Int64("amount", cb.Amount).Msg("payment settled")
		s.emit(ctx, events.TopicOrderPaid, order, cb)
		return Outcome{Result: ResultPaid, OrderID: order.ID, Message: vnpay.ResponseMessage(cb.ResponseCode)}, nil
	}

	message := vnpay.ResponseMessage(cb.ResponseCode)
	if err := s.Orders.ApplyFailed(ctx, Settlement{
		OrderID:           order.ID,
		TxnRef:            cb.TxnRef,
		ResponseCode:      cb.ResponseCode,
		TransactionStatus: cb.TransactionStatus,
		ResponseMessage:   message,
	}); err != nil {
		return Outcome{}, fmt.Errorf("settlement: apply failed: %w", err)
	}
	s.Logger.Info().Str("order_id", order.ID).Str("response_code", cb.ResponseCode).
		Str("class", string(vnpay.ResponseClass(cb.ResponseCode))).Msg("payment failed")
	s.emit(ctx, events.TopicPaymentFailed, order, cb)
	return Outcome{Result: ResultFailed, OrderID: order.ID, Message: message}, nil
}

// checkExpiry flags callbacks arriving after the recorded expiry. Expiry is
// enforced by the gateway; a late callback is suspicious but still verified
// and applied as usual.
func (s *Service) checkExpiry(order Order, cb vnpay.Callback) {
	if order.TxnExpireDate == "" {
		return
	}
	expiry, err := time.ParseInLocation(vnpay.TimestampLayout, order.TxnExpireDate, time.Local)
	if err != nil {
		return
	}
	now := time.Now()
	if s.Now != nil {
		now = s.Now()
	}
	if now.After(expiry) {
		s.Logger.Warn().Str("order_id", order.ID).Str("txn_ref", cb.TxnRef).
			Str("expire_date", order.TxnExpireDate).
			Msg("callback arrived after recorded expiry")
	}
}

func (s *Service) emit(ctx context.Context, topic string, order Order, cb vnpay.Callback) {
	if s.Events == nil {
		return
	}
	payload := map[string]any{
		"orderId":       order.ID,
		"txnRef":        cb.TxnRef,
		"responseCode":  cb.ResponseCode,
		"transactionId": cb.TransactionNo,
		"amount":        cb.Amount,
	}
	// Downstream notifiers address the customer through the payload.
	if order.Email != "" {
		payload["email"] = order.Email
	}
	if _, err := s.Events.Emit(ctx, topic, order.ID, payload); err != nil {
		s.Logger.Error().Err(err).Str("topic", topic).Str("order_id", order.ID).
			Msg("emit settlement event")
	}
}
