package settlement

import (
	"context"
	"errors"
)

// PaymentStatus is the persisted payment state of an order.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

// Order lifecycle statuses this core touches. Only settlement success
// advances the lifecycle; failures leave it alone.
const (
	OrderStatusPending   = "pending"
	OrderStatusConfirmed = "confirmed"
)

// ErrOrderNotFound indicates the transaction reference does not resolve to a
// known order.
var ErrOrderNotFound = errors.New("settlement: order not found")

// Order is the slice of the order record this core reads and writes. The
// order itself is owned by the wider platform.
type Order struct {
	ID            string
	Email         string
	TotalAmount   int64
	ShippingFee   int64
	PaymentStatus PaymentStatus
	OrderStatus   string
	TxnRef        string
	TxnExpireDate string
	TransactionID string
}

// Payable returns the expected settlement amount: order total plus shipping.
func (o Order) Payable() int64 {
	return o.TotalAmount + o.ShippingFee
}

// Settlement carries every field written when a callback outcome is applied.
// The store must persist them in a single atomic update.
type Settlement struct {
	OrderID           string
	TxnRef            string
	TransactionID     string
	ResponseCode      string
	TransactionStatus string
	ResponseMessage   string
	BankCode          string
	BankTranNo        string
	CardType          string
	PayDate           string
}

// OrderStore is the persistence collaborator for reconciliation.
type OrderStore interface {
	// GetOrder loads the payment view of an order. Returns ErrOrderNotFound
	// when the identifier does not resolve.
	GetOrder(ctx context.Context, orderID string) (Order, error)

	// RecordAttempt persists a freshly derived transaction reference and its
	// timestamps so later callbacks can be correlated even if the redirect
	// never completes.
	RecordAttempt(ctx context.Context, orderID, txnRef, createDate, expireDate string) error

	// ApplyPaid transitions the order to paid/confirmed with all settlement
	// metadata in one conditional update. It reports false when the guard
	// rejected the write (the order is already paid under a transaction id).
	ApplyPaid(ctx context.Context, s Settlement) (bool, error)

	// ApplyFailed records a failed outcome without touching the order
	// lifecycle status. It must never downgrade an order that is already
	// paid.
	ApplyFailed(ctx context.Context, s Settlement) error
}
