package payment_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/pay-core/internal/payment"
	"github.com/noah-isme/pay-core/internal/settlement"
	"github.com/noah-isme/pay-core/internal/vnpay"
)

const (
	testSecret  = "UTGPOSGKQRWNCGPSNHFJMEXCZRRLHJAF"
	testOrderID = "7b9f8a1e-3c2d-4e5f-9a6b-1c2d3e4f5a6b"
	testTxnRef  = "7b9f8a1e3c2d4e5f9a6b1c2d3e4f5a6b_1700000000000"
)

type fakeStore struct {
	order       settlement.Order
	missing     bool
	getFailures int
	attempts    []string
	paidCalls   int
	failedCalls int
}

func (f *fakeStore) GetOrder(_ context.Context, orderID string) (settlement.Order, error) {
	if f.getFailures > 0 {
		f.getFailures--
		return settlement.Order{}, errors.New("connection reset by peer")
	}
	if f.missing {
		return settlement.Order{}, settlement.ErrOrderNotFound
	}
	want, err1 := uuid.Parse(f.order.ID)
	got, err2 := uuid.Parse(orderID)
	if err1 != nil || err2 != nil || want != got {
		return settlement.Order{}, settlement.ErrOrderNotFound
	}
	return f.order, nil
}

func (f *fakeStore) RecordAttempt(_ context.Context, _, txnRef, _, _ string) error {
	f.attempts = append(f.attempts, txnRef)
	return nil
}

func (f *fakeStore) ApplyPaid(_ context.Context, s settlement.Settlement) (bool, error) {
	f.paidCalls++
	f.order.PaymentStatus = settlement.PaymentPaid
	f.order.OrderStatus = settlement.OrderStatusConfirmed
	f.order.TransactionID = s.TransactionID
	return true, nil
}

func (f *fakeStore) ApplyFailed(_ context.Context, _ settlement.Settlement) error {
	f.failedCalls++
	f.order.PaymentStatus = settlement.PaymentFailed
	return nil
}

func pendingOrder() settlement.Order {
	return settlement.Order{
		ID:            testOrderID,
		TotalAmount:   150000,
		ShippingFee:   10000,
		PaymentStatus: settlement.PaymentPending,
		OrderStatus:   settlement.OrderStatusPending,
		TxnRef:        testTxnRef,
	}
}

func signedQuery(mutate func(vnpay.Params)) string {
	p := vnpay.Params{}
	p.Set("vnp_TmnCode", "DEMOV210")
	p.Set("vnp_TxnRef", testTxnRef)
	p.Set("vnp_Amount", "16000000")
	p.Set("vnp_ResponseCode", "00")
	p.Set("vnp_TransactionStatus", "00")
	p.Set("vnp_TransactionNo", "14422574")
	p.Set("vnp_BankCode", "NCB")
	p.Set("vnp_PayDate", "20241114093211")
	if mutate != nil {
		mutate(p)
	}
	if _, ok := p[vnpay.FieldSecureHash]; !ok {
		p.Set(vnpay.FieldSecureHash, vnpay.Sign(testSecret, p.SignData()))
	}
	return p.Encode()
}

func newWebhook(t *testing.T, store *fakeStore) payment.Webhook {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return payment.Webhook{
		HashSecret: testSecret,
		Settler: &settlement.Service{
			Orders: store,
			Logger: zerolog.Nop(),
		},
		Replay:          client,
		ReplayTTL:       time.Hour,
		FrontendBaseURL: "https://shop.example",
		Logger:          zerolog.Nop(),
	}
}

func doIPN(t *testing.T, h payment.Webhook, query string) (int, map[string]string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/vnpay/ipn?"+query, nil)
	rr := httptest.NewRecorder()
	h.IPN(rr, req)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return rr.Code, body
}

func TestIPNConfirmsSuccess(t *testing.T) {
	store := &fakeStore{order: pendingOrder()}
	h := newWebhook(t, store)

	code, body := doIPN(t, h, signedQuery(nil))
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, payment.AckConfirmed, body["RspCode"])
	require.Equal(t, 1, store.paidCalls)
	require.Equal(t, settlement.PaymentPaid, store.order.PaymentStatus)
	require.Equal(t, "14422574", store.order.TransactionID)
}

func TestIPNRejectsForgedSignature(t *testing.T) {
	store := &fakeStore{order: pendingOrder()}
	h := newWebhook(t, store)

	query := signedQuery(func(p vnpay.Params) {
		p.Set(vnpay.FieldSecureHash, strings.Repeat("0", 128))
	})
	code, body := doIPN(t, h, query)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, payment.AckInvalidHash, body["RspCode"])
	require.Zero(t, store.paidCalls)
}

func TestIPNAbsorbsReplayedDelivery(t *testing.T) {
	store := &fakeStore{order: pendingOrder()}
	h := newWebhook(t, store)

	query := signedQuery(nil)
	_, first := doIPN(t, h, query)
	require.Equal(t, payment.AckConfirmed, first["RspCode"])

	_, second := doIPN(t, h, query)
	require.Equal(t, payment.AckConfirmed, second["RspCode"])
	require.Equal(t, 1, store.paidCalls, "replay must not reconcile again")
}

func TestIPNRetryAfterInternalErrorStillSettles(t *testing.T) {
	store := &fakeStore{order: pendingOrder(), getFailures: 1}
	h := newWebhook(t, store)

	query := signedQuery(nil)
	_, first := doIPN(t, h, query)
	require.Equal(t, payment.AckUnknownError, first["RspCode"])
	require.Zero(t, store.paidCalls)

	// The failed delivery must not enter the replay guard; the identical
	// retry reconciles from scratch and settles the order.
	_, second := doIPN(t, h, query)
	require.Equal(t, payment.AckConfirmed, second["RspCode"])
	require.Equal(t, 1, store.paidCalls)
	require.Equal(t, settlement.PaymentPaid, store.order.PaymentStatus)
}

func TestIPNAmountMismatch(t *testing.T) {
	store := &fakeStore{order: pendingOrder()}
	h := newWebhook(t, store)

	query := signedQuery(func(p vnpay.Params) {
		p.Set("vnp_Amount", "15000000")
	})
	code, body := doIPN(t, h, query)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, payment.AckInvalidAmount, body["RspCode"])
	require.Equal(t, 1, store.failedCalls)
}

func TestIPNOrderNotFound(t *testing.T) {
	store := &fakeStore{missing: true}
	h := newWebhook(t, store)

	_, body := doIPN(t, h, signedQuery(nil))
	require.Equal(t, payment.AckOrderNotFound, body["RspCode"])
}

func TestIPNConflictingReference(t *testing.T) {
	order := pendingOrder()
	order.PaymentStatus = settlement.PaymentPaid
	order.TransactionID = "99999999"
	store := &fakeStore{order: order}
	h := newWebhook(t, store)

	_, body := doIPN(t, h, signedQuery(nil))
	require.Equal(t, payment.AckOrderConfirmed, body["RspCode"])
	require.Equal(t, "99999999", store.order.TransactionID)
}

func TestIPNBusinessFailureStillConfirms(t *testing.T) {
	store := &fakeStore{order: pendingOrder()}
	h := newWebhook(t, store)

	query := signedQuery(func(p vnpay.Params) {
		p.Set("vnp_ResponseCode", "24")
		p.Set("vnp_TransactionStatus", "02")
	})
	_, body := doIPN(t, h, query)
	require.Equal(t, payment.AckConfirmed, body["RspCode"])
	require.Equal(t, 1, store.failedCalls)
	require.Equal(t, settlement.PaymentFailed, store.order.PaymentStatus)
}

func TestReturnRedirectsOnSuccess(t *testing.T) {
	store := &fakeStore{order: pendingOrder()}
	h := newWebhook(t, store)

	req := httptest.NewRequest(http.MethodGet, "/payments/vnpay/return?"+signedQuery(nil), nil)
	rr := httptest.NewRecorder()
	h.Return(rr, req)

	require.Equal(t, http.StatusFound, rr.Code)
	loc, err := url.Parse(rr.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "shop.example", loc.Host)
	require.Equal(t, "/payment/vnpay-return", loc.Path)
	require.Equal(t, "success", loc.Query().Get("status"))
	require.Equal(t, 1, store.paidCalls, "return channel must settle when it arrives first")
}

func TestReturnRedirectsOnInvalidSignature(t *testing.T) {
	store := &fakeStore{order: pendingOrder()}
	h := newWebhook(t, store)

	query := signedQuery(func(p vnpay.Params) {
		p.Set(vnpay.FieldSecureHash, strings.Repeat("f", 128))
	})
	req := httptest.NewRequest(http.MethodGet, "/payments/vnpay/return?"+query, nil)
	rr := httptest.NewRecorder()
	h.Return(rr, req)

	require.Equal(t, http.StatusFound, rr.Code)
	loc, err := url.Parse(rr.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "invalid", loc.Query().Get("status"))
	require.Zero(t, store.paidCalls)
}

func TestReturnRedirectsOnFailureCode(t *testing.T) {
	store := &fakeStore{order: pendingOrder()}
	h := newWebhook(t, store)

	query := signedQuery(func(p vnpay.Params) {
		p.Set("vnp_ResponseCode", "24")
		p.Set("vnp_TransactionStatus", "02")
	})
	req := httptest.NewRequest(http.MethodGet, "/payments/vnpay/return?"+query, nil)
	rr := httptest.NewRecorder()
	h.Return(rr, req)

	loc, err := url.Parse(rr.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "failed", loc.Query().Get("status"))
	require.Equal(t, "24", loc.Query().Get("code"))
}
