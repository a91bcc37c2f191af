package payment

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/pay-core/internal/common"
	"github.com/noah-isme/pay-core/internal/obs"
	"github.com/noah-isme/pay-core/internal/settlement"
	"github.com/noah-isme/pay-core/internal/vnpay"
)

// Gateway acknowledgement codes for the server-to-server channel. The body is
// the only thing the gateway inspects; the HTTP status is always 200.
const (
	AckConfirmed      = "00"
	AckOrderNotFound  = "01"
	AckOrderConfirmed = "02"
	AckInvalidAmount  = "04"
	AckInvalidHash    = "97"
	AckUnknownError   = "99"
)

type ipnAck struct {
	RspCode string `json:"RspCode"`
	Message string `json:"Message"`
}

// Webhook handles both gateway callback channels: the server-to-server IPN
// and the browser return redirect.
type Webhook struct {
	HashSecret      string
	Settler         *settlement.Service
	Replay          *redis.Client
	ReplayTTL       time.Duration
	FrontendBaseURL string
	Logger          zerolog.Logger
}

// IPN processes the server-to-server notification. Every path acknowledges
// with HTTP 200; the RspCode tells the gateway whether to retry.
func (h Webhook) IPN(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			h.Logger.Error().Interface("panic", rec).Msg("ipn handler panicked")
			ack(w, AckUnknownError, "Unknown error")
		}
	}()

	cb, err := vnpay.ParseCallback(h.HashSecret, r.URL.Query())
	switch {
	case errors.Is(err, vnpay.ErrInvalidSignature):
		h.Logger.Warn().Str("remote_addr", r.RemoteAddr).Msg("ipn signature verification failed")
		countCallback("ipn", "invalid_signature")
		ack(w, AckInvalidHash, "Checksum failed")
		return
	case errors.Is(err, vnpay.ErrMissingTxnRef):
		countCallback("ipn", "missing_ref")
		ack(w, AckOrderNotFound, "Order not found")
		return
	case err != nil:
		h.Logger.Error().Err(err).Msg("ipn parse failed")
		countCallback("ipn", "error")
		ack(w, AckUnknownError, "Unknown error")
		return
	}

	if replayed, err := h.alreadySeen(r.Context(), cb); err != nil {
		h.Logger.Error().Err(err).Str("txn_ref", cb.TxnRef).Msg("ipn replay store error")
		countCallback("ipn", "error")
		ack(w, AckUnknownError, "Unknown error")
		return
	} else if replayed {
		// The gateway retries until it sees 00; a byte-identical redelivery
		// needs no reconciliation.
		countCallback("ipn", "replay")
		ack(w, AckConfirmed, "Confirm Success")
		return
	}

	out, err := h.Settler.Reconcile(r.Context(), cb)
	if err != nil {
		// The delivery is not recorded in the replay guard, so the gateway
		// retry reconciles from scratch.
		h.Logger.Error().Err(err).Str("txn_ref", cb.TxnRef).Msg("ipn reconciliation error")
		countCallback("ipn", "error")
		ack(w, AckUnknownError, "Unknown error")
		return
	}
	countCallback("ipn", string(out.Result))
	observeSettlement("ipn", start)

	switch out.Result {
	case settlement.ResultPaid, settlement.ResultFailed, settlement.ResultDuplicate:
		// A recorded business failure is still a successful confirmation.
		// Only deliveries acknowledged with 00 enter the replay guard: the
		// replay path answers 00 unconditionally.
		h.markSeen(r.Context(), cb)
		ack(w, AckConfirmed, "Confirm Success")
	case settlement.ResultConflict:
		ack(w, AckOrderConfirmed, "Order already confirmed")
	case settlement.ResultOrderNotFound:
		ack(w, AckOrderNotFound, "Order not found")
	case settlement.ResultAmountMismatch:
		ack(w, AckInvalidAmount, "Amount invalid")
	default:
		ack(w, AckUnknownError, "Unknown error")
	}
}

// Return processes the browser redirect. It reconciles best-effort so the
// outcome is visible even when the IPN is delayed, then forwards the shopper
// to the storefront result page.
func (h Webhook) Return(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	cb, err := vnpay.ParseCallback(h.HashSecret, r.URL.Query())
	if err != nil {
		h.Logger.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("return verification failed")
		countCallback("return", "invalid_signature")
		h.redirect(w, r, url.Values{"status": {"invalid"}})
		return
	}

	out, err := h.Settler.Reconcile(r.Context(), cb)
	if err != nil {
		h.Logger.Error().Err(err).Str("txn_ref", cb.TxnRef).Msg("return reconciliation error")
		countCallback("return", "error")
		h.redirect(w, r, url.Values{
			"status":  {"pending"},
			"orderId": {cb.OrderID},
		})
		return
	}
	countCallback("return", string(out.Result))
	observeSettlement("return", start)

	q := url.Values{"orderId": {out.OrderID}}
	switch out.Result {
	case settlement.ResultPaid, settlement.ResultDuplicate:
		q.Set("status", "success")
	case settlement.ResultConflict:
		q.Set("status", "failed")
		q.Set("code", "conflict")
	case settlement.ResultOrderNotFound:
		q.Set("status", "failed")
		q.Set("code", "not_found")
	case settlement.ResultAmountMismatch:
		q.Set("status", "failed")
		q.Set("code", "amount_mismatch")
	default:
		q.Set("status", "failed")
		q.Set("code", cb.ResponseCode)
	}
	h.redirect(w, r, q)
}

func replayKey(cb vnpay.Callback) string {
	return "ipn:" + common.Sha256Hex(cb.TxnRef+"|"+cb.TransactionNo+"|"+cb.ResponseCode)
}

// alreadySeen reports whether this delivery was already acknowledged with 00.
// Consulted only after signature verification so an attacker cannot poison
// the guard.
func (h Webhook) alreadySeen(ctx context.Context, cb vnpay.Callback) (bool, error) {
	if h.Replay == nil || h.ReplayTTL <= 0 {
		return false, nil
	}
	n, err := h.Replay.Exists(ctx, replayKey(cb)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// markSeen records a delivery after it has been acknowledged with 00. Error
// paths never mark, otherwise the gateway retry would be absorbed before the
// order was ever settled.
func (h Webhook) markSeen(ctx context.Context, cb vnpay.Callback) {
	if h.Replay == nil || h.ReplayTTL <= 0 {
		return
	}
	if err := h.Replay.Set(ctx, replayKey(cb), "1", h.ReplayTTL).Err(); err != nil {
		h.Logger.Warn().Err(err).Str("txn_ref", cb.TxnRef).Msg("record replay key")
	}
}

func (h Webhook) redirect(w http.ResponseWriter, r *http.Request, q url.Values) {
	base := strings.TrimRight(h.FrontendBaseURL, "/")
	http.Redirect(w, r, base+"/payment/vnpay-return?"+q.Encode(), http.StatusFound)
}

func ack(w http.ResponseWriter, code, message string) {
	common.JSON(w, http.StatusOK, ipnAck{RspCode: code, Message: message})
}

func countCallback(channel, result string) {
	if obs.PaymentCallbackTotal != nil {
		obs.PaymentCallbackTotal.WithLabelValues(channel, result).Inc()
	}
}

func observeSettlement(channel string, start time.Time) {
	if obs.SettlementLatency != nil {
		obs.SettlementLatency.WithLabelValues(channel).Observe(obs.DurationMillis(time.Since(start)))
	}
}
