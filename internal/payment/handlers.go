package payment

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/pay-core/internal/common"
	"github.com/noah-isme/pay-core/internal/obs"
	"github.com/noah-isme/pay-core/internal/settlement"
	"github.com/noah-isme/pay-core/internal/vnpay"
)

// Handler exposes HTTP endpoints for building signed payment URLs and polling
// settlement status.
type Handler struct {
	Builder  vnpay.Builder
	Orders   settlement.OrderStore
	Validate *validator.Validate
	Logger   zerolog.Logger
}

type createURLReq struct {
	OrderID   string `json:"orderId" validate:"required"`
	Amount    int64  `json:"amount" validate:"required,gt=0"`
	OrderInfo string `json:"orderInfo" validate:"omitempty,max=255"`
	OrderType string `json:"orderType" validate:"omitempty,alphanum,max=20"`
	BankCode  string `json:"bankCode" validate:"omitempty,alphanum,max=20"`
	Locale    string `json:"locale" validate:"omitempty,oneof=vn en"`
}

type createURLResp struct {
	PaymentURL string `json:"paymentUrl"`
	OrderID    string `json:"orderId"`
	TxnRef     string `json:"txnRef"`
	ExpireDate string `json:"expireDate"`
	QRDataURL  string `json:"qrDataUrl,omitempty"`
}

// CreateURL builds a signed redirect URL for an existing order.
func (h *Handler) CreateURL(w http.ResponseWriter, r *http.Request) {
	h.create(w, r, "redirect")
}

// CreateQR builds a signed payment URL pinned to the QR channel and returns it
// together with a rendered QR image.
func (h *Handler) CreateQR(w http.ResponseWriter, r *http.Request) {
	h.create(w, r, "qr")
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request, channel string) {
	if h == nil || h.Orders == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "payment handler unavailable", nil)
		return
	}
	var req createURLReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid body", nil)
		return
	}
	if h.Validate != nil {
		if err := h.Validate.Struct(req); err != nil {
			common.JSONError(w, http.StatusBadRequest, "VALIDATION_FAILED", "invalid request", validationDetails(err))
			return
		}
	}
	req.OrderID = strings.TrimSpace(req.OrderID)

	order, err := h.Orders.GetOrder(r.Context(), req.OrderID)
	if errors.Is(err, settlement.ErrOrderNotFound) {
		common.JSONError(w, http.StatusNotFound, "ORDER_NOT_FOUND", "order not found", nil)
		return
	}
	if err != nil {
		h.Logger.Error().Err(err).Str("order_id", req.OrderID).Msg("load order for payment url")
		common.JSONError(w, http.StatusInternalServerError, "ORDER_FETCH_ERROR", "unable to load order", nil)
		return
	}
	if order.PaymentStatus == settlement.PaymentPaid {
		common.JSONError(w, http.StatusConflict, "ORDER_ALREADY_PAID", "order is already paid", nil)
		return
	}
	if req.Amount != order.Payable() {
		common.JSONError(w, http.StatusBadRequest, "AMOUNT_MISMATCH", "amount does not match order total", map[string]int64{
			"expected": order.Payable(),
		})
		return
	}

	bankCode := req.BankCode
	if channel == "qr" {
		bankCode = "VNPAYQR"
	}
	signed, err := h.Builder.Build(r.Context(), vnpay.Request{
		OrderID:   order.ID,
		Amount:    req.Amount,
		OrderInfo: req.OrderInfo,
		OrderType: req.OrderType,
		BankCode:  bankCode,
		Locale:    req.Locale,
		ClientIP:  common.ClientIP(r),
	})
	if err != nil {
		countURLBuild(channel, "error")
		common.JSONError(w, http.StatusBadRequest, "URL_BUILD_FAILED", err.Error(), nil)
		return
	}
	if err := h.Orders.RecordAttempt(r.Context(), order.ID, signed.TxnRef, signed.CreateDate, signed.ExpireDate); err != nil {
		countURLBuild(channel, "error")
		h.Logger.Error().Err(err).Str("order_id", order.ID).Str("txn_ref", signed.TxnRef).Msg("record payment attempt")
		common.JSONError(w, http.StatusInternalServerError, "ATTEMPT_RECORD_ERROR", "unable to record payment attempt", nil)
		return
	}

	resp := createURLResp{
		PaymentURL: signed.URL,
		OrderID:    order.ID,
		TxnRef:     signed.TxnRef,
		ExpireDate: signed.ExpireDate,
	}
	if channel == "qr" {
		qr, err := vnpay.QRDataURL(signed.URL)
		if err != nil {
			countURLBuild(channel, "error")
			h.Logger.Error().Err(err).Str("order_id", order.ID).Msg("render payment qr")
			common.JSONError(w, http.StatusInternalServerError, "QR_RENDER_ERROR", "unable to render qr code", nil)
			return
		}
		resp.QRDataURL = qr
	}
	countURLBuild(channel, "ok")
	h.Logger.Info().Str("order_id", order.ID).Str("txn_ref", signed.TxnRef).
		Str("channel", channel).Int64("amount", req.Amount).Msg("payment url created")
	common.JSON(w, http.StatusOK, resp)
}

// Status reports the settlement state of an order.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Orders == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "payment handler unavailable", nil)
		return
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderId"))
	if orderID == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "orderId is required", nil)
		return
	}
	order, err := h.Orders.GetOrder(r.Context(), orderID)
	if errors.Is(err, settlement.ErrOrderNotFound) {
		common.JSONError(w, http.StatusNotFound, "ORDER_NOT_FOUND", "order not found", nil)
		return
	}
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "ORDER_FETCH_ERROR", "unable to load order", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]string{
		"orderId":       order.ID,
		"paymentStatus": string(order.PaymentStatus),
		"orderStatus":   order.OrderStatus,
		"transactionId": order.TransactionID,
	})
}

func countURLBuild(channel, result string) {
	if obs.PaymentURLTotal != nil {
		obs.PaymentURLTotal.WithLabelValues(channel, result).Inc()
	}
}

func validationDetails(err error) any {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag()
	}
	return fields
}
