package vnpay

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// Gateway limits fixed by the external contract.
const (
	MaxTxnRefLen    = 100
	MaxOrderInfoLen = 255

	// TxnRefDelimiter separates the order-derived prefix from the timestamp
	// suffix in a transaction reference. The delimiter cannot occur in the
	// prefix because the prefix is stripped to alphanumerics first.
	TxnRefDelimiter = "_"

	// TimestampLayout is the gateway's fixed-width date format (YYYYMMDDHHmmss).
	TimestampLayout = "20060102150405"

	defaultOrderInfo = "Thanh toan don hang"
	protocolVersion  = "2.1.0"
	commandPay       = "pay"
	currencyCode     = "VND"
	defaultLocale    = "vn"
	defaultOrderType = "other"
	fallbackClientIP = "127.0.0.1"
)

// ErrInvalidAmount reports an amount that does not convert to a positive
// integer in the gateway's minor unit. This is a caller bug, rejected before
// any signing happens.
var ErrInvalidAmount = errors.New("vnpay: amount must be a positive integer")

// Config carries the merchant credentials and endpoints shared by every
// outbound request. Loaded once at startup.
type Config struct {
	TmnCode    string
	HashSecret string
	BaseURL    string
	ReturnURL  string
	IpnURL     string
	Expiry     time.Duration
}

// Builder assembles signed payment URLs. It holds no mutable state; the clock
// is injected so tests control reference suffixes and expiry stamps.
type Builder struct {
	Cfg Config
	Now func() time.Time
}

// Request describes a single payment attempt for an order. Amount is in the
// major currency unit (VND).
type Request struct {
	OrderID   string
	Amount    int64
	OrderInfo string
	OrderType string
	BankCode  string
	Locale    string
	ClientIP  string
}

// Signed is the outcome of building a request: the redirect URL plus the
// reference and timestamps that must be persisted on the order before the
// URL is handed out.
type Signed struct {
	URL        string
	TxnRef     string
	CreateDate string
	ExpireDate string
}

// Build derives the transaction reference, normalises free-text fields,
// assembles the full signed field set and returns the redirect URL.
func (b Builder) Build(ctx context.Context, req Request) (Signed, error) {
	_, span := otel.Tracer("vnpay.Builder").Start(ctx, "Builder.Build")
	defer span.End()

	if strings.TrimSpace(req.OrderID) == "" {
		return Signed{}, errors.New("vnpay: order id is required")
	}
	// The ×100 minor-unit conversion must not wrap.
	if req.Amount <= 0 || req.Amount > math.MaxInt64/100 {
		return Signed{}, fmt.Errorf("%w: got %d", ErrInvalidAmount, req.Amount)
	}
	amountMinor := req.Amount * 100

	now := time.Now()
	if b.Now != nil {
		now = b.Now()
	}
	expiry := b.Cfg.Expiry
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}
	createDate := now.Format(TimestampLayout)
	expireDate := now.Add(expiry).Format(TimestampLayout)
	txnRef := DeriveTxnRef(req.OrderID, now)

	span.SetAttributes(
		attribute.String("payment.txn_ref", txnRef),
		attribute.Int64("payment.amount", req.Amount),
	)

	locale := strings.TrimSpace(req.Locale)
	if locale == "" {
		locale = defaultLocale
	}
	orderType := strings.TrimSpace(req.OrderType)
	if orderType == "" {
		orderType = defaultOrderType
	}
	clientIP := strings.TrimSpace(req.ClientIP)
	if clientIP == "" {
		clientIP = fallbackClientIP
	}

	params := Params{}
	params.Set("vnp_Version", protocolVersion)
	params.Set("vnp_Command", commandPay)
	params.Set("vnp_TmnCode", b.Cfg.TmnCode)
	params.Set("vnp_CurrCode", currencyCode)
	params.Set("vnp_Locale", locale)
	params.Set("vnp_TxnRef", txnRef)
	params.Set("vnp_OrderInfo", NormalizeOrderInfo(req.OrderInfo))
	params.Set("vnp_OrderType", orderType)
	params.SetInt("vnp_Amount", amountMinor)
	params.Set("vnp_CreateDate", createDate)
	params.Set("vnp_ExpireDate", expireDate)
	params.Set("vnp_IpAddr", clientIP)
	params.Set("vnp_ReturnUrl", b.Cfg.ReturnURL)
	params.Set("vnp_IpnUrl", b.Cfg.IpnURL)
	params.Set("vnp_BankCode", req.BankCode)

	signature := Sign(b.Cfg.HashSecret, params.SignData())
	query := params.Encode() + "&" + FieldSecureHash + "=" + signature

	return Signed{
		URL:        b.Cfg.BaseURL + "?" + query,
		TxnRef:     txnRef,
		CreateDate: createDate,
		ExpireDate: expireDate,
	}, nil
}

// DeriveTxnRef builds the unique transaction reference for an order: the
// alphanumeric-stripped order id, the delimiter and a millisecond timestamp.
// When the combined length exceeds the gateway limit the order-derived prefix
// is shortened; the suffix is never touched, since it carries the uniqueness.
func DeriveTxnRef(orderID string, now time.Time) string {
	prefix := stripNonAlnum(orderID)
	suffix := strconv.FormatInt(now.UnixMilli(), 10)
	if limit := MaxTxnRefLen - len(suffix) - len(TxnRefDelimiter); len(prefix) > limit {
		prefix = prefix[:limit]
	}
	return prefix + TxnRefDelimiter + suffix
}

// OrderIDFromTxnRef recovers the order identifier embedded in a transaction
// reference by stripping the timestamp suffix.
func OrderIDFromTxnRef(txnRef string) string {
	id, _, _ := strings.Cut(txnRef, TxnRefDelimiter)
	return id
}

// NormalizeOrderInfo constrains a free-text description to the gateway's
// accepted alphabet: diacritics transliterated to ASCII, everything outside
// letters/digits/spaces dropped, whitespace collapsed, length capped. An
// empty result falls back to a fixed default.
func NormalizeOrderInfo(info string) string {
	var b strings.Builder
	lastSpace := true
	for _, r := range info {
		if ascii, ok := transliterate(r); ok {
			r = ascii
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	out := strings.TrimSpace(b.String())
	if len(out) > MaxOrderInfoLen {
		out = strings.TrimSpace(out[:MaxOrderInfoLen])
	}
	if out == "" {
		return defaultOrderInfo
	}
	return out
}

// Vietnamese diacritic groups and their closest ASCII letter.
var translitGroups = map[rune]rune{}

func init() {
	groups := map[rune]string{
		'a': "àáạảãâầấậẩẫăằắặẳẵ",
		'e': "èéẹẻẽêềếệểễ",
		'i': "ìíịỉĩ",
		'o': "òóọỏõôồốộổỗơờớợởỡ",
		'u': "ùúụủũưừứựửữ",
		'y': "ỳýỵỷỹ",
		'd': "đ",
	}
	for ascii, runes := range groups {
		for _, r := range runes {
			translitGroups[r] = ascii
			translitGroups[unicode.ToUpper(r)] = unicode.ToUpper(ascii)
		}
	}
}

func transliterate(r rune) (rune, bool) {
	ascii, ok := translitGroups[r]
	return ascii, ok
}

func stripNonAlnum(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
