package vnpay

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
)

// Errors returned while interpreting an inbound callback.
var (
	ErrInvalidSignature = errors.New("vnpay: invalid callback signature")
	ErrMissingTxnRef    = errors.New("vnpay: callback has no transaction reference")
)

// Callback is the verified, normalised content of an inbound gateway
// notification from either channel. Amount is converted back to the major
// currency unit. Interpretation performs no persistence.
type Callback struct {
	TxnRef            string
	OrderID           string
	ResponseCode      string
	TransactionStatus string
	Amount            int64
	TransactionNo     string
	BankCode          string
	BankTranNo        string
	CardType          string
	PayDate           string
}

// Succeeded reports whether both gateway channels signal success.
func (c Callback) Succeeded() bool {
	return c.ResponseCode == ResponseCodeSuccess && c.TransactionStatus == TransactionStatusSuccess
}

// ParseCallback verifies the signature of a raw inbound query and extracts
// the settlement fields. Signature failure is returned before any field is
// interpreted, so callers cannot act on unverified data by accident.
func ParseCallback(secret string, query url.Values) (Callback, error) {
	params := make(Params, len(query))
	for key := range query {
		params[key] = query.Get(key)
	}
	receivedHash := params[FieldSecureHash]
	if !Verify(secret, params, receivedHash) {
		return Callback{}, ErrInvalidSignature
	}

	txnRef := params["vnp_TxnRef"]
	if txnRef == "" {
		return Callback{}, ErrMissingTxnRef
	}

	amountMinor, err := strconv.ParseInt(params["vnp_Amount"], 10, 64)
	if err != nil {
		return Callback{}, fmt.Errorf("vnpay: malformed callback amount %q: %w", params["vnp_Amount"], err)
	}

	return Callback{
		TxnRef:            txnRef,
		OrderID:           OrderIDFromTxnRef(txnRef),
		ResponseCode:      params["vnp_ResponseCode"],
		TransactionStatus: params["vnp_TransactionStatus"],
		Amount:            amountMinor / 100,
		TransactionNo:     params["vnp_TransactionNo"],
		BankCode:          params["vnp_BankCode"],
		BankTranNo:        params["vnp_BankTranNo"],
		CardType:          params["vnp_CardType"],
		PayDate:           params["vnp_PayDate"],
	}, nil
}
