package vnpay_test

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/pay-core/internal/vnpay"
)

func signedCallbackQuery(t *testing.T, mutate func(vnpay.Params)) url.Values {
	t.Helper()
	p := vnpay.Params{}
	p.Set("vnp_TmnCode", "DEMOV210")
	p.Set("vnp_TxnRef", "64f1a2b3c4d5e6f7a8b9c0d1_1700000000000")
	p.Set("vnp_Amount", "16000000")
	p.Set("vnp_ResponseCode", "00")
	p.Set("vnp_TransactionStatus", "00")
	p.Set("vnp_TransactionNo", "14422574")
	p.Set("vnp_BankCode", "NCB")
	p.Set("vnp_BankTranNo", "VNP14422574")
	p.Set("vnp_CardType", "ATM")
	p.Set("vnp_PayDate", "20241114093211")
	if mutate != nil {
		mutate(p)
	}
	if _, ok := p[vnpay.FieldSecureHash]; !ok {
		p.Set(vnpay.FieldSecureHash, vnpay.Sign(testSecret, p.SignData()))
	}
	values := url.Values{}
	for key, value := range p {
		values.Set(key, value)
	}
	return values
}

func TestParseCallbackExtractsFields(t *testing.T) {
	cb, err := vnpay.ParseCallback(testSecret, signedCallbackQuery(t, nil))
	require.NoError(t, err)
	require.Equal(t, "64f1a2b3c4d5e6f7a8b9c0d1_1700000000000", cb.TxnRef)
	require.Equal(t, "64f1a2b3c4d5e6f7a8b9c0d1", cb.OrderID)
	require.Equal(t, int64(160000), cb.Amount)
	require.Equal(t, "00", cb.ResponseCode)
	require.Equal(t, "00", cb.TransactionStatus)
	require.Equal(t, "14422574", cb.TransactionNo)
	require.Equal(t, "NCB", cb.BankCode)
	require.Equal(t, "VNP14422574", cb.BankTranNo)
	require.Equal(t, "ATM", cb.CardType)
	require.Equal(t, "20241114093211", cb.PayDate)
	require.True(t, cb.Succeeded())
}

func TestParseCallbackRejectsForgedSignature(t *testing.T) {
	query := signedCallbackQuery(t, nil)
	query.Set(vnpay.FieldSecureHash, flipLastChar(query.Get(vnpay.FieldSecureHash)))
	_, err := vnpay.ParseCallback(testSecret, query)
	require.ErrorIs(t, err, vnpay.ErrInvalidSignature)
}

func TestParseCallbackRejectsMutatedAmount(t *testing.T) {
	query := signedCallbackQuery(t, nil)
	query.Set("vnp_Amount", "16000001")
	_, err := vnpay.ParseCallback(testSecret, query)
	require.ErrorIs(t, err, vnpay.ErrInvalidSignature)
}

func TestParseCallbackRequiresTxnRef(t *testing.T) {
	query := signedCallbackQuery(t, func(p vnpay.Params) {
		delete(p, "vnp_TxnRef")
	})
	_, err := vnpay.ParseCallback(testSecret, query)
	require.ErrorIs(t, err, vnpay.ErrMissingTxnRef)
}

func TestParseCallbackFailedOutcome(t *testing.T) {
	query := signedCallbackQuery(t, func(p vnpay.Params) {
		p.Set("vnp_ResponseCode", "24")
		p.Set("vnp_TransactionStatus", "02")
	})
	cb, err := vnpay.ParseCallback(testSecret, query)
	require.NoError(t, err)
	require.False(t, cb.Succeeded())
	require.Equal(t, "24", cb.ResponseCode)
}
