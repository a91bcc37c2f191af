package vnpay_test

import (
	"testing"

	"github.com/noah-isme/pay-core/internal/vnpay"
)

func TestResponseClassKnownCodes(t *testing.T) {
	cases := map[string]vnpay.OutcomeClass{
		"00": vnpay.OutcomeSuccess,
		"07": vnpay.OutcomeFraudSuspected,
		"24": vnpay.OutcomeUserCancelled,
		"51": vnpay.OutcomeInsufficientFunds,
		"65": vnpay.OutcomeInsufficientFunds,
		"75": vnpay.OutcomeGatewayUnavailable,
		"99": vnpay.OutcomeUnknown,
	}
	for code, want := range cases {
		if got := vnpay.ResponseClass(code); got != want {
			t.Fatalf("code %s: got class %s want %s", code, got, want)
		}
	}
}

func TestCatalogIsTotal(t *testing.T) {
	for _, code := range []string{"", "XX", "1234", "not-a-code", "\x00"} {
		if msg := vnpay.ResponseMessage(code); msg == "" {
			t.Fatalf("response message for %q must not be empty", code)
		}
		if class := vnpay.ResponseClass(code); class != vnpay.OutcomeUnknown {
			t.Fatalf("unknown code %q must map to the unknown class, got %s", code, class)
		}
		if msg := vnpay.TransactionStatusMessage(code); msg == "" {
			t.Fatalf("status message for %q must not be empty", code)
		}
	}
}

func TestResponseMessageKnownCode(t *testing.T) {
	if got := vnpay.ResponseMessage("24"); got != "Customer cancelled the transaction" {
		t.Fatalf("unexpected message for 24: %q", got)
	}
	if got := vnpay.TransactionStatusMessage("00"); got != "Transaction settled successfully at the gateway" {
		t.Fatalf("unexpected status message for 00: %q", got)
	}
}
