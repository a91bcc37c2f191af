package vnpay

import "fmt"

// OutcomeClass is the coarse classification of a gateway response code.
type OutcomeClass string

const (
	OutcomeSuccess            OutcomeClass = "success"
	OutcomeUserCancelled      OutcomeClass = "user-cancelled"
	OutcomeInsufficientFunds  OutcomeClass = "insufficient-funds"
	OutcomeFraudSuspected     OutcomeClass = "fraud-suspected"
	OutcomeGatewayUnavailable OutcomeClass = "gateway-unavailable"
	OutcomeUnknown            OutcomeClass = "unknown"
)

// Codes signalling success on both gateway channels.
const (
	ResponseCodeSuccess      = "00"
	TransactionStatusSuccess = "00"
)

type codeEntry struct {
	message string
	class   OutcomeClass
}

// Response codes per the gateway's published table (vnp_ResponseCode).
var responseCodes = map[string]codeEntry{
	"00": {"Transaction successful", OutcomeSuccess},
	"07": {"Amount deducted but the transaction is suspected of fraud", OutcomeFraudSuspected},
	"09": {"Card or account not registered for internet banking", OutcomeUnknown},
	"10": {"Card or account details verified incorrectly more than 3 times", OutcomeUnknown},
	"11": {"Payment window expired before the transaction completed", OutcomeGatewayUnavailable},
	"12": {"Card or account is locked", OutcomeUnknown},
	"13": {"Incorrect transaction OTP entered", OutcomeUnknown},
	"24": {"Customer cancelled the transaction", OutcomeUserCancelled},
	"51": {"Insufficient account balance", OutcomeInsufficientFunds},
	"65": {"Daily transaction limit exceeded", OutcomeInsufficientFunds},
	"75": {"Issuing bank is under maintenance", OutcomeGatewayUnavailable},
	"79": {"Payment password entered incorrectly too many times", OutcomeUnknown},
	"99": {"Other unspecified error", OutcomeUnknown},
}

// Settlement status codes (vnp_TransactionStatus).
var transactionStatuses = map[string]string{
	"00": "Transaction settled successfully at the gateway",
	"01": "Transaction incomplete",
	"02": "Transaction errored",
	"04": "Transaction reversed (customer charged but settlement failed)",
	"05": "Gateway is processing a refund for this transaction",
	"06": "Refund request has been forwarded to the issuing bank",
	"07": "Transaction suspected of fraud",
	"09": "Refund request rejected",
}

// ResponseMessage returns the human-readable message for a response code. The
// catalog is total: unknown codes map to a generic entry instead of failing.
func ResponseMessage(code string) string {
	if entry, ok := responseCodes[code]; ok {
		return entry.message
	}
	return fmt.Sprintf("Unrecognised response code %q", code)
}

// ResponseClass classifies a response code into a coarse outcome class.
func ResponseClass(code string) OutcomeClass {
	if entry, ok := responseCodes[code]; ok {
		return entry.class
	}
	return OutcomeUnknown
}

// TransactionStatusMessage returns the message for a settlement status code.
func TransactionStatusMessage(status string) string {
	if msg, ok := transactionStatuses[status]; ok {
		return msg
	}
	return fmt.Sprintf("Unrecognised transaction status %q", status)
}
