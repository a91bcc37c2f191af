package events

// Topic constants for domain events emitted by the settlement core.
const (
	TopicOrderPaid      = "order.paid"
	TopicPaymentFailed  = "payment.failed"
	TopicPaymentExpired = "payment.expired"
)

// DefaultTopics returns the canonical list of topics that support notifications.
func DefaultTopics() []string {
	return []string{
		TopicOrderPaid,
		TopicPaymentFailed,
		TopicPaymentExpired,
	}
}
