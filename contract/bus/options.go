package bus

// DeliveryPolicy controls redelivery of negatively acknowledged messages for transports that
// do not enforce it natively (in-memory, Kafka). MaxDeliveries <= 0 means unlimited.
type DeliveryPolicy struct {
	MaxDeliveries   int
	DeadLetterTopic string
}

// DeadLetterTopicFor returns the configured dead-letter topic or "<topic>.dlq".
func (p DeliveryPolicy) DeadLetterTopicFor(topic string) string {
	if p.DeadLetterTopic != "" {
		return p.DeadLetterTopic
	}

	return topic + ".dlq"
}

// Exhausted reports whether a message delivered attempts times may not be redelivered.
func (p DeliveryPolicy) Exhausted(attempts int) bool {
	return p.MaxDeliveries > 0 && attempts >= p.MaxDeliveries
}
