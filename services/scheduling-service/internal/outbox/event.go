package outbox

// Event is the domain event envelope written to the outbox table.
// The Kafka topic name equals EventType (one event type per topic).
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// Topics published by the scheduling service.
const (
	TopicAppointmentRequested = "scheduling.appointment.requested.v1"
	TopicAppointmentBooked    = "scheduling.appointment.booked.v1"
	TopicAppointmentCancelled = "scheduling.appointment.cancelled.v1"
	TopicAutoBookFailed       = "scheduling.autobook.failed.v1"
)
