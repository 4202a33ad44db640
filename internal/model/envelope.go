package model

// Subject names a logical channel on the message bus.
type Subject string

const (
	SubjectHostMetric      Subject = "host_metric"
	SubjectContainerMetric Subject = "container_metric"
	SubjectDatabaseMetric  Subject = "db_metric"
	SubjectCommand         Subject = "app_cmd"
)

// MetricSubjects lists every subject the agent publishes on.
func MetricSubjects() []Subject {
	return []Subject{SubjectHostMetric, SubjectContainerMetric, SubjectDatabaseMetric}
}

// Header names attached to every outbound message.
const (
	HeaderCommunicationKey = "communication_key"
	HeaderHostIdentifier   = "host_identifier"
)
