package messaging

// Subject constants for the ingestion message bus.
// Follow the pattern: {domain}.{resource}.{action}
const (
	// SubjectIngestionJobsProcess carries (job_id, tenant_id) work items
	// for asynchronous ingestion processing.
	SubjectIngestionJobsProcess = "ingestion.jobs.process"
)

// Stream and durable consumer names.
const (
	StreamIngestionJobs      = "INGESTION_JOBS"
	ConsumerIngestionWorkers = "ingestion-workers" // Pool of ingestion workers
)
