package eventbus

// Event types published by surveybot components.
const (
	SessionStarted    = "survey.started"
	SessionCancelled  = "survey.cancelled"
	SessionCompleted  = "survey.completed"
	QuestionDelivered = "survey.question"
	AnswerRecorded    = "survey.answer"
	AnswerConfirmed   = "survey.confirmed"
	AnswerRejected    = "survey.reasked"
	StaleEventDropped = "survey.stale"
	FrequencyChanged  = "survey.frequency"

	SubmissionSent    = "backend.submitted"
	SubmissionFailed  = "backend.submit_failed"
	SubmissionPending = "backend.pending"

	OutboxQueued  = "outbox.queued"
	OutboxSent    = "outbox.sent"
	OutboxFailed  = "outbox.failed"
	OutboxDropped = "outbox.dropped"

	AddressIndexRefreshed = "address.refreshed"
	ConfigReloaded        = "config.reloaded"

	JobFinished = "job.finished"
	JobSkipped  = "job.skipped"
)
