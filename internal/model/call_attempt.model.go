package model

import "time"

type CallStatus string

const (
	CallStatusQueued     CallStatus = "queued"
	CallStatusInProgress CallStatus = "in_progress"
	CallStatusCompleted  CallStatus = "completed"
	CallStatusFailed     CallStatus = "failed"
)

// CallOutcome is recorded by the telephony worker when a call result is
// first written. Unknown values are treated as "other".
type CallOutcome string

const (
	CallOutcomeNone          CallOutcome = ""
	CallOutcomeAnswered      CallOutcome = "answered"
	CallOutcomeNoAnswer      CallOutcome = "no_answer"
	CallOutcomeVoicemail     CallOutcome = "voicemail"
	CallOutcomeBusy          CallOutcome = "busy"
	CallOutcomeRejected      CallOutcome = "rejected"
	CallOutcomeInvalidNumber CallOutcome = "invalid_number"
	CallOutcomeError         CallOutcome = "error"
)

type CallResult int

const (
	CallPending CallResult = iota
	CallSucceeded
	CallFailed
)

// FailureBucket groups unsuccessful calls for the digest.
type FailureBucket int

const (
	BucketNone FailureBucket = iota
	BucketNoAnswer
	BucketVoicemail
	BucketOtherFailure
)

func (b FailureBucket) String() string {
	switch b {
	case BucketNoAnswer:
		return "no_answer"
	case BucketVoicemail:
		return "voicemail"
	case BucketOtherFailure:
		return "other_failure"
	default:
		return "none"
	}
}

type CallAttempt struct {
	ID              int64       `json:"id"`
	TenantID        int64       `json:"tenant_id"`
	AppointmentID   *int64      `json:"appointment_id"`
	PatientName     string      `json:"patient_name"`
	PhoneNumber     string      `json:"phone_number"`
	Status          CallStatus  `json:"status"`
	Outcome         CallOutcome `json:"outcome"`
	DurationSeconds int         `json:"duration_seconds"`
	AttemptedAt     time.Time   `json:"attempted_at"`
}

// Result classifies the attempt. A completed call only counts as a success
// when someone answered; completed-without-answer is a failure.
func (c *CallAttempt) Result() CallResult {
	switch c.Status {
	case CallStatusQueued, CallStatusInProgress:
		return CallPending
	case CallStatusCompleted:
		if c.Outcome == CallOutcomeAnswered {
			return CallSucceeded
		}
		return CallFailed
	default:
		return CallFailed
	}
}

// Bucket is BucketNone for anything that is not a failure.
func (c *CallAttempt) Bucket() FailureBucket {
	if c.Result() != CallFailed {
		return BucketNone
	}
	return BucketForOutcome(c.Outcome)
}

// BucketForOutcome maps every outcome code, known or not, to a failure bucket.
func BucketForOutcome(o CallOutcome) FailureBucket {
	switch o {
	case CallOutcomeNoAnswer:
		return BucketNoAnswer
	case CallOutcomeVoicemail:
		return BucketVoicemail
	default:
		return BucketOtherFailure
	}
}
