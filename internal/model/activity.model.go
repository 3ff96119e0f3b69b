package model

import "time"

const (
	ActivityWindow     = 24 * time.Hour
	UpcomingWindow     = 24 * time.Hour
	ExampleListLimit   = 10
	UpcomingListLimit  = 10
	successRatePercent = 100.0
)

type CallCounts struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Pending   int `json:"pending"`
}

type TransitionCounts struct {
	Confirmed   int `json:"confirmed"`
	Cancelled   int `json:"cancelled"`
	Rescheduled int `json:"rescheduled"`
}

type FailureCounts struct {
	NoAnswer     int `json:"no_answer"`
	Voicemail    int `json:"voicemail"`
	OtherFailure int `json:"other_failure"`
}

type CallExample struct {
	PatientName string      `json:"patient_name"`
	PhoneNumber string      `json:"phone_number"`
	Outcome     CallOutcome `json:"outcome"`
	AttemptedAt time.Time   `json:"attempted_at"`
}

type AppointmentExample struct {
	PatientName   string            `json:"patient_name"`
	Status        AppointmentStatus `json:"status"`
	AppointmentAt time.Time         `json:"appointment_at"`
	ChangedAt     time.Time         `json:"changed_at"`
}

type UpcomingAppointment struct {
	PatientName string            `json:"patient_name"`
	Status      AppointmentStatus `json:"status"`
	ScheduledAt time.Time         `json:"scheduled_at"`
}

// ActivityStats is the aggregate for one tenant over [WindowStart, WindowEnd).
// Example lists are capped and newest first; counts are never capped.
type ActivityStats struct {
	TenantID    int64     `json:"tenant_id"`
	TenantName  string    `json:"tenant_name"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`

	Calls       CallCounts       `json:"calls"`
	Transitions TransitionCounts `json:"transitions"`
	Failures    FailureCounts    `json:"failures"`

	Confirmations []AppointmentExample `json:"confirmations"`
	Cancellations []AppointmentExample `json:"cancellations"`
	Reschedules   []AppointmentExample `json:"reschedules"`

	NoAnswers     []CallExample `json:"no_answers"`
	Voicemails    []CallExample `json:"voicemails"`
	OtherFailures []CallExample `json:"other_failures"`

	Upcoming []UpcomingAppointment `json:"upcoming"`
}

// NewActivityStats returns an empty aggregate with non-nil lists.
func NewActivityStats(tenantID int64, windowStart, windowEnd time.Time) *ActivityStats {
	return &ActivityStats{
		TenantID:      tenantID,
		WindowStart:   windowStart,
		WindowEnd:     windowEnd,
		Confirmations: []AppointmentExample{},
		Cancellations: []AppointmentExample{},
		Reschedules:   []AppointmentExample{},
		NoAnswers:     []CallExample{},
		Voicemails:    []CallExample{},
		OtherFailures: []CallExample{},
		Upcoming:      []UpcomingAppointment{},
	}
}

// SuccessRate is succeeded/total as a percentage, 0 when there were no calls.
func SuccessRate(succeeded, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(succeeded) / float64(total) * successRatePercent
}
