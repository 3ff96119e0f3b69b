package model

import "time"

type AppointmentStatus string

const (
	AppointmentScheduled   AppointmentStatus = "scheduled"
	AppointmentConfirmed   AppointmentStatus = "confirmed"
	AppointmentCancelled   AppointmentStatus = "cancelled"
	AppointmentRescheduled AppointmentStatus = "rescheduled"
	AppointmentCompleted   AppointmentStatus = "completed"
	AppointmentNoShow      AppointmentStatus = "no_show"
)

type Appointment struct {
	ID          int64             `json:"id"`
	TenantID    int64             `json:"tenant_id"`
	PatientName string            `json:"patient_name"`
	PhoneNumber string            `json:"phone_number"`
	Status      AppointmentStatus `json:"status"`
	ScheduledAt time.Time         `json:"scheduled_at"`
}

// AppointmentStatusChange is one transition, joined with the appointment it
// belongs to.
type AppointmentStatusChange struct {
	ID            int64             `json:"id"`
	TenantID      int64             `json:"tenant_id"`
	AppointmentID int64             `json:"appointment_id"`
	PatientName   string            `json:"patient_name"`
	FromStatus    AppointmentStatus `json:"from_status"`
	ToStatus      AppointmentStatus `json:"to_status"`
	AppointmentAt time.Time         `json:"appointment_at"`
	ChangedAt     time.Time         `json:"changed_at"`
}
