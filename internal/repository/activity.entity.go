package repository

import (
	"time"

	"github.com/nimasrn/digest-dispatcher/internal/model"
)

type CallAttemptEntity struct {
	ID              int64     `db:"id"               gorm:"primaryKey;autoIncrement;column:id"`
	TenantID        int64     `db:"tenant_id"        gorm:"column:tenant_id;not null;index:idx_call_attempts_tenant_time,priority:1"`
	AppointmentID   *int64    `db:"appointment_id"   gorm:"column:appointment_id"`
	PatientName     string    `db:"patient_name"     gorm:"column:patient_name"`
	PhoneNumber     string    `db:"phone_number"     gorm:"column:phone_number"`
	Status          string    `db:"status"           gorm:"column:status;type:varchar(20);not null"`
	Outcome         string    `db:"outcome"          gorm:"column:outcome;type:varchar(20)"`
	DurationSeconds int       `db:"duration_seconds" gorm:"column:duration_seconds"`
	AttemptedAt     time.Time `db:"attempted_at"     gorm:"column:attempted_at;not null;index:idx_call_attempts_tenant_time,priority:2"`
}

func (CallAttemptEntity) TableName() string {
	return "call_attempts"
}

type AppointmentEntity struct {
	ID          int64     `db:"id"           gorm:"primaryKey;autoIncrement;column:id"`
	TenantID    int64     `db:"tenant_id"    gorm:"column:tenant_id;not null;index"`
	PatientName string    `db:"patient_name" gorm:"column:patient_name"`
	PhoneNumber string    `db:"phone_number" gorm:"column:phone_number"`
	Status      string    `db:"status"       gorm:"column:status;type:varchar(20);not null"`
	ScheduledAt time.Time `db:"scheduled_at" gorm:"column:scheduled_at;not null;index"`
}

func (AppointmentEntity) TableName() string {
	return "appointments"
}

type AppointmentStatusChangeEntity struct {
	ID            int64     `db:"id"             gorm:"primaryKey;autoIncrement;column:id"`
	TenantID      int64     `db:"tenant_id"      gorm:"column:tenant_id;not null;index:idx_status_changes_tenant_time,priority:1"`
	AppointmentID int64     `db:"appointment_id" gorm:"column:appointment_id;not null"`
	FromStatus    string    `db:"from_status"    gorm:"column:from_status;type:varchar(20)"`
	ToStatus      string    `db:"to_status"      gorm:"column:to_status;type:varchar(20);not null"`
	ChangedAt     time.Time `db:"changed_at"     gorm:"column:changed_at;not null;index:idx_status_changes_tenant_time,priority:2"`
}

func (AppointmentStatusChangeEntity) TableName() string {
	return "appointment_status_changes"
}

// statusChangeRow is a status change joined with its appointment.
type statusChangeRow struct {
	ID            int64
	TenantID      int64
	AppointmentID int64
	PatientName   string
	FromStatus    string
	ToStatus      string
	ScheduledAt   time.Time
	ChangedAt     time.Time
}

func toCallAttemptModel(e *CallAttemptEntity) *model.CallAttempt {
	if e == nil {
		return nil
	}
	return &model.CallAttempt{
		ID:              e.ID,
		TenantID:        e.TenantID,
		AppointmentID:   e.AppointmentID,
		PatientName:     e.PatientName,
		PhoneNumber:     e.PhoneNumber,
		Status:          model.CallStatus(e.Status),
		Outcome:         model.CallOutcome(e.Outcome),
		DurationSeconds: e.DurationSeconds,
		AttemptedAt:     e.AttemptedAt,
	}
}

func toCallAttemptModels(entities []*CallAttemptEntity) []*model.CallAttempt {
	calls := make([]*model.CallAttempt, len(entities))
	for i, e := range entities {
		calls[i] = toCallAttemptModel(e)
	}
	return calls
}

func toAppointmentModel(e *AppointmentEntity) *model.Appointment {
	if e == nil {
		return nil
	}
	return &model.Appointment{
		ID:          e.ID,
		TenantID:    e.TenantID,
		PatientName: e.PatientName,
		PhoneNumber: e.PhoneNumber,
		Status:      model.AppointmentStatus(e.Status),
		ScheduledAt: e.ScheduledAt,
	}
}

func toStatusChangeModel(r *statusChangeRow) *model.AppointmentStatusChange {
	return &model.AppointmentStatusChange{
		ID:            r.ID,
		TenantID:      r.TenantID,
		AppointmentID: r.AppointmentID,
		PatientName:   r.PatientName,
		FromStatus:    model.AppointmentStatus(r.FromStatus),
		ToStatus:      model.AppointmentStatus(r.ToStatus),
		AppointmentAt: r.ScheduledAt,
		ChangedAt:     r.ChangedAt,
	}
}
