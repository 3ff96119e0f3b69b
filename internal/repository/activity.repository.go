package repository

import (
	"context"
	"errors"
	"time"

	"github.com/nimasrn/digest-dispatcher/internal/model"
	"github.com/nimasrn/digest-dispatcher/pkg/pg"
	"gorm.io/gorm"
)

var ErrTenantNotFound = errors.New("tenant not found")

// ActivityRepository reads the operational tables the digest summarises.
// It never writes. Window bounds are half open: [from, to).
type ActivityRepository struct {
	*pg.DB
}

func NewActivityRepository(db *pg.DB) *ActivityRepository {
	return &ActivityRepository{
		db,
	}
}

func (r *ActivityRepository) GetTenant(ctx context.Context, tenantID int64) (*model.Tenant, error) {
	var entity TenantEntity
	err := r.Read(ctx).Where("id = ?", tenantID).First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTenantNotFound
		}
		return nil, err
	}
	return toTenantModel(&entity), nil
}

// CallAttempts returns the tenant's attempts in the window, newest first.
func (r *ActivityRepository) CallAttempts(ctx context.Context, tenantID int64, from, to time.Time) ([]*model.CallAttempt, error) {
	var entities []*CallAttemptEntity
	err := r.Read(ctx).
		Where("tenant_id = ?", tenantID).
		Where("attempted_at >= ? AND attempted_at < ?", from.UTC(), to.UTC()).
		Order("attempted_at DESC").
		Order("id DESC").
		Find(&entities).
		Error
	if err != nil {
		return nil, err
	}
	return toCallAttemptModels(entities), nil
}

// StatusChanges returns the tenant's appointment transitions in the window,
// newest first, each joined with its appointment.
func (r *ActivityRepository) StatusChanges(ctx context.Context, tenantID int64, from, to time.Time) ([]*model.AppointmentStatusChange, error) {
	var rows []*statusChangeRow
	err := r.Read(ctx).
		Table(AppointmentStatusChangeEntity{}.TableName()+" AS c").
		Select("c.id, c.tenant_id, c.appointment_id, a.patient_name, c.from_status, c.to_status, a.scheduled_at, c.changed_at").
		Joins("JOIN appointments a ON a.id = c.appointment_id").
		Where("c.tenant_id = ?", tenantID).
		Where("c.changed_at >= ? AND c.changed_at < ?", from.UTC(), to.UTC()).
		Order("c.changed_at DESC").
		Order("c.id DESC").
		Scan(&rows).
		Error
	if err != nil {
		return nil, err
	}

	changes := make([]*model.AppointmentStatusChange, len(rows))
	for i, row := range rows {
		changes[i] = toStatusChangeModel(row)
	}
	return changes, nil
}

// UpcomingAppointments returns at most limit appointments scheduled in
// [from, to), soonest first. Cancelled appointments are left out.
func (r *ActivityRepository) UpcomingAppointments(ctx context.Context, tenantID int64, from, to time.Time, limit int) ([]*model.Appointment, error) {
	var entities []*AppointmentEntity
	query := r.Read(ctx).
		Where("tenant_id = ?", tenantID).
		Where("status <> ?", string(model.AppointmentCancelled)).
		Where("scheduled_at >= ? AND scheduled_at < ?", from.UTC(), to.UTC()).
		Order("scheduled_at ASC").
		Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&entities).Error; err != nil {
		return nil, err
	}

	appointments := make([]*model.Appointment, len(entities))
	for i, e := range entities {
		appointments[i] = toAppointmentModel(e)
	}
	return appointments, nil
}
