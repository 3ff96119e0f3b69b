package aggregator

import (
	"context"
	"fmt"
	"time"

	"github.com/nimasrn/digest-dispatcher/internal/model"
)

type ActivitySource interface {
	GetTenant(ctx context.Context, tenantID int64) (*model.Tenant, error)
	CallAttempts(ctx context.Context, tenantID int64, from, to time.Time) ([]*model.CallAttempt, error)
	StatusChanges(ctx context.Context, tenantID int64, from, to time.Time) ([]*model.AppointmentStatusChange, error)
	UpcomingAppointments(ctx context.Context, tenantID int64, from, to time.Time, limit int) ([]*model.Appointment, error)
}

type Aggregator struct {
	source        ActivitySource
	window        time.Duration
	upcoming      time.Duration
	exampleLimit  int
	upcomingLimit int
}

func New(source ActivitySource) *Aggregator {
	return &Aggregator{
		source:        source,
		window:        model.ActivityWindow,
		upcoming:      model.UpcomingWindow,
		exampleLimit:  model.ExampleListLimit,
		upcomingLimit: model.UpcomingListLimit,
	}
}

// Aggregate summarises the tenant's activity over the trailing window ending
// at now, plus the appointments of the next window. Any query error is
// returned as is; an idle tenant yields zero counts and empty lists.
func (a *Aggregator) Aggregate(ctx context.Context, tenantID int64, now time.Time) (*model.ActivityStats, error) {
	end := now.UTC()
	start := end.Add(-a.window)
	stats := model.NewActivityStats(tenantID, start, end)

	tenant, err := a.source.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("load tenant %d: %w", tenantID, err)
	}
	stats.TenantName = tenant.Name

	calls, err := a.source.CallAttempts(ctx, tenantID, start, end)
	if err != nil {
		return nil, fmt.Errorf("load call attempts: %w", err)
	}
	a.addCalls(stats, calls)

	changes, err := a.source.StatusChanges(ctx, tenantID, start, end)
	if err != nil {
		return nil, fmt.Errorf("load status changes: %w", err)
	}
	a.addTransitions(stats, changes)

	upcoming, err := a.source.UpcomingAppointments(ctx, tenantID, end, end.Add(a.upcoming), a.upcomingLimit)
	if err != nil {
		return nil, fmt.Errorf("load upcoming appointments: %w", err)
	}
	for _, ap := range upcoming {
		if ap.Status == model.AppointmentCancelled || len(stats.Upcoming) >= a.upcomingLimit {
			continue
		}
		stats.Upcoming = append(stats.Upcoming, model.UpcomingAppointment{
			PatientName: ap.PatientName,
			Status:      ap.Status,
			ScheduledAt: ap.ScheduledAt,
		})
	}

	return stats, nil
}

// addCalls expects calls newest first.
func (a *Aggregator) addCalls(stats *model.ActivityStats, calls []*model.CallAttempt) {
	for _, c := range calls {
		stats.Calls.Total++
		switch c.Result() {
		case model.CallSucceeded:
			stats.Calls.Succeeded++
			continue
		case model.CallPending:
			stats.Calls.Pending++
			continue
		}

		stats.Calls.Failed++
		example := model.CallExample{
			PatientName: c.PatientName,
			PhoneNumber: c.PhoneNumber,
			Outcome:     c.Outcome,
			AttemptedAt: c.AttemptedAt,
		}
		switch c.Bucket() {
		case model.BucketNoAnswer:
			stats.Failures.NoAnswer++
			stats.NoAnswers = a.appendCall(stats.NoAnswers, example)
		case model.BucketVoicemail:
			stats.Failures.Voicemail++
			stats.Voicemails = a.appendCall(stats.Voicemails, example)
		default:
			stats.Failures.OtherFailure++
			stats.OtherFailures = a.appendCall(stats.OtherFailures, example)
		}
	}
}

// addTransitions expects changes newest first.
func (a *Aggregator) addTransitions(stats *model.ActivityStats, changes []*model.AppointmentStatusChange) {
	for _, ch := range changes {
		example := model.AppointmentExample{
			PatientName:   ch.PatientName,
			Status:        ch.ToStatus,
			AppointmentAt: ch.AppointmentAt,
			ChangedAt:     ch.ChangedAt,
		}
		switch ch.ToStatus {
		case model.AppointmentConfirmed:
			stats.Transitions.Confirmed++
			stats.Confirmations = a.appendAppointment(stats.Confirmations, example)
		case model.AppointmentCancelled:
			stats.Transitions.Cancelled++
			stats.Cancellations = a.appendAppointment(stats.Cancellations, example)
		case model.AppointmentRescheduled:
			stats.Transitions.Rescheduled++
			stats.Reschedules = a.appendAppointment(stats.Reschedules, example)
		}
	}
}

func (a *Aggregator) appendCall(list []model.CallExample, e model.CallExample) []model.CallExample {
	if len(list) >= a.exampleLimit {
		return list
	}
	return append(list, e)
}

func (a *Aggregator) appendAppointment(list []model.AppointmentExample, e model.AppointmentExample) []model.AppointmentExample {
	if len(list) >= a.exampleLimit {
		return list
	}
	return append(list, e)
}
