package aggregator

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/nimasrn/digest-dispatcher/internal/model"
	"github.com/nimasrn/digest-dispatcher/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockActivitySource struct {
	mock.Mock
}

func (m *MockActivitySource) GetTenant(ctx context.Context, tenantID int64) (*model.Tenant, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Tenant), args.Error(1)
}

func (m *MockActivitySource) CallAttempts(ctx context.Context, tenantID int64, from, to time.Time) ([]*model.CallAttempt, error) {
	args := m.Called(ctx, tenantID, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.CallAttempt), args.Error(1)
}

func (m *MockActivitySource) StatusChanges(ctx context.Context, tenantID int64, from, to time.Time) ([]*model.AppointmentStatusChange, error) {
	args := m.Called(ctx, tenantID, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.AppointmentStatusChange), args.Error(1)
}

func (m *MockActivitySource) UpcomingAppointments(ctx context.Context, tenantID int64, from, to time.Time, limit int) ([]*model.Appointment, error) {
	args := m.Called(ctx, tenantID, from, to, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Appointment), args.Error(1)
}

var now = time.Date(2024, 3, 4, 14, 0, 0, 0, time.UTC)

func TestAggregate_Counts(t *testing.T) {
	src := new(MockActivitySource)
	ctx := context.Background()
	start, end := now.Add(-24*time.Hour), now

	src.On("GetTenant", ctx, int64(7)).Return(&model.Tenant{ID: 7, Name: "Acme Dental", Active: true}, nil)
	src.On("CallAttempts", ctx, int64(7), start, end).Return([]*model.CallAttempt{
		{PatientName: "a", Status: model.CallStatusCompleted, Outcome: model.CallOutcomeAnswered},
		{PatientName: "b", Status: model.CallStatusCompleted, Outcome: model.CallOutcomeNoAnswer},
		{PatientName: "c", Status: model.CallStatusFailed, Outcome: model.CallOutcomeVoicemail},
		{PatientName: "d", Status: model.CallStatusFailed, Outcome: model.CallOutcomeBusy},
		{PatientName: "e", Status: model.CallStatusFailed, Outcome: model.CallOutcomeNone},
		{PatientName: "f", Status: model.CallStatusQueued},
		{PatientName: "g", Status: model.CallStatusInProgress},
		{PatientName: "h", Status: model.CallStatusCompleted, Outcome: "carrier_weirdness"},
	}, nil)
	src.On("StatusChanges", ctx, int64(7), start, end).Return([]*model.AppointmentStatusChange{
		{PatientName: "x", ToStatus: model.AppointmentConfirmed},
		{PatientName: "y", ToStatus: model.AppointmentCancelled},
		{PatientName: "z", ToStatus: model.AppointmentRescheduled},
		{PatientName: "w", ToStatus: model.AppointmentCompleted},
	}, nil)
	src.On("UpcomingAppointments", ctx, int64(7), end, end.Add(24*time.Hour), 10).Return([]*model.Appointment{
		{PatientName: "soon", Status: model.AppointmentScheduled, ScheduledAt: now.Add(time.Hour)},
		{PatientName: "gone", Status: model.AppointmentCancelled, ScheduledAt: now.Add(2 * time.Hour)},
	}, nil)

	stats, err := New(src).Aggregate(ctx, 7, now)
	require.NoError(t, err)

	assert.Equal(t, "Acme Dental", stats.TenantName)
	assert.Equal(t, model.CallCounts{Total: 8, Succeeded: 1, Failed: 5, Pending: 2}, stats.Calls)
	assert.Equal(t, model.FailureCounts{NoAnswer: 1, Voicemail: 1, OtherFailure: 3}, stats.Failures)
	assert.Equal(t, model.TransitionCounts{Confirmed: 1, Cancelled: 1, Rescheduled: 1}, stats.Transitions)

	require.Len(t, stats.NoAnswers, 1)
	assert.Equal(t, "b", stats.NoAnswers[0].PatientName)
	require.Len(t, stats.Voicemails, 1)
	assert.Equal(t, "c", stats.Voicemails[0].PatientName)
	require.Len(t, stats.OtherFailures, 3)
	assert.Equal(t, "d", stats.OtherFailures[0].PatientName)

	require.Len(t, stats.Upcoming, 1)
	assert.Equal(t, "soon", stats.Upcoming[0].PatientName)
	assert.Equal(t, start, stats.WindowStart)
	assert.Equal(t, end, stats.WindowEnd)

	src.AssertExpectations(t)
}

func TestAggregate_ListsAreCapped(t *testing.T) {
	src := new(MockActivitySource)
	ctx := context.Background()

	var calls []*model.CallAttempt
	var changes []*model.AppointmentStatusChange
	for i := 0; i < 25; i++ {
		calls = append(calls, &model.CallAttempt{
			PatientName: fmt.Sprintf("p%02d", i),
			Status:      model.CallStatusCompleted,
			Outcome:     model.CallOutcomeNoAnswer,
			AttemptedAt: now.Add(-time.Duration(i) * time.Minute),
		})
		changes = append(changes, &model.AppointmentStatusChange{
			PatientName: fmt.Sprintf("p%02d", i),
			ToStatus:    model.AppointmentConfirmed,
		})
	}

	src.On("GetTenant", ctx, int64(1)).Return(&model.Tenant{ID: 1, Name: "Busy"}, nil)
	src.On("CallAttempts", ctx, int64(1), mock.Anything, mock.Anything).Return(calls, nil)
	src.On("StatusChanges", ctx, int64(1), mock.Anything, mock.Anything).Return(changes, nil)
	src.On("UpcomingAppointments", ctx, int64(1), mock.Anything, mock.Anything, 10).Return([]*model.Appointment{}, nil)

	stats, err := New(src).Aggregate(ctx, 1, now)
	require.NoError(t, err)

	assert.Equal(t, 25, stats.Failures.NoAnswer)
	assert.Equal(t, 25, stats.Transitions.Confirmed)
	require.Len(t, stats.NoAnswers, model.ExampleListLimit)
	require.Len(t, stats.Confirmations, model.ExampleListLimit)
	// newest first is preserved
	assert.Equal(t, "p00", stats.NoAnswers[0].PatientName)
	assert.Equal(t, "p09", stats.NoAnswers[9].PatientName)
}

func TestAggregate_QueryErrors(t *testing.T) {
	boom := errors.New("connection reset")
	ctx := context.Background()

	t.Run("tenant", func(t *testing.T) {
		src := new(MockActivitySource)
		src.On("GetTenant", ctx, int64(1)).Return(nil, boom)

		stats, err := New(src).Aggregate(ctx, 1, now)
		assert.ErrorIs(t, err, boom)
		assert.Nil(t, stats)
	})

	t.Run("calls", func(t *testing.T) {
		src := new(MockActivitySource)
		src.On("GetTenant", ctx, int64(1)).Return(&model.Tenant{ID: 1}, nil)
		src.On("CallAttempts", ctx, int64(1), mock.Anything, mock.Anything).Return(nil, boom)

		_, err := New(src).Aggregate(ctx, 1, now)
		assert.ErrorIs(t, err, boom)
		src.AssertNotCalled(t, "StatusChanges", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("upcoming", func(t *testing.T) {
		src := new(MockActivitySource)
		src.On("GetTenant", ctx, int64(1)).Return(&model.Tenant{ID: 1}, nil)
		src.On("CallAttempts", ctx, int64(1), mock.Anything, mock.Anything).Return([]*model.CallAttempt{}, nil)
		src.On("StatusChanges", ctx, int64(1), mock.Anything, mock.Anything).Return([]*model.AppointmentStatusChange{}, nil)
		src.On("UpcomingAppointments", ctx, int64(1), mock.Anything, mock.Anything, 10).Return(nil, boom)

		_, err := New(src).Aggregate(ctx, 1, now)
		assert.ErrorIs(t, err, boom)
	})
}

func TestAggregate_IdleTenantFromDatabase(t *testing.T) {
	db := repository.NewTestDB(t)
	db.Insert(t, &repository.TenantEntity{ID: 3, Name: "Quiet Clinic", Active: true})

	stats, err := New(repository.NewActivityRepository(db.DB)).Aggregate(context.Background(), 3, now)
	require.NoError(t, err)

	assert.Equal(t, "Quiet Clinic", stats.TenantName)
	assert.Zero(t, stats.Calls.Total)
	assert.Zero(t, model.SuccessRate(stats.Calls.Succeeded, stats.Calls.Total))
	assert.NotNil(t, stats.Confirmations)
	assert.NotNil(t, stats.NoAnswers)
	assert.Empty(t, stats.Upcoming)
}

func TestAggregate_FromDatabase(t *testing.T) {
	db := repository.NewTestDB(t)
	db.Insert(t,
		&repository.TenantEntity{ID: 1, Name: "Acme Dental", Active: true},
		&repository.AppointmentEntity{ID: 1, TenantID: 1, PatientName: "Ada", Status: "confirmed", ScheduledAt: now.Add(3 * time.Hour)},
		&repository.AppointmentStatusChangeEntity{TenantID: 1, AppointmentID: 1, FromStatus: "scheduled", ToStatus: "confirmed", ChangedAt: now.Add(-time.Hour)},
		&repository.CallAttemptEntity{TenantID: 1, PatientName: "Ada", Status: "completed", Outcome: "answered", AttemptedAt: now.Add(-2 * time.Hour)},
		&repository.CallAttemptEntity{TenantID: 1, PatientName: "Bob", Status: "completed", Outcome: "voicemail", AttemptedAt: now.Add(-90 * time.Minute)},
		&repository.CallAttemptEntity{TenantID: 1, PatientName: "Old", Status: "completed", Outcome: "voicemail", AttemptedAt: now.Add(-48 * time.Hour)},
	)

	stats, err := New(repository.NewActivityRepository(db.DB)).Aggregate(context.Background(), 1, now)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Calls.Total)
	assert.Equal(t, 1, stats.Calls.Succeeded)
	assert.Equal(t, 1, stats.Failures.Voicemail)
	assert.Equal(t, 1, stats.Transitions.Confirmed)
	require.Len(t, stats.Confirmations, 1)
	assert.Equal(t, "Ada", stats.Confirmations[0].PatientName)
	require.Len(t, stats.Upcoming, 1)
	assert.InDelta(t, 50.0, model.SuccessRate(stats.Calls.Succeeded, stats.Calls.Total), 0.001)
}
