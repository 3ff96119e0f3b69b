package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/nimasrn/digest-dispatcher/internal/repository"
	"github.com/nimasrn/digest-dispatcher/pkg/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func SetupTestDB(t *testing.T) *repository.TestDB {
	return repository.NewTestDB(t)
}

func SetupTestRedis(t *testing.T) (*miniredis.Miniredis, redis.RedisAdapter) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	// adapters are cached by name, so every test gets its own
	adapter, err := redis.NewRedisAdapter(t.Name()+"-"+mr.Addr(), "", &goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)

	return mr, adapter
}

func CreateTestTenant(t *testing.T, db *repository.TestDB, id int64, name string) *repository.TenantEntity {
	tenant := &repository.TenantEntity{ID: id, Name: name, Active: true}
	require.NoError(t, db.Write(context.Background()).Create(tenant).Error)
	return tenant
}

func CreateTestRecipient(t *testing.T, db *repository.TestDB, r *repository.RecipientEntity) *repository.RecipientEntity {
	if r.DeliveryTime == "" {
		r.DeliveryTime = "09:00"
	}
	if r.Weekdays == "" {
		r.Weekdays = "1,2,3,4,5"
	}
	if r.Timezone == "" {
		r.Timezone = "America/New_York"
	}
	r.Enabled = true
	require.NoError(t, db.Write(context.Background()).Create(r).Error)
	return r
}

func CreateTestCallAttempt(t *testing.T, db *repository.TestDB, tenantID int64, patient, status, outcome string, at time.Time) *repository.CallAttemptEntity {
	call := &repository.CallAttemptEntity{
		TenantID:    tenantID,
		PatientName: patient,
		PhoneNumber: "+15550100",
		Status:      status,
		Outcome:     outcome,
		AttemptedAt: at.UTC(),
	}
	require.NoError(t, db.Write(context.Background()).Create(call).Error)
	return call
}

func LedgerDate(t *testing.T, db *repository.TestDB, recipientID int64) *string {
	var r repository.RecipientEntity
	require.NoError(t, db.Read(context.Background()).Where("id = ?", recipientID).First(&r).Error)
	return r.LastDispatchedLocalDate
}

func WaitForCondition(t *testing.T, timeout time.Duration, condition func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func AssertEventually(t *testing.T, timeout time.Duration, condition func() bool, msg string) {
	if !WaitForCondition(t, timeout, condition) {
		t.Fatal(msg)
	}
}

func Ptr[T any](v T) *T {
	return &v
}
