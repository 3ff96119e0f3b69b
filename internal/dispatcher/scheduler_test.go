package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/nimasrn/digest-dispatcher/internal/repository"
	"github.com/nimasrn/digest-dispatcher/internal/schedule"
	"github.com/nimasrn/digest-dispatcher/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_ReferenceScenarios(t *testing.T) {
	h := newHarness(t, nil, nil, 2)
	seedScenario(t, h.db)

	// 08:00 local, too early
	pass := h.runAt(t, mondayUTC(12, 0))
	assert.Equal(t, 0, pass.Due)
	assert.Equal(t, 1, pass.Reasons[schedule.ReasonTooEarly])
	assert.Empty(t, h.client.Sent())
	assert.Nil(t, testutil.LedgerDate(t, h.db, 1))

	// 09:00 local, dispatch and record Monday
	pass = h.runAt(t, mondayUTC(13, 0))
	assert.Equal(t, 1, pass.Dispatched)
	require.Len(t, h.client.Sent(), 1)
	assert.Equal(t, testutil.Ptr("2024-03-11"), testutil.LedgerDate(t, h.db, 1))

	msg := h.client.Sent()[0]
	assert.Equal(t, "owner@acme.test", msg.To)
	assert.Equal(t, int64(1), msg.RecipientID)
	assert.Contains(t, msg.Subject, "Acme Dental")
	assert.Contains(t, msg.HTML, "50%")
	assert.NotEmpty(t, msg.ID)

	// 10:00 local, already sent
	pass = h.runAt(t, mondayUTC(14, 0))
	assert.Equal(t, 1, pass.Reasons[schedule.ReasonAlreadySent])
	assert.Len(t, h.client.Sent(), 1)

	// Saturday 09:00 local, excluded weekday
	pass = h.runAt(t, time.Date(2024, 3, 16, 13, 0, 0, 0, time.UTC))
	assert.Equal(t, 1, pass.Reasons[schedule.ReasonWeekdayExcluded])
	assert.Len(t, h.client.Sent(), 1)

	// Tuesday is a new local date
	pass = h.runAt(t, time.Date(2024, 3, 12, 13, 5, 0, 0, time.UTC))
	assert.Equal(t, 1, pass.Dispatched)
	assert.Equal(t, testutil.Ptr("2024-03-12"), testutil.LedgerDate(t, h.db, 1))
}

func TestScheduler_FailureRetriesOnLaterTick(t *testing.T) {
	h := newHarness(t, nil, nil, 1)
	seedScenario(t, h.db)
	h.client.FailNext(1)

	pass := h.runAt(t, mondayUTC(13, 0))
	assert.Equal(t, 1, pass.Failed)
	assert.Empty(t, h.client.Sent())
	assert.Nil(t, testutil.LedgerDate(t, h.db, 1))

	pass = h.runAt(t, mondayUTC(13, 1))
	assert.Equal(t, 1, pass.Dispatched)
	assert.Len(t, h.client.Sent(), 1)
	assert.Equal(t, testutil.Ptr("2024-03-11"), testutil.LedgerDate(t, h.db, 1))
}

func TestScheduler_RestartDoesNotDuplicate(t *testing.T) {
	db := testutil.SetupTestDB(t)
	seedScenario(t, db)

	first := newHarness(t, db, nil, 1)
	first.runAt(t, mondayUTC(13, 0))
	require.Len(t, first.client.Sent(), 1)

	// a fresh process against the same store
	second := newHarness(t, db, nil, 1)
	pass := second.runAt(t, mondayUTC(13, 30))
	assert.Equal(t, 0, pass.Due)
	assert.Empty(t, second.client.Sent())
}

func TestScheduler_IsolatesRecipientFailures(t *testing.T) {
	h := newHarness(t, nil, nil, 2)
	seedScenario(t, h.db)
	testutil.CreateTestRecipient(t, h.db, &repository.RecipientEntity{ID: 2, TenantID: 1, Destination: "boom@acme.test"})
	testutil.CreateTestRecipient(t, h.db, &repository.RecipientEntity{ID: 3, TenantID: 1, Destination: "front-desk@acme.test"})
	// configuration errors are skipped
	testutil.CreateTestRecipient(t, h.db, &repository.RecipientEntity{ID: 4, TenantID: 1, Destination: ""})
	testutil.CreateTestRecipient(t, h.db, &repository.RecipientEntity{ID: 5, TenantID: 1, Destination: "x@acme.test", Timezone: "Mars/Olympus"})
	testutil.CreateTestRecipient(t, h.db, &repository.RecipientEntity{ID: 6, TenantID: 1, Destination: "y@acme.test", Weekdays: "1,9"})
	h.client.panicFor = "boom@acme.test"

	pass := h.runAt(t, mondayUTC(13, 0))
	assert.Equal(t, 6, pass.Recipients)
	assert.Equal(t, 3, pass.Invalid)
	assert.Equal(t, 3, pass.Due)
	assert.Equal(t, 2, pass.Dispatched)
	assert.Equal(t, 1, pass.Failed)

	assert.Equal(t, 1, h.client.SentTo("owner@acme.test"))
	assert.Equal(t, 1, h.client.SentTo("front-desk@acme.test"))
	assert.Nil(t, testutil.LedgerDate(t, h.db, 2))
	assert.NotNil(t, testutil.LedgerDate(t, h.db, 3))
}

func TestScheduler_SpringForwardDispatchesOnce(t *testing.T) {
	h := newHarness(t, nil, nil, 1)
	testutil.CreateTestTenant(t, h.db, 1, "Acme Dental")
	// 02:30 does not exist in New York on 2024-03-10
	testutil.CreateTestRecipient(t, h.db, &repository.RecipientEntity{
		ID: 1, TenantID: 1, Destination: "owner@acme.test", DeliveryTime: "02:30", Weekdays: "0,1,2,3,4,5,6",
	})

	var fired []time.Time
	for now := time.Date(2024, 3, 10, 6, 0, 0, 0, time.UTC); now.Before(time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)); now = now.Add(5 * time.Minute) {
		if pass := h.runAt(t, now); pass.Dispatched > 0 {
			fired = append(fired, now)
		}
	}
	require.Len(t, fired, 1)
	assert.Equal(t, time.Date(2024, 3, 10, 7, 0, 0, 0, time.UTC), fired[0])
	assert.Equal(t, testutil.Ptr("2024-03-10"), testutil.LedgerDate(t, h.db, 1))
}

func TestScheduler_FallBackDoesNotDuplicate(t *testing.T) {
	h := newHarness(t, nil, nil, 1)
	testutil.CreateTestTenant(t, h.db, 1, "Acme Dental")
	// 01:30 happens twice in New York on 2024-11-03
	testutil.CreateTestRecipient(t, h.db, &repository.RecipientEntity{
		ID: 1, TenantID: 1, Destination: "owner@acme.test", DeliveryTime: "01:30", Weekdays: "0,1,2,3,4,5,6",
	})

	for now := time.Date(2024, 11, 3, 5, 0, 0, 0, time.UTC); now.Before(time.Date(2024, 11, 3, 8, 0, 0, 0, time.UTC)); now = now.Add(5 * time.Minute) {
		h.runAt(t, now)
	}
	assert.Len(t, h.client.Sent(), 1)
}

func TestScheduler_StartStopLifecycle(t *testing.T) {
	h := newHarness(t, nil, nil, 1)
	seedScenario(t, h.db)
	h.clock.Set(mondayUTC(13, 0))

	h.scheduler.Start()
	h.scheduler.Start()
	created, live := h.clock.Tickers()
	assert.Equal(t, 1, created)
	assert.Equal(t, 1, live)
	assert.True(t, h.scheduler.Running())

	h.clock.Fire()
	testutil.AssertEventually(t, time.Second, func() bool { return h.scheduler.Metrics().Passes() == 1 }, "first tick never ran a pass")
	assert.Len(t, h.client.Sent(), 1)

	h.clock.Fire()
	testutil.AssertEventually(t, time.Second, func() bool { return h.scheduler.Metrics().Passes() == 2 }, "second tick never ran a pass")
	assert.Len(t, h.client.Sent(), 1)

	h.scheduler.Stop()
	h.scheduler.Stop()
	assert.False(t, h.scheduler.Running())
	_, live = h.clock.Tickers()
	assert.Equal(t, 0, live)

	// ticks after stop go nowhere
	h.clock.Fire()
	assert.Equal(t, int64(2), h.scheduler.Metrics().Passes())

	// restart creates exactly one new ticker
	h.scheduler.Start()
	created, live = h.clock.Tickers()
	assert.Equal(t, 2, created)
	assert.Equal(t, 1, live)
	h.scheduler.Stop()
}

func TestScheduler_StopWaitsForInFlightSend(t *testing.T) {
	h := newHarness(t, nil, nil, 1)
	seedScenario(t, h.db)
	testutil.CreateTestRecipient(t, h.db, &repository.RecipientEntity{ID: 2, TenantID: 1, Destination: "second@acme.test"})
	testutil.CreateTestRecipient(t, h.db, &repository.RecipientEntity{ID: 3, TenantID: 1, Destination: "third@acme.test"})
	h.clock.Set(mondayUTC(13, 0))

	h.client.block = make(chan struct{})
	h.client.started = make(chan string, 3)

	h.scheduler.Start()
	go h.clock.Fire()

	select {
	case <-h.client.started:
	case <-time.After(2 * time.Second):
		t.Fatal("first send never started")
	}

	stopped := make(chan struct{})
	go func() {
		h.scheduler.Stop()
		close(stopped)
	}()
	testutil.AssertEventually(t, time.Second, func() bool { return !h.scheduler.Running() }, "stop never cancelled the loop")

	select {
	case <-stopped:
		t.Fatal("stop returned while a send was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(h.client.block)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("stop never returned")
	}

	// the in-flight send completed and was recorded, the rest were not started
	assert.Len(t, h.client.Sent(), 1)
	pass := h.scheduler.Metrics().LastPass()
	require.NotNil(t, pass)
	assert.Equal(t, 3, pass.Due)
	assert.Equal(t, 1, pass.Started)
	assert.Equal(t, 1, pass.Dispatched)
}

func TestScheduler_RunOnStart(t *testing.T) {
	h := newHarness(t, nil, nil, 1)
	seedScenario(t, h.db)
	h.clock.Set(mondayUTC(13, 0))
	h.scheduler.config.RunOnStart = true

	h.scheduler.Start()
	testutil.AssertEventually(t, time.Second, func() bool { return h.scheduler.Metrics().Passes() == 1 }, "no pass on start")
	h.scheduler.Stop()
	assert.Len(t, h.client.Sent(), 1)
}

func TestScheduler_ResolverErrorIsReported(t *testing.T) {
	h := newHarness(t, nil, nil, 1)
	seedScenario(t, h.db)
	require.NoError(t, h.db.Raw.Migrator().DropTable(&repository.RecipientEntity{}))

	_, err := h.scheduler.RunOnce(context.Background())
	assert.Error(t, err)
	require.NotNil(t, h.scheduler.Metrics().LastPass())
	assert.NotEmpty(t, h.scheduler.Metrics().LastPass().Error)
}
