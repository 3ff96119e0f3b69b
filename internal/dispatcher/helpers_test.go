package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nimasrn/digest-dispatcher/internal/aggregator"
	"github.com/nimasrn/digest-dispatcher/internal/dispatch"
	"github.com/nimasrn/digest-dispatcher/internal/repository"
	"github.com/nimasrn/digest-dispatcher/internal/testutil"
)

var errTransport = errors.New("smtp 451 try again later")

type fakeDispatchClient struct {
	mu       sync.Mutex
	sent     []*dispatch.Message
	attempts []string
	failures int
	panicFor string
	block    chan struct{}
	started  chan string
}

func (c *fakeDispatchClient) Name() string { return "fake" }

func (c *fakeDispatchClient) Send(ctx context.Context, msg *dispatch.Message) (*dispatch.Result, error) {
	if c.started != nil {
		c.started <- msg.To
	}
	if c.block != nil {
		<-c.block
	}
	if c.panicFor != "" && msg.To == c.panicFor {
		panic("transport exploded")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts = append(c.attempts, msg.ID)
	if c.failures > 0 {
		c.failures--
		return nil, errTransport
	}
	c.sent = append(c.sent, msg)
	return &dispatch.Result{ID: "ack-" + msg.ID, Transport: "fake"}, nil
}

func (c *fakeDispatchClient) Sent() []*dispatch.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*dispatch.Message(nil), c.sent...)
}

// Attempts lists the message id of every send that reached the transport,
// failed ones included.
func (c *fakeDispatchClient) Attempts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.attempts...)
}

func (c *fakeDispatchClient) SentTo(destination string) int {
	n := 0
	for _, m := range c.Sent() {
		if m.To == destination {
			n++
		}
	}
	return n
}

func (c *fakeDispatchClient) FailNext(n int) {
	c.mu.Lock()
	c.failures = n
	c.mu.Unlock()
}

// 2024-03-11 is a Monday and New York is already on EDT (UTC-4).
func mondayUTC(hour, minute int) time.Time {
	return time.Date(2024, 3, 11, hour, minute, 0, 0, time.UTC)
}

type harness struct {
	db        *repository.TestDB
	clock     *FakeClock
	client    *fakeDispatchClient
	processor *DigestProcessor
	scheduler *Scheduler
}

func newHarness(t *testing.T, db *repository.TestDB, claims Claimer, concurrency int) *harness {
	t.Helper()
	if db == nil {
		db = testutil.SetupTestDB(t)
	}
	client := &fakeDispatchClient{}
	clock := NewFakeClock(mondayUTC(12, 0))
	recipients := repository.NewRecipientRepository(db.DB)
	agg := aggregator.New(repository.NewActivityRepository(db.DB))

	processor := NewDigestProcessor(agg, client, recipients, claims)
	scheduler := NewScheduler(NewResolver(recipients), processor, clock, SchedulerConfig{
		Interval:    time.Minute,
		Concurrency: concurrency,
	})
	return &harness{
		db:        db,
		clock:     clock,
		client:    client,
		processor: processor,
		scheduler: scheduler,
	}
}

// seedScenario creates the New York weekday 09:00 recipient of the
// reference scenarios.
func seedScenario(t *testing.T, db *repository.TestDB) *repository.RecipientEntity {
	testutil.CreateTestTenant(t, db, 1, "Acme Dental")
	testutil.CreateTestCallAttempt(t, db, 1, "Ada", "completed", "answered", mondayUTC(10, 0))
	testutil.CreateTestCallAttempt(t, db, 1, "Bob", "completed", "voicemail", mondayUTC(11, 0))
	return testutil.CreateTestRecipient(t, db, &repository.RecipientEntity{
		ID:          1,
		TenantID:    1,
		Destination: "owner@acme.test",
		DisplayName: "Dana",
	})
}

func (h *harness) runAt(t *testing.T, now time.Time) PassResult {
	t.Helper()
	h.clock.Set(now)
	pass, err := h.scheduler.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("pass failed: %v", err)
	}
	return pass
}
