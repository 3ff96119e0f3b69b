package dispatcher

import (
	"context"
	"sync"
	"time"

	"github.com/nimasrn/digest-dispatcher/internal/model"
	"github.com/nimasrn/digest-dispatcher/internal/schedule"
	"github.com/nimasrn/digest-dispatcher/pkg/logger"
	"github.com/nimasrn/digest-dispatcher/pkg/prom"
	"github.com/nimasrn/digest-dispatcher/pkg/worker"
)

const (
	DefaultInterval    = time.Minute
	DefaultConcurrency = 4
)

type SchedulerConfig struct {
	Interval    time.Duration
	Concurrency int
	// RunOnStart runs a pass right away instead of waiting one interval.
	RunOnStart bool
}

type job struct {
	recipient *model.Recipient
	decision  schedule.Decision
	now       time.Time
}

// Scheduler owns the repeating tick. Each tick is one pass over every
// enabled recipient; passes never overlap and a failing recipient never
// ends the pass or the loop.
type Scheduler struct {
	resolver  *Resolver
	processor *DigestProcessor
	clock     Clock
	config    SchedulerConfig
	metrics   *ServiceMetrics

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	passMu sync.Mutex
}

func NewScheduler(resolver *Resolver, processor *DigestProcessor, clock Clock, config SchedulerConfig) *Scheduler {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.Concurrency <= 0 {
		config.Concurrency = DefaultConcurrency
	}
	if clock == nil {
		clock = RealClock()
	}
	return &Scheduler{
		resolver:  resolver,
		processor: processor,
		clock:     clock,
		config:    config,
		metrics:   NewServiceMetrics(),
	}
}

func (s *Scheduler) Metrics() *ServiceMetrics {
	return s.metrics
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Start begins ticking. Calling it on a running scheduler does nothing.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	ticker := s.clock.NewTicker(s.config.Interval)
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(ctx, ticker, s.done)
	logger.Info("digest scheduler started", "interval", s.config.Interval, "concurrency", s.config.Concurrency)
}

// Stop cancels the loop and waits for the pass in flight, if any. Sends
// already started complete; recipients not yet reached are left for the
// next start. Safe to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	done := s.done
	s.mu.Unlock()

	<-done
	logger.Info("digest scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, ticker Ticker, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()

	if s.config.RunOnStart {
		s.tick(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			if ctx.Err() != nil {
				return
			}
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("scheduler tick panicked", "panic", r)
		}
	}()
	if _, err := s.RunOnce(ctx); err != nil {
		logger.Error("scheduler pass failed", "error", err)
	}
}

// RunOnce performs a single pass at the clock's current instant. Once ctx
// is cancelled no further recipient is started, while started sends run to
// completion on a detached context.
func (s *Scheduler) RunOnce(ctx context.Context) (PassResult, error) {
	s.passMu.Lock()
	defer s.passMu.Unlock()

	now := s.clock.Now()
	started := time.Now()
	pass := PassResult{
		StartedAt: now,
		Reasons:   map[schedule.Reason]int{},
	}
	defer func() {
		pass.Duration = time.Since(started)
		s.metrics.RecordPass(pass)
		prom.ObservePass(pass.Duration.Seconds())
	}()

	recipients, invalid, err := s.resolver.Resolve(ctx)
	if err != nil {
		pass.Error = err.Error()
		return pass, err
	}
	pass.Recipients = len(recipients) + invalid
	pass.Invalid = invalid
	for i := 0; i < invalid; i++ {
		prom.IncRecipientResult("invalid")
	}

	jobs := make([]interface{}, 0)
	for _, r := range recipients {
		d := schedule.Evaluate(now, r)
		pass.Reasons[d.Reason]++
		prom.IncDueCheck(string(d.Reason))
		if d.Due {
			jobs = append(jobs, &job{recipient: r, decision: d, now: now})
		}
	}
	pass.Due = len(jobs)
	if len(jobs) == 0 {
		return pass, nil
	}

	outcomes := make([]Outcome, len(jobs))
	index := make(map[*job]int, len(jobs))
	for i, j := range jobs {
		index[j.(*job)] = i
	}

	dispatchCtx := context.WithoutCancel(ctx)
	pool := worker.NewWorkerManager(s.config.Concurrency)
	pool.SetWorker(func(_ int, item interface{}) {
		j := item.(*job)
		outcome, _ := s.processor.Process(dispatchCtx, j.recipient, j.decision, j.now)
		outcomes[index[j]] = outcome
	})
	pool.SetPanicHandler(func(_ int, item interface{}, recovered any) {
		j := item.(*job)
		logger.Error("recipient pipeline panicked", "recipient_id", j.recipient.ID, "tenant_id", j.recipient.TenantID, "panic", recovered)
		outcomes[index[j]] = OutcomeFailed
	})
	pass.Started = pool.Run(ctx, jobs)

	for _, o := range outcomes {
		switch o {
		case OutcomeDispatched:
			pass.Dispatched++
		case OutcomeFailed:
			pass.Failed++
		case OutcomeSkipped:
			pass.Skipped++
		default:
			// never started
			continue
		}
		prom.IncRecipientResult(string(o))
	}

	if pass.Started < len(jobs) {
		logger.Info("pass interrupted by shutdown", "due", len(jobs), "started", pass.Started)
	}
	logger.Info("scheduler pass finished",
		"recipients", pass.Recipients,
		"due", pass.Due,
		"dispatched", pass.Dispatched,
		"failed", pass.Failed,
		"skipped", pass.Skipped,
		"invalid", pass.Invalid)

	return pass, nil
}
