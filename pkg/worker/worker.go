package worker

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/nimasrn/digest-dispatcher/pkg/logger"
)

type WorkerHandler = func(workerIndex int, job interface{})

type PanicHandler = func(workerIndex int, job interface{}, recovered any)

// WorkerManager fans a finite batch of jobs out to a fixed number of
// goroutines. Unlike a long-lived pool it is driven per batch: Run blocks
// until the batch drains, so callers get a natural "pass finished" point.
type WorkerManager struct {
	numberOfWorker int
	do             WorkerHandler
	onPanic        PanicHandler
}

func NewWorkerManager(numberOfWorkers int) *WorkerManager {
	if numberOfWorkers < 1 {
		numberOfWorkers = 1
	}
	return &WorkerManager{
		numberOfWorker: numberOfWorkers,
		onPanic: func(workerIndex int, job interface{}, recovered any) {
			logger.Error("worker recovered from panic", "worker", workerIndex, "panic", recovered)
		},
	}
}

func (w *WorkerManager) SetWorker(worker WorkerHandler) {
	w.do = worker
}

func (w *WorkerManager) SetPanicHandler(h PanicHandler) {
	w.onPanic = h
}

func (w *WorkerManager) Size() int {
	return w.numberOfWorker
}

// Run hands every job to the worker handler and waits for all of them.
// Once ctx is done no further job is started; jobs already running finish.
// It returns how many jobs were started.
func (w *WorkerManager) Run(ctx context.Context, jobs []interface{}) int {
	if w.do == nil || len(jobs) == 0 {
		return 0
	}

	workers := w.numberOfWorker
	if workers > len(jobs) {
		workers = len(jobs)
	}

	jobChannel := make(chan interface{})
	var started atomic.Int64
	var waiter sync.WaitGroup

	waiter.Add(workers)
	for i := 0; i < workers; i++ {
		go func(index int) {
			defer waiter.Done()
			for job := range jobChannel {
				started.Add(1)
				w.handle(index, job)
			}
		}(i)
	}

feed:
	for _, job := range jobs {
		// checked first so a cancelled batch never starts another job
		if ctx.Err() != nil {
			break
		}
		select {
		case jobChannel <- job:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobChannel)
	waiter.Wait()

	return int(started.Load())
}

func (w *WorkerManager) handle(index int, job interface{}) {
	defer func() {
		if r := recover(); r != nil && w.onPanic != nil {
			w.onPanic(index, job, r)
		}
	}()
	w.do(index, job)
}
