package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nimasrn/digest-dispatcher/pkg/logger"
	"github.com/nimasrn/digest-dispatcher/pkg/prom"
	"github.com/sony/gobreaker"
)

var ErrSendTimeout = errors.New("dispatch timed out")

type BreakerConfig struct {
	MaxFailures uint32
	OpenTimeout time.Duration
	SendTimeout time.Duration
}

// BreakerClient bounds every send by a timeout and stops calling a
// transport that keeps failing until it has had time to recover.
type BreakerClient struct {
	next    Client
	cb      *gobreaker.CircuitBreaker
	timeout time.Duration
}

func NewBreakerClient(next Client, cfg BreakerConfig) *BreakerClient {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}

	name := next.Name()
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("dispatch breaker state changed", "transport", name, "from", from.String(), "to", to.String())
			prom.SetBreakerState(name, float64(to))
		},
		// a missing destination says nothing about the transport's health
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrEmptyDestination)
		},
	}
	prom.SetBreakerState(name, float64(gobreaker.StateClosed))

	return &BreakerClient{
		next:    next,
		cb:      gobreaker.NewCircuitBreaker(settings),
		timeout: cfg.SendTimeout,
	}
}

func (c *BreakerClient) Name() string {
	return c.next.Name()
}

func (c *BreakerClient) State() gobreaker.State {
	return c.cb.State()
}

func (c *BreakerClient) Send(ctx context.Context, msg *Message) (*Result, error) {
	start := time.Now()
	out, err := c.cb.Execute(func() (interface{}, error) {
		return c.sendWithTimeout(ctx, msg)
	})

	result := "success"
	if err != nil {
		result = "failure"
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			result = "rejected"
			err = fmt.Errorf("%w: %s breaker: %w", ErrDispatchFailed, c.Name(), err)
		}
	}
	prom.ObserveSend(c.Name(), result, time.Since(start).Seconds())

	if err != nil {
		return nil, err
	}
	return out.(*Result), nil
}

// sendWithTimeout returns once the timeout passes even when the transport
// ignores its context; the abandoned call finishes in the background.
func (c *BreakerClient) sendWithTimeout(ctx context.Context, msg *Message) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := c.next.Send(ctx, msg)
		done <- outcome{res, err}
	}()

	select {
	case o := <-done:
		return o.res, o.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %w after %s", ErrDispatchFailed, ErrSendTimeout, c.timeout)
		}
		return nil, fmt.Errorf("%w: %v", ErrDispatchFailed, ctx.Err())
	}
}
