// Package app builds the dispatcher object graph from the loaded
// configuration. The cmd binaries share it so every process wires the
// same transport and stores.
package app

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/nimasrn/digest-dispatcher/internal/aggregator"
	"github.com/nimasrn/digest-dispatcher/internal/config"
	"github.com/nimasrn/digest-dispatcher/internal/dispatch"
	"github.com/nimasrn/digest-dispatcher/internal/dispatcher"
	"github.com/nimasrn/digest-dispatcher/internal/repository"
	"github.com/nimasrn/digest-dispatcher/pkg/logger"
	"github.com/nimasrn/digest-dispatcher/pkg/pg"
	"github.com/nimasrn/digest-dispatcher/pkg/redis"
)

type closer interface {
	Close() error
}

type App struct {
	DB         *pg.DB
	Recipients *repository.RecipientRepository
	Client     dispatch.Client
	Processor  *dispatcher.DigestProcessor
	Scheduler  *dispatcher.Scheduler

	closers []closer
}

// Build connects to the stores and the configured transport.
func Build(c *config.Config) (*App, error) {
	db, err := pg.CreateReadWrite(c.PostgresRead(), c.PostgresWrite(), c.AppDebug)
	if err != nil {
		return nil, fmt.Errorf("failed connecting to pg: %w", err)
	}
	a := &App{DB: db}
	a.closers = append(a.closers, db)

	transport, err := NewTransport(c)
	if err != nil {
		a.Close()
		return nil, err
	}
	if cl, ok := transport.(closer); ok {
		a.closers = append(a.closers, cl)
	}
	a.Client = dispatch.NewBreakerClient(transport, dispatch.BreakerConfig{
		MaxFailures: uint32(c.BreakerMaxFailures),
		OpenTimeout: c.BreakerOpenTimeout,
		SendTimeout: c.DispatchTimeout,
	})

	var claims dispatcher.Claimer
	if c.SchedulerClaimEnable {
		adapter, err := redis.NewRedisAdapter("default", c.RedisUniversalKeyPrefix, &redis.Options{
			Addrs:      []string{c.RedisAddr},
			ClientName: c.AppName,
			DB:         c.RedisDatabase,
			Username:   c.RedisUsername,
			Password:   c.RedisPassword,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed connecting to redis: %w", err)
		}
		claims = dispatcher.NewClaimService(adapter, dispatcher.ClaimConfig{TTL: c.SchedulerClaimTTL})
		logger.Info("multi-instance claims enabled", "ttl", c.SchedulerClaimTTL)
	}

	a.Recipients = repository.NewRecipientRepository(db)
	agg := aggregator.New(repository.NewActivityRepository(db))
	a.Processor = dispatcher.NewDigestProcessor(agg, a.Client, a.Recipients, claims)
	a.Scheduler = dispatcher.NewScheduler(dispatcher.NewResolver(a.Recipients), a.Processor, dispatcher.RealClock(), dispatcher.SchedulerConfig{
		Interval:    c.SchedulerInterval,
		Concurrency: c.SchedulerConcurrency,
		RunOnStart:  true,
	})
	return a, nil
}

// NewTransport returns the raw dispatch client selected by DISPATCH_TRANSPORT.
func NewTransport(c *config.Config) (dispatch.Client, error) {
	switch c.DispatchTransport {
	case config.TransportSendgrid:
		return dispatch.NewSendgridClient(dispatch.SendgridConfig{
			APIKey:      c.SendgridAPIKey,
			Host:        c.SendgridHost,
			FromAddress: c.MailFromAddress,
			FromName:    c.MailFromName,
			Retries:     c.SendgridRetries,
		}), nil
	case config.TransportRelay:
		names := []string{"primary", "secondary", "backup"}
		var endpoints []dispatch.RelayEndpoint
		for i, u := range c.RelayEndpoints() {
			endpoints = append(endpoints, dispatch.RelayEndpoint{Name: names[i], URL: u})
		}
		return dispatch.NewRelayClient(dispatch.RelayConfig{
			Endpoints:   endpoints,
			FromAddress: c.MailFromAddress,
			FromName:    c.MailFromName,
			MaxRetries:  c.RelayMaxRetries,
		})
	case config.TransportAMQP:
		return dispatch.NewAMQPClient(dispatch.AMQPConfig{
			URL:        c.AMQPUrl,
			Exchange:   c.AMQPExchange,
			RoutingKey: c.AMQPRoutingKey,
			Queue:      c.AMQPQueue,
		})
	}
	return nil, fmt.Errorf("unknown dispatch transport %q", c.DispatchTransport)
}

func (a *App) Ping(ctx context.Context) error {
	return a.DB.Ping(ctx)
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			logger.Warn("close failed", "error", err)
		}
	}
}

// EnvPath returns the value of a --env=path argument when the file exists.
func EnvPath(args []string) string {
	return ArgValue(args, "--env=", true)
}

// ArgValue returns the value of the first "prefix=value" argument. With
// mustExist the value is treated as a path and dropped when it cannot be opened.
func ArgValue(args []string, prefix string, mustExist bool) string {
	for _, v := range args {
		if !strings.HasPrefix(v, prefix) {
			continue
		}
		value := strings.TrimPrefix(v, prefix)
		if mustExist {
			f, err := os.Open(value)
			if err != nil {
				logger.Error("failed to open the passed file", "path", value, "error", err)
				return ""
			}
			_ = f.Close()
		}
		return value
	}
	return ""
}
