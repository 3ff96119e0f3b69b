package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nimasrn/digest-dispatcher/pkg/logger"
	"github.com/valyala/fasthttp"
)

const (
	TransportRelay = "relay"
	relaySendPath  = "/api/v1/mail/send"
)

var ErrNoAvailableEndpoints = errors.New("no available relay endpoints")

type RelayStatus string

const (
	RelayAccepted RelayStatus = "ACCEPTED"
	RelayRejected RelayStatus = "REJECTED"
)

type relayRequest struct {
	MessageID string `json:"message_id"`
	TenantID  int64  `json:"tenant_id"`
	To        string `json:"to"`
	ToName    string `json:"to_name,omitempty"`
	From      string `json:"from"`
	FromName  string `json:"from_name,omitempty"`
	Subject   string `json:"subject"`
	HTML      string `json:"html"`
}

type relayResponse struct {
	MessageID string      `json:"message_id"`
	RelayID   string      `json:"relay_id"`
	Status    RelayStatus `json:"status"`
	ErrorMsg  string      `json:"error_message,omitempty"`
}

type RelayEndpoint struct {
	Name string
	URL  string
}

type RelayConfig struct {
	Endpoints        []RelayEndpoint
	FromAddress      string
	FromName         string
	Timeout          time.Duration
	MaxRetries       int
	RetryDelay       time.Duration
	FailureThreshold int32
	CooldownPeriod   time.Duration
	// Dial overrides the network dialer, tests use an in-memory listener.
	Dial fasthttp.DialFunc
}

type relayEndpoint struct {
	name             string
	url              string
	consecutiveFails atomic.Int32
	coolingUntil     atomic.Int64
	sent             atomic.Int64
	failed           atomic.Int64
}

func (e *relayEndpoint) available(now time.Time) bool {
	return now.UnixNano() >= e.coolingUntil.Load()
}

type EndpointStats struct {
	Name             string `json:"name"`
	URL              string `json:"url"`
	Available        bool   `json:"available"`
	Sent             int64  `json:"sent"`
	Failed           int64  `json:"failed"`
	ConsecutiveFails int32  `json:"consecutive_fails"`
}

// RelayClient posts digests to an HTTP mail relay. Endpoints are tried in
// configuration order; one that keeps failing is skipped for a cooldown.
type RelayClient struct {
	config    RelayConfig
	client    *fasthttp.Client
	endpoints []*relayEndpoint
}

func NewRelayClient(config RelayConfig) (*RelayClient, error) {
	if len(config.Endpoints) == 0 {
		return nil, errors.New("at least one relay endpoint is required")
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = 200 * time.Millisecond
	}
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 3
	}
	if config.CooldownPeriod <= 0 {
		config.CooldownPeriod = 30 * time.Second
	}

	c := &RelayClient{
		config: config,
		client: &fasthttp.Client{
			ReadTimeout:         config.Timeout,
			WriteTimeout:        config.Timeout,
			MaxIdleConnDuration: 60 * time.Second,
			Dial:                config.Dial,
		},
	}
	for _, ep := range config.Endpoints {
		c.endpoints = append(c.endpoints, &relayEndpoint{name: ep.Name, url: ep.URL})
		logger.Info("relay endpoint initialized", "name", ep.Name, "url", ep.URL)
	}
	return c, nil
}

func (c *RelayClient) Name() string {
	return TransportRelay
}

func (c *RelayClient) Send(ctx context.Context, msg *Message) (*Result, error) {
	if err := validate(msg); err != nil {
		return nil, err
	}

	body, err := json.Marshal(relayRequest{
		MessageID: msg.ID,
		TenantID:  msg.TenantID,
		To:        msg.To,
		ToName:    msg.ToName,
		From:      c.config.FromAddress,
		FromName:  c.config.FromName,
		Subject:   msg.Subject,
		HTML:      msg.HTML,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrDispatchFailed, ctx.Err())
			case <-time.After(c.config.RetryDelay):
			}
		}

		endpoint := c.pick(attempt)
		if endpoint == nil {
			lastErr = ErrNoAvailableEndpoints
			continue
		}

		start := time.Now()
		resp, err := c.post(ctx, endpoint, body)
		if err != nil {
			c.recordFailure(endpoint)
			logger.Warn("relay request failed", "error", err, "endpoint", endpoint.name, "attempt", attempt+1, "message_id", msg.ID)
			lastErr = err
			continue
		}
		c.recordSuccess(endpoint)

		if resp.Status == RelayRejected {
			// the relay understood the message and refused it, other endpoints would too
			return nil, fmt.Errorf("%w: relay rejected message: %s", ErrDispatchFailed, resp.ErrorMsg)
		}

		logger.Debug("relay accepted message", "message_id", msg.ID, "relay_id", resp.RelayID, "endpoint", endpoint.name, "latency_ms", time.Since(start).Milliseconds())
		id := resp.RelayID
		if id == "" {
			id = msg.ID
		}
		return &Result{ID: id, Transport: TransportRelay}, nil
	}

	return nil, fmt.Errorf("%w: failed after %d attempts: %v", ErrDispatchFailed, c.config.MaxRetries+1, lastErr)
}

// pick returns the attempt-th available endpoint, wrapping around, so a
// retry moves on to the next relay.
func (c *RelayClient) pick(attempt int) *relayEndpoint {
	now := time.Now()
	available := make([]*relayEndpoint, 0, len(c.endpoints))
	for _, e := range c.endpoints {
		if e.available(now) {
			available = append(available, e)
		}
	}
	if len(available) == 0 {
		return nil
	}
	return available[attempt%len(available)]
}

func (c *RelayClient) post(ctx context.Context, endpoint *relayEndpoint, body []byte) (*relayResponse, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(endpoint.url + relaySendPath)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.config.Timeout)
	}

	if err := c.client.DoDeadline(req, resp, deadline); err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	statusCode := resp.StatusCode()
	if statusCode != fasthttp.StatusOK && statusCode != fasthttp.StatusAccepted {
		return nil, fmt.Errorf("unexpected status code: %d, body: %s", statusCode, resp.Body())
	}

	var out relayResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &out, nil
}

func (c *RelayClient) recordFailure(e *relayEndpoint) {
	e.failed.Add(1)
	fails := e.consecutiveFails.Add(1)
	if fails >= c.config.FailureThreshold {
		e.coolingUntil.Store(time.Now().Add(c.config.CooldownPeriod).UnixNano())
		e.consecutiveFails.Store(0)
		logger.Warn("relay endpoint cooling down", "endpoint", e.name, "consecutive_fails", fails, "cooldown", c.config.CooldownPeriod)
	}
}

func (c *RelayClient) recordSuccess(e *relayEndpoint) {
	e.sent.Add(1)
	e.consecutiveFails.Store(0)
}

func (c *RelayClient) Stats() []EndpointStats {
	now := time.Now()
	stats := make([]EndpointStats, 0, len(c.endpoints))
	for _, e := range c.endpoints {
		stats = append(stats, EndpointStats{
			Name:             e.name,
			URL:              e.url,
			Available:        e.available(now),
			Sent:             e.sent.Load(),
			Failed:           e.failed.Load(),
			ConsecutiveFails: e.consecutiveFails.Load(),
		})
	}
	return stats
}
