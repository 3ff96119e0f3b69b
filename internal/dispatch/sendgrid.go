package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/nimasrn/digest-dispatcher/pkg/logger"
	"github.com/sendgrid/rest"
	sendgrid "github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

const (
	TransportSendgrid = "sendgrid"
	sendgridMailPath  = "/v3/mail/send"
)

type SendgridConfig struct {
	APIKey      string
	Host        string
	FromAddress string
	FromName    string

	// Retries is how many extra attempts a transport error or 5xx gets.
	// Rate limiting is retried separately by sendgrid-go.
	Retries      int
	RetryBackoff time.Duration
}

type requestFunc func(ctx context.Context, request rest.Request) (*rest.Response, error)

type SendgridClient struct {
	config SendgridConfig
	do     requestFunc
}

func NewSendgridClient(config SendgridConfig) *SendgridClient {
	if config.Host == "" {
		config.Host = "https://api.sendgrid.com"
	}
	if config.Retries < 0 {
		config.Retries = 0
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = 250 * time.Millisecond
	}
	return &SendgridClient{
		config: config,
		do:     sendgrid.MakeRequestRetryWithContext,
	}
}

func (c *SendgridClient) Name() string {
	return TransportSendgrid
}

func (c *SendgridClient) Send(ctx context.Context, msg *Message) (*Result, error) {
	if err := validate(msg); err != nil {
		return nil, err
	}

	m := mail.NewV3Mail()
	m.SetFrom(mail.NewEmail(c.config.FromName, c.config.FromAddress))
	m.Subject = msg.Subject

	enable := false
	m.SetTrackingSettings(&mail.TrackingSettings{SubscriptionTracking: &mail.SubscriptionTrackingSetting{Enable: &enable}})

	personalization := mail.NewPersonalization()
	personalization.AddTos(mail.NewEmail(msg.ToName, msg.To))
	personalization.SetCustomArg("message_id", msg.ID)
	personalization.SetCustomArg("tenant_id", fmt.Sprintf("%d", msg.TenantID))
	m.AddPersonalizations(personalization)
	m.AddContent(mail.NewContent("text/html", msg.HTML))

	request := sendgrid.GetRequest(c.config.APIKey, sendgridMailPath, c.config.Host)
	request.Method = rest.Post
	request.Body = mail.GetRequestBody(m)

	response, err := c.request(ctx, request)
	if err != nil {
		return nil, err
	}

	id := msg.ID
	if ids := response.Headers["X-Message-Id"]; len(ids) > 0 && ids[0] != "" {
		id = ids[0]
	}
	logger.Debug("sendgrid accepted message", "message_id", msg.ID, "sendgrid_id", id, "status", response.StatusCode)

	return &Result{ID: id, Transport: TransportSendgrid}, nil
}

func (c *SendgridClient) request(ctx context.Context, request rest.Request) (*rest.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= c.config.Retries; attempt++ {
		if attempt > 0 {
			logger.Warn("sendgrid retrying", "attempt", attempt, "error", lastErr)
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: sendgrid: %v (last error: %v)", ErrDispatchFailed, ctx.Err(), lastErr)
			case <-time.After(time.Duration(attempt) * c.config.RetryBackoff):
			}
		}

		response, err := c.do(ctx, request)
		switch {
		case err != nil:
			lastErr = fmt.Errorf("%w: sendgrid: %v", ErrDispatchFailed, err)
		case response.StatusCode >= 500:
			lastErr = fmt.Errorf("%w: sendgrid status %d: %s", ErrDispatchFailed, response.StatusCode, response.Body)
		case response.StatusCode < 200 || response.StatusCode >= 300:
			return nil, fmt.Errorf("%w: sendgrid status %d: %s", ErrDispatchFailed, response.StatusCode, response.Body)
		default:
			return response, nil
		}
	}
	return nil, lastErr
}
