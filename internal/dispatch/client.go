package dispatch

import (
	"context"
	"errors"
)

var (
	ErrDispatchFailed   = errors.New("dispatch failed")
	ErrEmptyDestination = errors.New("destination address is empty")
)

// Message is one rendered digest on its way out. ID is set by the caller
// and doubles as the transport idempotency key: scheduled digests derive it
// from recipient and local date, so retries of the same day share it.
type Message struct {
	ID          string `json:"message_id"`
	TenantID    int64  `json:"tenant_id"`
	RecipientID int64  `json:"recipient_id,omitempty"`
	To          string `json:"to"`
	ToName      string `json:"to_name,omitempty"`
	Subject     string `json:"subject"`
	HTML        string `json:"html"`
}

// Result is the transport acknowledgement. It is trusted, not verified.
type Result struct {
	ID        string `json:"id"`
	Transport string `json:"transport"`
}

type Client interface {
	Name() string
	Send(ctx context.Context, msg *Message) (*Result, error)
}

func validate(msg *Message) error {
	if msg == nil || msg.To == "" {
		return ErrEmptyDestination
	}
	return nil
}
