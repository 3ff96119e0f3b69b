package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidRecipient = errors.New("invalid recipient configuration")

// RecipientConfig is a notification subscription exactly as stored.
type RecipientConfig struct {
	ID                      int64
	TenantID                int64
	UserID                  *int64
	Enabled                 bool
	DeliveryTime            string
	Weekdays                string
	Timezone                string
	Destination             string
	DisplayName             string
	LastDispatchedLocalDate *string
}

// Recipient is a validated subscription, ready for the per-tick due check.
type Recipient struct {
	ID                      int64
	TenantID                int64
	UserID                  *int64
	DeliveryTime            ClockTime
	Weekdays                WeekdaySet
	Timezone                string
	Location                *time.Location
	Destination             string
	DisplayName             string
	LastDispatchedLocalDate *string
}

// Parse validates the stored configuration once so the due check is plain
// comparisons. Every failure wraps ErrInvalidRecipient.
func (c *RecipientConfig) Parse() (*Recipient, error) {
	destination := strings.TrimSpace(c.Destination)
	if destination == "" {
		return nil, fmt.Errorf("%w: missing destination address", ErrInvalidRecipient)
	}

	weekdays, err := ParseWeekdaySet(c.Weekdays)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecipient, err)
	}
	if weekdays.Empty() {
		return nil, fmt.Errorf("%w: no delivery weekdays", ErrInvalidRecipient)
	}

	deliveryTime, err := ParseClockTime(strings.TrimSpace(c.DeliveryTime))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecipient, err)
	}

	loc, err := LoadLocation(strings.TrimSpace(c.Timezone))
	if err != nil {
		return nil, fmt.Errorf("%w: timezone %q: %v", ErrInvalidRecipient, c.Timezone, err)
	}

	var last *string
	if c.LastDispatchedLocalDate != nil && *c.LastDispatchedLocalDate != "" {
		v := *c.LastDispatchedLocalDate
		last = &v
	}

	return &Recipient{
		ID:                      c.ID,
		TenantID:                c.TenantID,
		UserID:                  c.UserID,
		DeliveryTime:            deliveryTime,
		Weekdays:                weekdays,
		Timezone:                loc.String(),
		Location:                loc,
		Destination:             destination,
		DisplayName:             strings.TrimSpace(c.DisplayName),
		LastDispatchedLocalDate: last,
	}, nil
}

func (r *Recipient) DispatchedOn(localDate string) bool {
	return r.LastDispatchedLocalDate != nil && *r.LastDispatchedLocalDate == localDate
}

func (r *Recipient) MarkDispatched(localDate string) {
	r.LastDispatchedLocalDate = &localDate
}
