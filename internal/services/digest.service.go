package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nimasrn/digest-dispatcher/internal/dispatcher"
	"github.com/nimasrn/digest-dispatcher/internal/model"
	"github.com/nimasrn/digest-dispatcher/internal/schedule"
)

var (
	ErrInvalidTenant = errors.New("tenant_id must be positive")
	ErrNotFound      = errors.New("error notfound")
)

type DigestProcessor interface {
	SendNow(ctx context.Context, req dispatcher.SendNowRequest, now time.Time) (*dispatcher.SendNowResult, error)
	Preview(ctx context.Context, tenantID int64, displayName, timezone string, now time.Time) (*model.ReportDocument, error)
}

type RecipientReader interface {
	GetByID(ctx context.Context, id int64) (*model.RecipientConfig, error)
}

type StatsSource interface {
	GetStats() map[string]interface{}
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// DueCheck is the verdict for one recipient at one instant.
type DueCheck struct {
	RecipientID int64             `json:"recipient_id"`
	Timezone    string            `json:"timezone"`
	Decision    schedule.Decision `json:"decision"`
	LastSent    *string           `json:"last_dispatched_local_date,omitempty"`
}

// DigestService is the operator facing side of the dispatcher: on-demand
// sends, previews and introspection. Scheduled delivery never goes through it.
type DigestService struct {
	processor  DigestProcessor
	recipients RecipientReader
	stats      StatsSource
	db         Pinger
	now        func() time.Time
}

func NewDigestService(processor DigestProcessor, recipients RecipientReader, stats StatsSource, db Pinger, now func() time.Time) *DigestService {
	if now == nil {
		now = time.Now
	}
	return &DigestService{
		processor:  processor,
		recipients: recipients,
		stats:      stats,
		db:         db,
		now:        now,
	}
}

func (s *DigestService) SendNow(ctx context.Context, req dispatcher.SendNowRequest) (*dispatcher.SendNowResult, error) {
	if req.TenantID <= 0 {
		return nil, ErrInvalidTenant
	}
	req.DisplayName = strings.TrimSpace(req.DisplayName)
	return s.processor.SendNow(ctx, req, s.now())
}

func (s *DigestService) Preview(ctx context.Context, tenantID int64, displayName, timezone string) (*model.ReportDocument, error) {
	if tenantID <= 0 {
		return nil, ErrInvalidTenant
	}
	return s.processor.Preview(ctx, tenantID, strings.TrimSpace(displayName), timezone, s.now())
}

// DueCheck evaluates a stored recipient at the current instant without
// touching the ledger. Disabled recipients are evaluated as if enabled.
func (s *DigestService) DueCheck(ctx context.Context, id int64) (*DueCheck, error) {
	cfg, err := s.recipients.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, ErrNotFound
	}

	r, err := cfg.Parse()
	if err != nil {
		return nil, fmt.Errorf("recipient %d: %w", id, err)
	}

	return &DueCheck{
		RecipientID: r.ID,
		Timezone:    r.Timezone,
		Decision:    schedule.Evaluate(s.now(), r),
		LastSent:    r.LastDispatchedLocalDate,
	}, nil
}

func (s *DigestService) Stats() map[string]interface{} {
	return s.stats.GetStats()
}

// Get reports whether the configuration store is reachable.
func (s *DigestService) Get() error {
	if s.db == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.db.Ping(ctx)
}
