package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nimasrn/digest-dispatcher/internal/dispatch"
	"github.com/nimasrn/digest-dispatcher/internal/model"
	"github.com/nimasrn/digest-dispatcher/internal/report"
	"github.com/nimasrn/digest-dispatcher/internal/repository"
	"github.com/nimasrn/digest-dispatcher/internal/schedule"
	"github.com/nimasrn/digest-dispatcher/pkg/logger"
)

var (
	ErrAggregation = errors.New("activity aggregation failed")
	ErrLedgerWrite = errors.New("ledger write failed")
)

// namespace for scheduled digest ids; changing it re-keys every in-flight send
var digestIDSpace = uuid.MustParse("6f1c2b7e-4d3a-5c8e-9b21-0a7d5e4f3c19")

type Outcome string

const (
	OutcomeDispatched Outcome = "dispatched"
	OutcomeFailed     Outcome = "failed"
	OutcomeSkipped    Outcome = "skipped"
)

type Aggregator interface {
	Aggregate(ctx context.Context, tenantID int64, now time.Time) (*model.ActivityStats, error)
}

type SendNowRequest struct {
	Destination string `json:"destination"`
	TenantID    int64  `json:"tenant_id"`
	DisplayName string `json:"display_name"`
	Timezone    string `json:"timezone,omitempty"`
}

type SendNowResult struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
}

// DigestProcessor runs the per-recipient pipeline: claim, aggregate,
// render, send, record. Only a successful send reaches the ledger.
type DigestProcessor struct {
	aggregator Aggregator
	client     dispatch.Client
	ledger     RecipientStore
	claims     Claimer
	newID      func() string

	// sends that went out but whose ledger write failed: recipient id to
	// local date; retried before any new send that same day
	unrecorded sync.Map
}

func NewDigestProcessor(aggregator Aggregator, client dispatch.Client, ledger RecipientStore, claims Claimer) *DigestProcessor {
	return &DigestProcessor{
		aggregator: aggregator,
		client:     client,
		ledger:     ledger,
		claims:     claims,
		newID:      uuid.NewString,
	}
}

func ledgerKey(recipientID int64, localDate string) string {
	return fmt.Sprintf("%d:%s", recipientID, localDate)
}

// digestID is stable for a recipient and local date so a retry after an
// ambiguous send reuses the transport idempotency key.
func digestID(recipientID int64, localDate string) string {
	return uuid.NewSHA1(digestIDSpace, []byte(ledgerKey(recipientID, localDate))).String()
}

// Process delivers one due digest. decision must come from schedule.Evaluate
// for r; its LocalDate is what the ledger records.
func (p *DigestProcessor) Process(ctx context.Context, r *model.Recipient, decision schedule.Decision, now time.Time) (Outcome, error) {
	log := []any{"recipient_id", r.ID, "tenant_id", r.TenantID, "local_date", decision.LocalDate}

	if v, pending := p.unrecorded.Load(r.ID); pending {
		if v.(string) == decision.LocalDate {
			logger.Warn("digest already sent, retrying ledger write", log...)
			return p.record(ctx, r, decision.LocalDate, log)
		}
		logger.Error("dropping unrecorded dispatch from a past day", append(log, "unrecorded_date", v)...)
		p.unrecorded.CompareAndDelete(r.ID, v)
	}

	var claim *Claim
	if p.claims != nil {
		c, err := p.claims.Acquire(ctx, r.ID, decision.LocalDate)
		if err != nil {
			if errors.Is(err, ErrClaimHeld) {
				return OutcomeSkipped, err
			}
			return OutcomeFailed, err
		}
		claim = c
	}
	release := func() {
		if claim != nil {
			_ = p.claims.Release(ctx, claim)
		}
	}

	doc, err := p.build(ctx, r.TenantID, r.DisplayName, r.Location, now)
	if err != nil {
		release()
		logger.Error("digest build failed", append(log, "error", err)...)
		return OutcomeFailed, err
	}

	res, err := p.client.Send(ctx, &dispatch.Message{
		ID:          digestID(r.ID, decision.LocalDate),
		TenantID:    r.TenantID,
		RecipientID: r.ID,
		To:          r.Destination,
		ToName:      r.DisplayName,
		Subject:     doc.Subject,
		HTML:        doc.HTML,
	})
	if err != nil {
		release()
		logger.Warn("digest dispatch failed, will retry on a later tick", append(log, "transport", p.client.Name(), "error", err)...)
		return OutcomeFailed, err
	}
	logger.Info("digest dispatched", append(log, "transport", res.Transport, "dispatch_id", res.ID)...)

	p.unrecorded.Store(r.ID, decision.LocalDate)
	return p.record(ctx, r, decision.LocalDate, log)
}

func (p *DigestProcessor) record(ctx context.Context, r *model.Recipient, localDate string, log []any) (Outcome, error) {
	err := p.ledger.MarkDispatched(ctx, r.ID, localDate)
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrAlreadyDispatched):
		logger.Warn("already dispatched", log...)
	case errors.Is(err, repository.ErrRecipientNotFound):
		logger.Warn("recipient removed before the ledger write", log...)
	default:
		logger.Error("digest sent but ledger write failed", append(log, "error", err)...)
		return OutcomeFailed, fmt.Errorf("%w: %v", ErrLedgerWrite, err)
	}

	p.unrecorded.CompareAndDelete(r.ID, localDate)
	r.MarkDispatched(localDate)
	return OutcomeDispatched, nil
}

func (p *DigestProcessor) build(ctx context.Context, tenantID int64, displayName string, loc *time.Location, now time.Time) (*model.ReportDocument, error) {
	stats, err := p.aggregator.Aggregate(ctx, tenantID, now)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAggregation, err)
	}
	return report.Render(stats, model.ReportContext{DisplayName: displayName, Location: loc})
}

// Preview renders the digest a tenant would get right now without sending.
func (p *DigestProcessor) Preview(ctx context.Context, tenantID int64, displayName, timezone string, now time.Time) (*model.ReportDocument, error) {
	loc, err := previewLocation(timezone)
	if err != nil {
		return nil, err
	}
	return p.build(ctx, tenantID, displayName, loc, now)
}

// SendNow builds and sends a digest outside the schedule. It never reads or
// writes the ledger, so the next scheduled send still happens.
func (p *DigestProcessor) SendNow(ctx context.Context, req SendNowRequest, now time.Time) (*SendNowResult, error) {
	destination := strings.TrimSpace(req.Destination)
	if destination == "" {
		return nil, dispatch.ErrEmptyDestination
	}

	doc, err := p.Preview(ctx, req.TenantID, req.DisplayName, req.Timezone, now)
	if err != nil {
		return nil, err
	}

	res, err := p.client.Send(ctx, &dispatch.Message{
		ID:       p.newID(),
		TenantID: req.TenantID,
		To:       destination,
		ToName:   req.DisplayName,
		Subject:  doc.Subject,
		HTML:     doc.HTML,
	})
	if err != nil {
		return nil, err
	}

	logger.Info("on-demand digest dispatched", "tenant_id", req.TenantID, "transport", res.Transport, "dispatch_id", res.ID)
	return &SendNowResult{ID: res.ID, Subject: doc.Subject}, nil
}

func previewLocation(timezone string) (*time.Location, error) {
	if strings.TrimSpace(timezone) == "" {
		return time.UTC, nil
	}
	loc, err := model.LoadLocation(strings.TrimSpace(timezone))
	if err != nil {
		return nil, fmt.Errorf("%w: timezone %q: %v", model.ErrInvalidRecipient, timezone, err)
	}
	return loc, nil
}
