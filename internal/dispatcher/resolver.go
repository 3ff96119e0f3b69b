package dispatcher

import (
	"context"
	"fmt"

	"github.com/nimasrn/digest-dispatcher/internal/model"
	"github.com/nimasrn/digest-dispatcher/pkg/logger"
)

type RecipientStore interface {
	ListEnabled(ctx context.Context) ([]*model.RecipientConfig, error)
	GetByID(ctx context.Context, id int64) (*model.RecipientConfig, error)
	MarkDispatched(ctx context.Context, id int64, localDate string) error
}

// Resolver loads the enabled subscriptions and validates each one. A bad
// row is logged and skipped, it never fails the pass.
type Resolver struct {
	store RecipientStore
}

func NewResolver(store RecipientStore) *Resolver {
	return &Resolver{store: store}
}

// Resolve returns the valid recipients and the number of rows skipped.
func (r *Resolver) Resolve(ctx context.Context) ([]*model.Recipient, int, error) {
	configs, err := r.store.ListEnabled(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("list enabled recipients: %w", err)
	}

	recipients := make([]*model.Recipient, 0, len(configs))
	invalid := 0
	for _, cfg := range configs {
		recipient, err := cfg.Parse()
		if err != nil {
			invalid++
			logger.Warn("skipping recipient with invalid configuration", "recipient_id", cfg.ID, "tenant_id", cfg.TenantID, "error", err)
			continue
		}
		recipients = append(recipients, recipient)
	}
	return recipients, invalid, nil
}
