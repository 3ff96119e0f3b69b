package repository

import (
	"context"
	"errors"
	"time"

	"github.com/nimasrn/digest-dispatcher/internal/model"
	"github.com/nimasrn/digest-dispatcher/pkg/pg"
	"gorm.io/gorm"
)

var (
	ErrRecipientNotFound = errors.New("recipient not found")
	ErrAlreadyDispatched = errors.New("recipient already dispatched for this local date")
)

type RecipientRepository struct {
	*pg.DB
}

func NewRecipientRepository(db *pg.DB) *RecipientRepository {
	return &RecipientRepository{
		db,
	}
}

// ListEnabled returns the enabled subscriptions of active tenants. User
// scoped subscriptions also need an active user. No validation happens here.
func (r *RecipientRepository) ListEnabled(ctx context.Context) ([]*model.RecipientConfig, error) {
	var entities []*RecipientEntity
	err := r.Read(ctx).
		Table(RecipientEntity{}.TableName()+" AS r").
		Select("r.*").
		Joins("JOIN tenants t ON t.id = r.tenant_id AND t.active = ?", true).
		Joins("LEFT JOIN users u ON u.id = r.user_id").
		Where("r.enabled = ?", true).
		Where("(r.user_id IS NULL OR u.active = ?)", true).
		Order("r.id ASC").
		Find(&entities).
		Error
	if err != nil {
		return nil, err
	}
	return toRecipientConfigs(entities), nil
}

func (r *RecipientRepository) GetByID(ctx context.Context, id int64) (*model.RecipientConfig, error) {
	var entity RecipientEntity
	err := r.Read(ctx).Where("id = ?", id).First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecipientNotFound
		}
		return nil, err
	}
	return toRecipientConfig(&entity), nil
}

// MarkDispatched records localDate as the last successful dispatch. It is a
// compare-and-set: a row that already holds localDate is left untouched and
// ErrAlreadyDispatched is returned, so two writers cannot both claim a day.
func (r *RecipientRepository) MarkDispatched(ctx context.Context, id int64, localDate string) error {
	return r.WithinTransaction(ctx, func(ctx context.Context) error {
		result := r.Write(ctx).
			Model(&RecipientEntity{}).
			Where("id = ?", id).
			Where("(last_dispatched_local_date IS NULL OR last_dispatched_local_date <> ?)", localDate).
			Updates(map[string]any{
				"last_dispatched_local_date": localDate,
				"updated_at":                 time.Now().UTC(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected > 0 {
			return nil
		}

		var count int64
		if err := r.Write(ctx).Model(&RecipientEntity{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrRecipientNotFound
		}
		return ErrAlreadyDispatched
	})
}
