package repository

import (
	"time"

	"github.com/nimasrn/digest-dispatcher/internal/model"
)

type RecipientEntity struct {
	ID                      int64     `db:"id"                         gorm:"primaryKey;autoIncrement;column:id"`
	TenantID                int64     `db:"tenant_id"                  gorm:"column:tenant_id;not null;index"`
	UserID                  *int64    `db:"user_id"                    gorm:"column:user_id;index"`
	Enabled                 bool      `db:"enabled"                    gorm:"column:enabled;not null;default:true;index"`
	DeliveryTime            string    `db:"delivery_time"              gorm:"column:delivery_time;type:varchar(8);not null"`
	Weekdays                string    `db:"weekdays"                   gorm:"column:weekdays;not null"`
	Timezone                string    `db:"timezone"                   gorm:"column:timezone;not null"`
	Destination             string    `db:"destination"                gorm:"column:destination"`
	DisplayName             string    `db:"display_name"               gorm:"column:display_name"`
	LastDispatchedLocalDate *string   `db:"last_dispatched_local_date" gorm:"column:last_dispatched_local_date;type:varchar(10)"`
	CreatedAt               time.Time `db:"created_at"                 gorm:"column:created_at;autoCreateTime"`
	UpdatedAt               time.Time `db:"updated_at"                 gorm:"column:updated_at;autoUpdateTime"`
}

func (RecipientEntity) TableName() string {
	return "notification_recipients"
}

func toRecipientConfig(e *RecipientEntity) *model.RecipientConfig {
	if e == nil {
		return nil
	}
	return &model.RecipientConfig{
		ID:                      e.ID,
		TenantID:                e.TenantID,
		UserID:                  e.UserID,
		Enabled:                 e.Enabled,
		DeliveryTime:            e.DeliveryTime,
		Weekdays:                e.Weekdays,
		Timezone:                e.Timezone,
		Destination:             e.Destination,
		DisplayName:             e.DisplayName,
		LastDispatchedLocalDate: e.LastDispatchedLocalDate,
	}
}

func toRecipientConfigs(entities []*RecipientEntity) []*model.RecipientConfig {
	if entities == nil {
		return nil
	}
	configs := make([]*model.RecipientConfig, len(entities))
	for i, e := range entities {
		configs[i] = toRecipientConfig(e)
	}
	return configs
}
