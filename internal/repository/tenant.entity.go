package repository

import (
	"time"

	"github.com/nimasrn/digest-dispatcher/internal/model"
)

type TenantEntity struct {
	ID        int64     `db:"id"         gorm:"primaryKey;autoIncrement;column:id"`
	Name      string    `db:"name"       gorm:"column:name;not null"`
	Active    bool      `db:"active"     gorm:"column:active;not null;default:true"`
	CreatedAt time.Time `db:"created_at" gorm:"column:created_at;autoCreateTime"`
}

func (TenantEntity) TableName() string {
	return "tenants"
}

type UserEntity struct {
	ID        int64     `db:"id"         gorm:"primaryKey;autoIncrement;column:id"`
	TenantID  int64     `db:"tenant_id"  gorm:"column:tenant_id;not null;index"`
	Email     string    `db:"email"      gorm:"column:email;not null"`
	Active    bool      `db:"active"     gorm:"column:active;not null;default:true"`
	CreatedAt time.Time `db:"created_at" gorm:"column:created_at;autoCreateTime"`
}

func (UserEntity) TableName() string {
	return "users"
}

func toTenantModel(e *TenantEntity) *model.Tenant {
	if e == nil {
		return nil
	}
	return &model.Tenant{
		ID:     e.ID,
		Name:   e.Name,
		Active: e.Active,
	}
}
