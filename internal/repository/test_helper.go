package repository

import (
	"testing"

	"github.com/nimasrn/digest-dispatcher/pkg/pg"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// AllEntities lists every table the dispatcher reads or writes, in
// dependency order.
func AllEntities() []any {
	return []any{
		&TenantEntity{},
		&UserEntity{},
		&RecipientEntity{},
		&AppointmentEntity{},
		&AppointmentStatusChangeEntity{},
		&CallAttemptEntity{},
	}
}

type TestDB struct {
	*pg.DB
	Raw *gorm.DB
}

// NewTestDB opens a private in-memory sqlite database with the full schema.
func NewTestDB(t testing.TB) *TestDB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// every :memory: connection is its own database
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(AllEntities()...))

	return &TestDB{
		DB:  pg.NewDB(db, db),
		Raw: db,
	}
}

func (d *TestDB) Insert(t testing.TB, values ...any) {
	t.Helper()
	for _, v := range values {
		require.NoError(t, d.Raw.Create(v).Error)
	}
}
