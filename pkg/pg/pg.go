package pg

import (
	"context"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

type txContextKey string

const txKey txContextKey = "trx"

// DB splits reads and writes over two gorm handles. A transaction started
// with WithinTransaction is carried in the context and wins over both.
type DB struct {
	read  *gorm.DB
	write *gorm.DB
}

func Create(config Config, withDebug bool) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(config.DSN()),
		&gorm.Config{
			NamingStrategy: schema.NamingStrategy{
				SingularTable: true,
			},
			Logger: logger.Default.LogMode(logger.Warn),
		})
	if err != nil {
		return nil, err
	}

	if withDebug {
		db = db.Debug()
	}
	return db, nil
}

func CreateReadWrite(readConfig Config, writeConfig Config, withDebug bool) (*DB, error) {
	read, err := Create(readConfig, withDebug)
	if err != nil {
		return nil, fmt.Errorf("open read connection: %w", err)
	}
	write, err := Create(writeConfig, withDebug)
	if err != nil {
		return nil, fmt.Errorf("open write connection: %w", err)
	}
	return NewDB(read, write), nil
}

// NewDB wraps already opened handles. Passing the same handle twice is fine
// (tests use a single in-memory sqlite database).
func NewDB(read, write *gorm.DB) *DB {
	return &DB{read: read, write: write}
}

// WithinTransaction runs fn in a write transaction carried by ctx. A ctx
// already holding one joins it instead of opening a second.
func (r *DB) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey).(*gorm.DB); ok {
		return fn(ctx)
	}
	return r.write.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ctx = context.WithValue(ctx, txKey, tx)
		return fn(ctx)
	})
}

func (r *DB) Write(ctx context.Context) *gorm.DB {
	tx, ok := ctx.Value(txKey).(*gorm.DB)
	if ok {
		return tx
	}

	return r.write.WithContext(ctx)
}

func (r *DB) Read(ctx context.Context) *gorm.DB {
	tx, ok := ctx.Value(txKey).(*gorm.DB)
	if ok {
		return tx
	}

	return r.read.WithContext(ctx)
}

func (r *DB) Ping(ctx context.Context) error {
	sqlDB, err := r.read.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (r *DB) Close() error {
	var firstErr error
	for _, g := range []*gorm.DB{r.read, r.write} {
		sqlDB, err := g.DB()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := sqlDB.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
