package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"campus-order-bot/internal/db/migrations"

	_ "github.com/jackc/pgx/v5/stdlib"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	ErrNotFound           = errors.New("record not found")
	ErrDuplicate          = errors.New("record already exists")
	ErrDeliveryDateInPast = errors.New("delivery date is in the past")
)

// Open применяет миграции и открывает gorm поверх того же пула соединений.
func Open(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, errors.New("DATABASE_URL not set")
	}
	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	m, err := migrations.New(sqlDB)
	if err == nil {
		_, err = m.Up(context.Background())
	}
	if err != nil {
		sqlDB.Close()
		return nil, err
	}

	gdb, err := openGorm(sqlDB)
	if err != nil {
		sqlDB.Close()
		return nil, err
	}
	return gdb, nil
}

func openGorm(sqlDB *sql.DB) (*gorm.DB, error) {
	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	return gdb, nil
}

// SchemaVersion возвращает применённую и последнюю встроенную версии схемы.
func SchemaVersion(ctx context.Context, gdb *gorm.DB) (current, latest int64, err error) {
	sqlDB, err := gdb.DB()
	if err != nil {
		return 0, 0, err
	}
	m, err := migrations.New(sqlDB)
	if err != nil {
		return 0, 0, err
	}
	current, err = m.Version(ctx)
	return current, m.Latest(), err
}

// translate приводит ошибки gorm к ошибкам пакета.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicate
	default:
		return err
	}
}
