package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/avast/retry-go"
	"github.com/protomem/attendance-tracker/assets"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"

	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

const (
	_defaultTimeout  = 3 * time.Second
	_connectAttempts = 5
	_connectDelay    = time.Second
)

// Querier is satisfied by both *sqlx.DB and *sqlx.Tx.
type Querier interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}

type DB struct {
	*sqlx.DB
	Builder squirrel.StatementBuilderType
	Driver  string
}

func New(logger *slog.Logger, driver, dsn string, automigrate bool) (*DB, error) {
	logger = logger.With("module", "database", "driver", driver)

	var (
		driverName, connDSN, migrateURL string
		placeholder                     squirrel.PlaceholderFormat
	)
	switch driver {
	case DriverPostgres:
		dsn = dsn + "?sslmode=disable" // disable SSL
		driverName, connDSN, migrateURL = "pgx", "postgres://"+dsn, "postgres://"+dsn
		placeholder = squirrel.Dollar
	case DriverSQLite:
		driverName, connDSN, migrateURL = "sqlite3", sqliteDSN(dsn), "sqlite3://"+dsn
		placeholder = squirrel.Question
	default:
		return nil, fmt.Errorf("database: unsupported driver %q", driver)
	}

	var db *sqlx.DB
	err := retry.Do(
		func() error {
			ctx, cancel := context.WithTimeout(context.Background(), _defaultTimeout)
			defer cancel()

			var err error
			db, err = sqlx.ConnectContext(ctx, driverName, connDSN)
			return err
		},
		retry.Attempts(_connectAttempts),
		retry.Delay(_connectDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("failed to connect", "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("database: connect: %w", err)
	}

	if driver == DriverSQLite {
		// SQLite allows a single writer; one connection keeps transactions simple.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(25)
		db.SetConnMaxIdleTime(5 * time.Minute)
		db.SetConnMaxLifetime(2 * time.Hour)
	}

	if automigrate {
		if err := runMigrations(driver, migrateURL); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("database: migrate: %w", err)
		}
		logger.Debug("migrations applied")
	}

	logger.Info("connected")

	return &DB{
		DB:      db,
		Builder: squirrel.StatementBuilder.PlaceholderFormat(placeholder),
		Driver:  driver,
	}, nil
}

func runMigrations(driver, url string) error {
	iofsDriver, err := iofs.New(assets.EmbeddedFiles, "migrations/"+driver)
	if err != nil {
		return err
	}

	migrator, err := migrate.NewWithSourceInstance("iofs", iofsDriver, url)
	if err != nil {
		return err
	}
	defer migrator.Close()

	err = migrator.Up()
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		return nil
	case err != nil:
		return err
	}

	return nil
}

func sqliteDSN(dsn string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_foreign_keys=on&_busy_timeout=5000"
}

// InTx runs fn inside a transaction, committing only if fn returns nil.
func (db *DB) InTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}

	return tx.Commit()
}
