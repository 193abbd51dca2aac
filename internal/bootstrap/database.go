package bootstrap

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/extra/bundebug"

	"github.com/GoDuraStore/go-dura-store/env"
	"github.com/GoDuraStore/go-dura-store/models"
)

// InitDatabase creates a Bun database connection for the record store.
func InitDatabase(opts models.DatabaseConfig, logLevel string) (bun.IDB, error) {
	if opts.Provider == "" {
		return nil, fmt.Errorf("database provider must be specified")
	}

	databaseURL := os.Getenv(env.EnvDatabaseURL)
	if databaseURL == "" {
		if opts.URL == "" {
			return nil, fmt.Errorf("database connection string must be specified via %s or config", env.EnvDatabaseURL)
		}
		databaseURL = opts.URL
	}

	var (
		sqlDB *sql.DB
		err   error
	)

	switch opts.Provider {
	case "sqlite":
		if !filepath.IsAbs(databaseURL) && databaseURL != ":memory:" {
			cwd, _ := os.Getwd()
			databaseURL = filepath.Join(cwd, databaseURL)
		}

		if databaseURL != ":memory:" {
			dbDir := filepath.Dir(databaseURL)
			if err := os.MkdirAll(dbDir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}

		sqlDB, err = sql.Open("sqlite3", databaseURL)
		if err != nil {
			return nil, err
		}

		db := bun.NewDB(sqlDB, sqlitedialect.New())
		configurePool(sqlDB, opts)
		enableDebugging(db, logLevel)
		return db, nil

	case "postgres":
		sqlDB, err = sql.Open("postgres", databaseURL)
		if err != nil {
			return nil, err
		}

		db := bun.NewDB(sqlDB, pgdialect.New())
		configurePool(sqlDB, opts)
		enableDebugging(db, logLevel)
		return db, nil

	case "mysql":
		sqlDB, err = sql.Open("mysql", databaseURL)
		if err != nil {
			return nil, err
		}

		db := bun.NewDB(sqlDB, mysqldialect.New())
		configurePool(sqlDB, opts)
		enableDebugging(db, logLevel)
		return db, nil

	default:
		return nil, fmt.Errorf("unsupported database provider: %s", opts.Provider)
	}
}

func configurePool(sqlDB *sql.DB, opts models.DatabaseConfig) {
	numCPU := runtime.NumCPU()

	maxOpenConns := opts.MaxOpenConns
	if maxOpenConns <= 0 {
		maxOpenConns = numCPU * 4
	}
	sqlDB.SetMaxOpenConns(maxOpenConns)

	maxIdleConns := opts.MaxIdleConns
	if maxIdleConns <= 0 {
		maxIdleConns = numCPU * 2
	}
	sqlDB.SetMaxIdleConns(maxIdleConns)

	if opts.ConnMaxLifetime != 0 {
		sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}
}

func enableDebugging(db *bun.DB, logLevel string) {
	if logLevel == "debug" {
		db.AddQueryHook(bundebug.NewQueryHook(
			bundebug.WithVerbose(true),
		))
	}
}
