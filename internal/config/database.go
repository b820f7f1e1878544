package config

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/IANDYI/progress-service/internal/core/domain"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// SchemaStatements renders the DDL for one table per registered condition.
// Statements are idempotent so they can run on every startup.
func SchemaStatements(registry *domain.Registry) []string {
	var stmts []string
	for _, d := range registry.Descriptors() {
		table := d.Table()

		cols := []string{
			"id BIGSERIAL PRIMARY KEY",
			fmt.Sprintf("condition_type TEXT NOT NULL DEFAULT '%s'", d.Type),
			"submitted_at TIMESTAMPTZ NOT NULL DEFAULT now()",
			"urgency_status TEXT NOT NULL DEFAULT 'low'",
		}
		for _, f := range registry.Fields(d) {
			col := f.Name + " " + columnType(f)
			if f.Required {
				col += " NOT NULL"
			}
			cols = append(cols, col)
		}

		stmts = append(stmts,
			fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", table, strings.Join(cols, ",\n\t")),
			fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_patient_id ON %s(patient_id)", table, table),
			fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_submitted_at ON %s(submitted_at)", table, table),
			fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_urgency_status ON %s(urgency_status)", table, table),
		)
	}
	return stmts
}

func columnType(f domain.FieldSpec) string {
	switch f.Kind {
	case domain.KindInteger:
		if f.Name == domain.FieldPatientID {
			return "BIGINT"
		}
		return "INTEGER"
	case domain.KindDecimal:
		return "DOUBLE PRECISION"
	case domain.KindText:
		if f.MaxLength > 0 {
			return fmt.Sprintf("VARCHAR(%d)", f.MaxLength)
		}
		return "TEXT"
	case domain.KindBool:
		return "BOOLEAN"
	case domain.KindDate:
		return "DATE"
	default:
		// numeric text, enums and JSON-encoded maps
		return "TEXT"
	}
}

// MigrateSchema creates any missing condition tables and their indexes
func MigrateSchema(ctx context.Context, db *sql.DB, registry *domain.Registry, logger *zap.Logger) error {
	for _, stmt := range SchemaStatements(registry) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}
	logger.Info("database schema migrated", zap.Int("conditions", len(registry.Descriptors())))
	return nil
}

// ConnectDatabase establishes a connection to PostgreSQL with retry logic
func ConnectDatabase(databaseURL string, maxRetries int, retryDelay time.Duration, logger *zap.Logger) (*sql.DB, error) {
	var db *sql.DB
	var err error

	for i := 0; i < maxRetries; i++ {
		db, err = sql.Open("postgres", databaseURL)
		if err != nil {
			logger.Warn("failed to open database connection",
				zap.Int("attempt", i+1), zap.Int("max_retries", maxRetries), zap.Error(err))
			if i < maxRetries-1 {
				time.Sleep(retryDelay)
				continue
			}
			return nil, fmt.Errorf("failed to connect to database after %d attempts: %w", maxRetries, err)
		}

		// Test the connection
		if err = db.Ping(); err != nil {
			logger.Warn("failed to ping database",
				zap.Int("attempt", i+1), zap.Int("max_retries", maxRetries), zap.Error(err))
			db.Close()
			if i < maxRetries-1 {
				time.Sleep(retryDelay)
				continue
			}
			return nil, fmt.Errorf("failed to ping database after %d attempts: %w", maxRetries, err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		logger.Info("database connection established")
		return db, nil
	}

	return nil, fmt.Errorf("failed to connect to database: %w", err)
}
