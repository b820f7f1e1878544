package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"

	"github.com/IANDYI/progress-service/internal/core/domain"
	"github.com/lib/pq"
	"github.com/sony/gobreaker"
)

// PostgreSQL error codes checked individually
const (
	pqUndefinedTable  = "42P01"
	pqUndefinedColumn = "42703"
)

// isTransient reports whether a driver error may succeed on retry
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", "53", "57": // connection exception, insufficient resources, operator intervention
			return true
		}
		return false
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// classifyError maps driver, breaker and context failures onto the domain storage errors,
// keeping the cause in the chain
func classifyError(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%s: %w: %w", op, domain.ErrDeadlineExceeded, err)
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return fmt.Errorf("%s: %w: %w", op, domain.ErrStorageUnavailable, err)
	case errors.As(err, &pqErr):
		switch {
		case pqErr.Code.Class() == "23":
			return fmt.Errorf("%s: %w: %w", op, domain.ErrIntegrityViolation, err)
		case pqErr.Code == pqUndefinedTable || pqErr.Code == pqUndefinedColumn:
			return fmt.Errorf("%s: %w: %w", op, domain.ErrSchemaDrift, err)
		case isTransient(err):
			return fmt.Errorf("%s: %w: %w", op, domain.ErrStorageUnavailable, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	case isTransient(err):
		return fmt.Errorf("%s: %w: %w", op, domain.ErrStorageUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
