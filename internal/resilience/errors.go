package resilience

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sells-group/crimesafe/internal/model"
)

// IsTransient reports whether err is worth retrying: an ErrStoreUnavailable
// anywhere in the chain, a pgconn error that is safe to retry or timed out, a
// network timeout or reset, or a busy/locked SQLite database.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, model.ErrStoreUnavailable) {
		return true
	}
	return IsTransientDriverError(err)
}

// IsTransientDriverError classifies a raw driver error, ignoring the
// ErrStoreUnavailable sentinel. Stores use it to decide when to wrap an error
// as ErrStoreUnavailable.
func IsTransientDriverError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08 connection exceptions, 53 insufficient resources,
		// 57P01..57P03 admin shutdown / cannot connect now.
		return strings.HasPrefix(pgErr.Code, "08") ||
			strings.HasPrefix(pgErr.Code, "53") ||
			pgErr.Code == "57P01" || pgErr.Code == "57P02" || pgErr.Code == "57P03" ||
			pgErr.Code == "40001" || pgErr.Code == "40P01"
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"connection reset by peer",
		"broken pipe",
		"i/o timeout",
		"database is locked",
		"sqlite_busy",
		"database table is locked",
		"too many connections",
		"conn closed",
	}
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
