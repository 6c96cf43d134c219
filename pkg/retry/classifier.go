package retry

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"
)

// retryableMessages are case-insensitive substrings that mark an error as
// transient when no typed signal matches. Drivers and proxies are not always
// consistent about error types, so message matching is the fallback of last
// resort.
var retryableMessages = []string{
	"connection terminated",
	"server closed the connection",
	"timeout",
	"connection refused",
	"connection reset",
	"no such host",
	"broken pipe",
	"unexpected eof",
	"too many connections",
}

// IsRetryable reports whether an error is transient and the operation can be
// safely attempted again. It is a pure function over the error value.
//
// Two independent signals make an error retryable: transport-level fault
// codes (connection reset/refused, timeouts, unreachable networks, DNS
// hiccups, transient PostgreSQL SQLSTATEs) and a known set of message
// substrings. Everything else is fatal: syntax errors, constraint violations
// and permission errors are never retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	// A cancelled or expired context means the caller gave up; retrying
	// would only fight the deadline.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return isRetryablePgCode(pgErr.Code)
	}

	if isNetworkError(err) {
		return true
	}

	return matchesRetryableMessage(err.Error())
}

// isRetryablePgCode checks PostgreSQL SQLSTATE codes for transient
// conditions. See: https://www.postgresql.org/docs/current/errcodes-appendix.html
func isRetryablePgCode(code string) bool {
	// Class 08 - Connection Exception
	if strings.HasPrefix(code, "08") {
		return true
	}

	switch code {
	// Class 40 - Transaction Rollback (serialization failure, deadlock)
	case "40001", "40P01":
		return true
	// Class 53 - Insufficient Resources (too many connections)
	case "53300":
		return true
	// Class 57 - Operator Intervention (admin/crash shutdown, cannot connect now)
	case "57P01", "57P02", "57P03":
		return true
	}

	return false
}

func isNetworkError(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTemporary || dnsErr.IsTimeout || dnsErr.IsNotFound
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	switch {
	case errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ETIMEDOUT),
		errors.Is(err, syscall.EHOSTUNREACH),
		errors.Is(err, syscall.ENETUNREACH),
		errors.Is(err, syscall.EPIPE):
		return true
	}

	return false
}

func matchesRetryableMessage(msg string) bool {
	msg = strings.ToLower(msg)
	for _, pattern := range retryableMessages {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
