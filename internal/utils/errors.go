package utils

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"
	"strings"

	"github.com/lib/pq"
	"github.com/redis/go-redis/v9"
)

// recoverableSQLStates are Postgres error classes worth retrying:
// connection exceptions, serialization/deadlock, insufficient resources,
// operator intervention (e.g. admin shutdown).
var recoverableSQLStates = []string{"08", "40", "53", "57"}

// IsRecoverableError reports whether err is a transient infrastructure error
// that may succeed when retried.
func IsRecoverableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, driver.ErrBadConn) {
		return true
	}
	if errors.Is(err, redis.ErrClosed) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		code := string(pqErr.Code)
		for _, class := range recoverableSQLStates {
			if strings.HasPrefix(code, class) {
				return true
			}
		}
		return false
	}

	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset")
}
