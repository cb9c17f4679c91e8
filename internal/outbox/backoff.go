package outbox

import (
	"strconv"
	"time"

	"github.com/gofrs/uuid/v5"
)

// Backoff defaults.
const (
	DefaultBaseDelay = time.Second
	DefaultMaxDelay  = 60 * time.Second
)

// Delay returns base·2^attempts capped at max.
func Delay(attempts int, base, max time.Duration) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	d := base
	for i := 0; i < attempts; i++ {
		d *= 2
		if d >= max || d <= 0 {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// NewIdempotencyKey builds clientID-epochMillis-suffix.
func NewIdempotencyKey(clientID string, at time.Time) string {
	suffix := uuid.Must(uuid.NewV4()).String()[:8]
	return clientID + "-" + strconv.FormatInt(at.UnixMilli(), 10) + "-" + suffix
}
