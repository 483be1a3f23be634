package connectors

import "time"

const (
	reconnectBaseDelay = 500 * time.Millisecond
	reconnectMaxDelay  = 30 * time.Second
)

// reconnectDelay doubles per attempt and is capped at reconnectMaxDelay.
func reconnectDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return reconnectBaseDelay
	}
	if attempt > 16 {
		return reconnectMaxDelay
	}
	d := reconnectBaseDelay * time.Duration(1<<attempt)
	if d > reconnectMaxDelay {
		return reconnectMaxDelay
	}
	return d
}
