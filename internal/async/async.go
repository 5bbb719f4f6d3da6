// Package async guards clawmon's background goroutines (watch loops, poll
// tickers, websocket writers) against panics taking down the monitor.
package async

import (
	"runtime/debug"

	"clawmon/internal/logging"
)

// Go runs fn in a goroutine that logs panics instead of crashing the process.
// A watcher losing one tick to a panic is recoverable; the monitor dying is not.
func Go(logger logging.Logger, name string, fn func()) {
	logger = logging.OrNop(logger)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("goroutine panic [%s]: %v, stack: %s", name, r, debug.Stack())
			}
		}()
		fn()
	}()
}
