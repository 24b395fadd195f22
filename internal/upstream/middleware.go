package upstream

import (
	"time"

	"github.com/gotd/contrib/middleware/floodwait"
	"github.com/gotd/contrib/middleware/ratelimit"
	"github.com/gotd/td/telegram"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// floodMiddleware returns the same flood-wait + rate-limit stack the teacher
// wires into every bot worker, reused here for every user client the broker
// constructs.
func floodMiddleware(log *zap.Logger) []telegram.Middleware {
	waiter := floodwait.NewSimpleWaiter().WithMaxRetries(10)
	limiter := ratelimit.New(rate.Every(time.Millisecond*33), 15)
	return []telegram.Middleware{
		waiter,
		limiter,
	}
}
