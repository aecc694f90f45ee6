package app

import (
	"time"

	"github.com/iho/botledger/internal/infrastructure/eventpublisher"
)

const streamMaxLen = 100000

// NewEventPublisher relays the outbox to a Redis stream, or to the log when
// Redis is disabled.
func (a *App) NewEventPublisher(interval, retention time.Duration) *eventpublisher.EventPublisher {
	var publisher eventpublisher.Publisher = eventpublisher.NewLogPublisher(a.Logger)
	if a.Redis != nil {
		publisher = eventpublisher.NewStreamPublisher(a.Redis, a.Identity, streamMaxLen)
	}

	return eventpublisher.NewEventPublisher(eventpublisher.Config{
		OutboxRepo: a.OutboxRepo,
		Publisher:  publisher,
		Logger:     a.Logger,
		Interval:   interval,
		Retention:  retention,
	})
}
