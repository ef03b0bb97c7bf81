package events

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/topup-pins/internal/core/domain"
	"github.com/rl1809/topup-pins/internal/port"
)

const publishTimeout = 5 * time.Second

// WorkerLoop drains the queue until it is closed, publishing each event.
// Publish failures are logged and the event is dropped.
func WorkerLoop(id int, queue <-chan domain.PurchaseCompleted, pub port.EventPublisher, logger *zap.Logger) {
	for ev := range queue {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)

		if err := pub.PublishPurchaseCompleted(ctx, ev); err != nil {
			logger.Error("failed to publish purchase event",
				zap.Int("worker", id),
				zap.String("transaction_id", ev.TransactionID),
				zap.Error(err),
			)
		} else {
			logger.Debug("purchase event published",
				zap.Int("worker", id), zap.String("transaction_id", ev.TransactionID))
		}

		cancel()
	}
}
