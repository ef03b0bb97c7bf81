package port

import (
	"context"

	"github.com/rl1809/topup-pins/internal/core/domain"
)

type EventPublisher interface {
	PublishPurchaseCompleted(ctx context.Context, event domain.PurchaseCompleted) error
}
