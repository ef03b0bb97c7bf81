// Package events ships purchase events off the request path.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/rl1809/topup-pins/internal/core/domain"
)

const SubjectPurchaseCompleted = "purchase.completed"

// Connect dials NATS. An empty url means events are not published.
func Connect(url string, logger *zap.Logger) (*nats.Conn, error) {
	if url == "" {
		return nil, nil
	}

	nc, err := nats.Connect(url,
		nats.Name("topup-pins"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return nc, nil
}

type NATSPublisher struct {
	nc      *nats.Conn
	subject string
}

func NewNATSPublisher(nc *nats.Conn) *NATSPublisher {
	return &NATSPublisher{nc: nc, subject: SubjectPurchaseCompleted}
}

func (p *NATSPublisher) PublishPurchaseCompleted(ctx context.Context, event domain.PurchaseCompleted) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.nc.Publish(p.subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", p.subject, err)
	}
	return nil
}

// LogPublisher only logs events. It stands in when NATS is not configured.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) PublishPurchaseCompleted(_ context.Context, event domain.PurchaseCompleted) error {
	p.logger.Info("purchase completed",
		zap.String("transaction_id", event.TransactionID),
		zap.String("user_id", event.UserID),
		zap.Int("package_id", event.PackageID),
		zap.Int("obtained", event.Obtained),
		zap.String("status", string(event.Status)),
	)
	return nil
}
