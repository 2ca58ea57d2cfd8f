package feed

import (
	"context"

	"go.uber.org/zap"

	"github.com/transfa/donation-service/internal/domain"
	"github.com/transfa/donation-service/pkg/rabbitmq"
)

// RabbitMQSource signals a change for every donation.recorded event on the exchange.
// Each subscription consumes from its own private queue, so every instance sees every
// event.
type RabbitMQSource struct {
	URL      string
	Exchange string
	Logger   *zap.Logger
}

// Subscribe opens a consumer and blocks until ctx is cancelled or the connection drops.
func (s *RabbitMQSource) Subscribe(ctx context.Context, onChange func()) error {
	consumer, err := rabbitmq.NewConsumer(s.URL, s.Logger)
	if err != nil {
		return err
	}
	defer consumer.Close()

	return consumer.Run(ctx, s.Exchange, "", map[string]rabbitmq.Handler{
		domain.RoutingKeyDonationRecorded: func([]byte) bool {
			onChange()
			return true
		},
	})
}
