package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// StartSendSubscriber runs execute for every SendJob published on topic.
// Malformed jobs are dropped; an execute error hands the job back to the
// queue for redelivery.
func StartSendSubscriber(
	q Queue,
	topic string,
	timeout time.Duration,
	execute func(ctx context.Context, itemID uuid.UUID) error,
	logger *zap.Logger,
) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	return q.Subscribe(topic, func(payload any) error {
		job, err := DecodeSendJob(payload)
		if err != nil {
			logger.Warn("dropping invalid send job", zap.Error(err))
			return nil
		}

		ctx := context.Background()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		if err := execute(ctx, job.QueueItemID); err != nil {
			logger.Error("send job failed",
				zap.String("queue_item_id", job.QueueItemID.String()), zap.Error(err))
			return err
		}
		return nil
	})
}
