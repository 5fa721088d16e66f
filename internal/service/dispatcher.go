package service

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/outreach-engine/internal/errors"
	applog "github.com/unclebandit/outreach-engine/internal/logger"
	"github.com/unclebandit/outreach-engine/internal/queue"
	"github.com/unclebandit/outreach-engine/internal/repository"
)

type DispatchResult struct {
	Due       int         `json:"due"`
	Published int         `json:"published"`
	Failed    int         `json:"failed"`
	ItemIDs   []uuid.UUID `json:"item_ids"`
}

// Dispatcher hands due items to workers through the broker. It does not
// claim them; the worker's Execute does, so a job published twice runs once.
type Dispatcher struct {
	Queue  repository.SendQueueRepositoryInterface
	Broker queue.Queue
	Topic  string
	Clock  Clock
	Logger *zap.Logger
}

func (d *Dispatcher) Dispatch(ctx context.Context, limit int) (*DispatchResult, error) {
	ids, err := d.Queue.ListDue(ctx, d.Clock.Now(), limit)
	if err != nil {
		return nil, appErrors.Wrap(err, "list due items")
	}

	logger := applog.OrNop(d.Logger)

	result := &DispatchResult{Due: len(ids), ItemIDs: []uuid.UUID{}}
	for _, id := range ids {
		if err := d.Broker.Publish(d.Topic, queue.SendJob{QueueItemID: id}); err != nil {
			logger.Warn("failed to publish send job", zap.String("item_id", id.String()), zap.Error(err))
			result.Failed++
			continue
		}
		result.Published++
		result.ItemIDs = append(result.ItemIDs, id)
	}

	logger.Info("dispatch complete", zap.Int("due", result.Due), zap.Int("published", result.Published))
	return result, nil
}
