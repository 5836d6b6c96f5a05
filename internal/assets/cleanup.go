package assets

import (
	"context"
	"errors"
	"fmt"

	"toko-catalog/pkg/rabbitmq"

	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

// CleanupWorker deletes remote assets queued as orphans.
type CleanupWorker struct {
	store Store
	log   *zap.Logger
}

// NewCleanupWorker creates a worker deleting queued orphans from store.
func NewCleanupWorker(store Store, log *zap.Logger) *CleanupWorker {
	if log == nil {
		log = zap.NewNop()
	}
	return &CleanupWorker{store: store, log: log.Named("asset-cleanup")}
}

// HandleDelivery is the queue consumer callback. Undecodable bodies are dropped.
func (w *CleanupWorker) HandleDelivery(d amqp.Delivery) error {
	msg, err := rabbitmq.DecodeAssetCleanup(d.Body)
	if err != nil {
		w.log.Error("dropping malformed cleanup message", zap.Error(err))
		return nil
	}
	return w.Process(context.Background(), msg)
}

// Process deletes every id in msg, returning an error if any of them is still present.
func (w *CleanupWorker) Process(ctx context.Context, msg rabbitmq.AssetCleanupMessage) error {
	var errs []error
	for _, id := range msg.ExternalIDs {
		if err := w.store.Delete(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	w.log.Info("orphaned assets deleted",
		zap.String("reason", msg.Reason), zap.String("product_id", msg.ProductID), zap.Int("count", len(msg.ExternalIDs)))
	return nil
}
