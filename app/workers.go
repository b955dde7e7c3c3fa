package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/evntfy/evntfy/core/queue"
	"github.com/evntfy/evntfy/domain/event"
	"github.com/evntfy/evntfy/ports"
)

// PersistHandler returns the queue handler that writes event batches to the
// durable store.
func PersistHandler(store ports.EventStore, logger zerolog.Logger) queue.Handler {
	log := logger.With().Str("worker", "persist").Logger()
	return func(ctx context.Context, payload any) error {
		batch, ok := payload.([]event.Event)
		if !ok {
			return fmt.Errorf("unexpected persist payload %T", payload)
		}
		if err := store.InsertBatch(ctx, batch); err != nil {
			return fmt.Errorf("insert batch of %d: %w", len(batch), err)
		}
		log.Debug().Int("events", len(batch)).Msg("batch persisted")
		return nil
	}
}

// BroadcastHandler returns the queue handler that fans event batches out to
// live subscribers. Delivery is fire-and-forget, so this handler never
// retries.
func BroadcastHandler(b ports.Broadcaster) queue.Handler {
	return func(_ context.Context, payload any) error {
		job, ok := payload.(BroadcastJob)
		if !ok {
			return fmt.Errorf("unexpected broadcast payload %T", payload)
		}
		b.PushToSubscriber(job.OwnerID, job.Events)
		return nil
	}
}

// UsageSyncHandler returns the queue handler that mirrors fast counter
// counts to the durable key store.
func UsageSyncHandler(keys ports.KeyStore) queue.Handler {
	return func(ctx context.Context, payload any) error {
		job, ok := payload.(UsageSyncJob)
		if !ok {
			return fmt.Errorf("unexpected usage-sync payload %T", payload)
		}
		if err := keys.UpdateUsage(ctx, job.Key, job.UsageCount); err != nil {
			return fmt.Errorf("mirror usage for %s: %w", job.Key, err)
		}
		return nil
	}
}
