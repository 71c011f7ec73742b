// Package drain replays queued mutations against the backend gateway. One
// pass, in queue order, stopping at the first failure: retry policy lives
// with whoever schedules the next pass, not here.
package drain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sitspots/outbox/internal/gateway"
	"github.com/sitspots/outbox/internal/outbox"
)

type Coordinator struct {
	queue   *outbox.Queue
	gateway gateway.Gateway
	logger  *slog.Logger
}

func NewCoordinator(queue *outbox.Queue, gw gateway.Gateway, logger *slog.Logger) (*Coordinator, error) {
	if queue == nil || gw == nil {
		return nil, outbox.ErrInvalidInput
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{queue: queue, gateway: gw, logger: logger}, nil
}

// DrainOnce replays the queue front-to-back while connectivity holds,
// removing each record after the backend accepts it. Returns the number of
// applied records; stops (without error-wrapping already-applied work) at
// the first backend failure.
func (c *Coordinator) DrainOnce(ctx context.Context) (int, error) {
	if !c.queue.HasWorkToDrain() {
		return 0, nil
	}
	applied := 0
	for _, record := range c.queue.List() {
		hydrated, err := c.queue.FetchHydrated(ctx, record.ID)
		if err != nil {
			if errors.Is(err, outbox.ErrNotFound) {
				// Orphan was purged during hydration; nothing to replay.
				continue
			}
			return applied, err
		}
		if err := c.apply(ctx, *hydrated); err != nil {
			c.logger.Warn("drain stopped at record",
				slog.String("id", record.ID),
				slog.String("kind", string(record.Kind)),
				slog.String("error", err.Error()))
			return applied, err
		}
		if err := c.queue.Remove(ctx, record.ID); err != nil {
			return applied, err
		}
		applied++
	}
	return applied, nil
}

func (c *Coordinator) apply(ctx context.Context, record outbox.MutationRecord) error {
	upload := gateway.AttachmentUpload{
		ActorID:   record.ActorID,
		ActorName: record.ActorName,
		Payload:   record.Payload,
		Width:     record.Width,
		Height:    record.Height,
	}
	switch record.Kind {
	case outbox.KindCreateResource:
		_, err := c.gateway.CreateResource(ctx, upload)
		return err
	case outbox.KindAddAttachment:
		_, err := c.gateway.AddAttachment(ctx, record.CollectionID, upload)
		return err
	case outbox.KindReplaceAttachment:
		_, err := c.gateway.ReplaceAttachment(ctx, record.AttachmentID, upload)
		return err
	case outbox.KindDeleteAttachment:
		return c.gateway.DeleteAttachment(ctx, record.AttachmentID, record.ActorID)
	default:
		return fmt.Errorf("%w: unknown mutation kind %q", outbox.ErrInvalidInput, record.Kind)
	}
}
