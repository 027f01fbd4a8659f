package engine

import (
	"context"
	"fmt"

	"fieldq/internal/logging"
	"fieldq/internal/notify"
	"fieldq/internal/outbox"
)

// Enqueue durably stores a debrief for the meeting, superseding any
// outstanding item for the same meeting, and nudges the dispatch loop. The
// call returns only after the item is committed; a crash immediately after
// cannot lose it.
func (e *Engine) Enqueue(ctx context.Context, meetingID string, payload []byte) (*outbox.Item, error) {
	prior, err := e.store.ActiveForMeeting(ctx, meetingID)
	if err != nil {
		return nil, fmt.Errorf("check prior item: %w", err)
	}

	item, err := e.store.Enqueue(ctx, meetingID, payload)
	if err != nil {
		return nil, err
	}

	pending := e.pendingCount(ctx)
	if prior != nil {
		e.publish(notify.Event{
			Kind:         notify.KindSuperseded,
			ItemID:       prior.ID,
			MeetingID:    meetingID,
			Status:       prior.Status,
			PendingCount: pending,
		})
	}
	e.publish(notify.Event{
		Kind:         notify.KindEnqueued,
		ItemID:       item.ID,
		MeetingID:    meetingID,
		Status:       item.Status,
		PendingCount: pending,
	})

	e.logger.Info("debrief enqueued",
		logging.String(logging.FieldEventType, "debrief_enqueued"),
		logging.String(logging.FieldItemID, item.ID),
		logging.String(logging.FieldMeetingID, meetingID),
		logging.Bool("superseded_prior", prior != nil),
	)

	e.Wake()
	return item, nil
}

// RetryFailed makes failed items eligible for immediate dispatch. With no ids
// every failed item, terminal ones included, re-enters the queue.
func (e *Engine) RetryFailed(ctx context.Context, ids ...string) (int64, error) {
	count, err := e.store.RetryFailed(ctx, ids...)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		e.publish(notify.Event{
			Kind:         notify.KindRetrying,
			PendingCount: e.pendingCount(ctx),
		})
		e.logger.Info("failed items marked for retry",
			logging.String(logging.FieldEventType, "retry_requested"),
			logging.Int64("count", count),
		)
		e.Wake()
	}
	return count, nil
}

// Discard removes an item that is not mid-attempt. Returns false when the
// item is currently submitting or does not exist.
func (e *Engine) Discard(ctx context.Context, id string) (bool, error) {
	item, err := e.store.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	if item == nil {
		return false, nil
	}

	removed, err := e.store.Remove(ctx, id)
	if err != nil || !removed {
		return removed, err
	}

	e.publish(notify.Event{
		Kind:         notify.KindRemoved,
		ItemID:       item.ID,
		MeetingID:    item.MeetingID,
		Status:       item.Status,
		PendingCount: e.pendingCount(ctx),
	})
	return true, nil
}

// Items lists queue items, optionally filtered by status.
func (e *Engine) Items(ctx context.Context, statuses ...outbox.Status) ([]*outbox.Item, error) {
	return e.store.List(ctx, statuses...)
}

// Item fetches a single queue item by identifier.
func (e *Engine) Item(ctx context.Context, id string) (*outbox.Item, error) {
	return e.store.GetByID(ctx, id)
}

// PendingCount reports how many debriefs still await delivery.
func (e *Engine) PendingCount(ctx context.Context) (int, error) {
	return e.store.PendingCount(ctx)
}

// Health aggregates queue counts for diagnostics.
func (e *Engine) Health(ctx context.Context) (outbox.HealthSummary, error) {
	return e.store.Health(ctx)
}

func (e *Engine) pendingCount(ctx context.Context) int {
	count, err := e.store.PendingCount(ctx)
	if err != nil {
		e.logger.Warn("pending count unavailable", logging.Error(err))
		return -1
	}
	return count
}

func (e *Engine) publish(event notify.Event) {
	e.hub.Publish(event)
}
