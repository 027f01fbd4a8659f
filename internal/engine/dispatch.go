package engine

import (
	"context"
	"time"

	"fieldq/internal/delivery"
	"fieldq/internal/logging"
	"fieldq/internal/notify"
	"fieldq/internal/outbox"
)

const pruneCheckInterval = 10 * time.Minute

// dispatchLoop is the single goroutine that claims eligible items and hands
// them to attempt goroutines. Claims happen here, serially, so concurrency
// stays bounded by the semaphore and no item is ever claimed twice.
func (e *Engine) dispatchLoop(ctx context.Context) {
	defer e.wg.Done()

	// Semaphore bounding concurrent delivery attempts.
	sem := make(chan struct{}, e.maxInFlight)

	for {
		if ctx.Err() != nil {
			return
		}

		if !e.monitor.Online() {
			// Offline: nothing to do until connectivity returns or an
			// explicit wake (enqueue, manual retry) arrives.
			if !e.idle(ctx, 0) {
				return
			}
			continue
		}

		item, err := e.store.NextEligible(ctx, time.Now().UTC())
		if err != nil {
			e.logger.Error("failed to query eligible items", logging.Error(err))
			if !e.idle(ctx, e.pollInterval) {
				return
			}
			continue
		}

		if item == nil {
			e.maybePrune(ctx)
			if !e.idle(ctx, e.sleepUntilNextAttempt(ctx)) {
				return
			}
			continue
		}

		// Reserve an attempt slot before claiming so the claim only
		// happens when the attempt can start immediately.
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return
		}

		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				<-sem
				return
			}
		}

		claimed, err := e.store.MarkSubmitting(ctx, item.ID)
		if err != nil {
			<-sem
			e.logger.Error("failed to claim item",
				logging.Error(err),
				logging.String(logging.FieldItemID, item.ID),
			)
			if !e.idle(ctx, e.pollInterval) {
				return
			}
			continue
		}
		if !claimed {
			// Superseded or discarded between the query and the claim.
			<-sem
			continue
		}

		e.publish(notify.Event{
			Kind:         notify.KindSubmitting,
			ItemID:       item.ID,
			MeetingID:    item.MeetingID,
			Status:       outbox.StatusSubmitting,
			PendingCount: e.pendingCount(ctx),
		})

		attempts := item.Attempts + 1
		e.wg.Add(1)
		go func(item *outbox.Item, attempts int) {
			defer e.wg.Done()
			defer func() { <-sem }()
			e.attempt(ctx, item, attempts)
			e.Wake()
		}(item, attempts)
	}
}

// idle blocks until a wake arrives, the timeout elapses, or the context ends.
// A zero timeout waits on wake alone. Returns false when the loop should
// exit.
func (e *Engine) idle(ctx context.Context, timeout time.Duration) bool {
	if timeout <= 0 {
		select {
		case <-ctx.Done():
			return false
		case <-e.wake:
			return true
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-e.wake:
		return true
	case <-timer.C:
		return true
	}
}

// sleepUntilNextAttempt sizes the idle wait: when a retry is scheduled sooner
// than the poll interval, wake up for it instead of waiting the full poll.
func (e *Engine) sleepUntilNextAttempt(ctx context.Context) time.Duration {
	next, err := e.store.NextAttemptTime(ctx)
	if err != nil || next == nil {
		return e.pollInterval
	}
	until := time.Until(*next)
	if until <= 0 {
		return time.Millisecond
	}
	if until < e.pollInterval {
		return until
	}
	return e.pollInterval
}

// attempt performs one delivery attempt for a claimed item. Every outcome is
// committed through a status-guarded update, so a result that arrives after
// the item was superseded changes nothing.
func (e *Engine) attempt(ctx context.Context, item *outbox.Item, attempts int) {
	attemptCtx, cancel := context.WithTimeout(ctx, e.requestTimeout)
	err := e.client.Submit(attemptCtx, item)
	cancel()

	// Commits below use the background context: a shutdown mid-attempt
	// must not lose the outcome we already have.
	commitCtx, commitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer commitCancel()

	if err == nil {
		applied, markErr := e.store.MarkSubmitted(commitCtx, item.ID)
		if markErr != nil {
			e.logger.Error("failed to record submission",
				logging.Error(markErr),
				logging.String(logging.FieldItemID, item.ID),
			)
			return
		}
		if !applied {
			e.logger.Info("discarded stale success for superseded item",
				logging.String(logging.FieldEventType, "stale_result_discarded"),
				logging.String(logging.FieldItemID, item.ID),
			)
			return
		}
		e.publish(notify.Event{
			Kind:         notify.KindSubmitted,
			ItemID:       item.ID,
			MeetingID:    item.MeetingID,
			Status:       outbox.StatusSubmitted,
			PendingCount: e.pendingCount(commitCtx),
		})
		e.logger.Info("debrief submitted",
			logging.String(logging.FieldEventType, "debrief_submitted"),
			logging.String(logging.FieldItemID, item.ID),
			logging.String(logging.FieldMeetingID, item.MeetingID),
			logging.Int("attempts", attempts),
		)
		return
	}

	kind := outbox.FailureTerminal
	reason := delivery.Reason(err)
	var nextAttempt *time.Time

	if delivery.Retryable(err) {
		if e.policy.Exhausted(attempts) {
			// Retries spent; park the item until the user intervenes.
			reason = reason + " (retry attempts exhausted)"
		} else {
			kind = outbox.FailureRetryable
			at := time.Now().UTC().Add(e.policy.NextDelay(attempts))
			nextAttempt = &at
		}
	}

	applied, markErr := e.store.MarkFailed(commitCtx, item.ID, kind, reason, nextAttempt)
	if markErr != nil {
		e.logger.Error("failed to record failure",
			logging.Error(markErr),
			logging.String(logging.FieldItemID, item.ID),
		)
		return
	}
	if !applied {
		e.logger.Info("discarded stale failure for superseded item",
			logging.String(logging.FieldEventType, "stale_result_discarded"),
			logging.String(logging.FieldItemID, item.ID),
		)
		return
	}

	e.publish(notify.Event{
		Kind:         notify.KindFailed,
		ItemID:       item.ID,
		MeetingID:    item.MeetingID,
		Status:       outbox.StatusFailed,
		PendingCount: e.pendingCount(commitCtx),
	})

	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "delivery_failed"),
		logging.String(logging.FieldItemID, item.ID),
		logging.String(logging.FieldMeetingID, item.MeetingID),
		logging.Int("attempts", attempts),
		logging.String("failure_kind", string(kind)),
		logging.Error(err),
	}
	if nextAttempt != nil {
		attrs = append(attrs, logging.Time("next_attempt_at", *nextAttempt))
		e.logger.Warn("delivery attempt failed, retry scheduled", attrsToAny(attrs)...)
		return
	}
	attrs = append(attrs,
		logging.String(logging.FieldErrorHint, "review the debrief and use retry to resubmit"),
		logging.String(logging.FieldImpact, "debrief held until user action"),
	)
	e.logger.Error("delivery failed terminally", attrsToAny(attrs)...)
}

// maybePrune removes submitted items older than the retention window. Runs at
// most once per pruneCheckInterval, piggybacked on idle passes.
func (e *Engine) maybePrune(ctx context.Context) {
	if e.retention <= 0 {
		return
	}

	e.mu.Lock()
	due := time.Since(e.lastPrune) >= pruneCheckInterval
	if due {
		e.lastPrune = time.Now()
	}
	e.mu.Unlock()
	if !due {
		return
	}

	pruned, err := e.store.PruneSubmitted(ctx, time.Now().UTC().Add(-e.retention))
	if err != nil {
		e.logger.Warn("failed to prune submitted items", logging.Error(err))
		return
	}
	if pruned > 0 {
		e.publish(notify.Event{
			Kind:         notify.KindPruned,
			PendingCount: e.pendingCount(ctx),
		})
		e.logger.Info("pruned submitted items",
			logging.String(logging.FieldEventType, "submitted_pruned"),
			logging.Int64("count", pruned),
		)
	}
}

func attrsToAny(attrs []logging.Attr) []any {
	out := make([]any, len(attrs))
	for i, attr := range attrs {
		out[i] = attr
	}
	return out
}
