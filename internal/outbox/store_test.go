package outbox_test

import (
	"context"
	"testing"
	"time"

	"fieldq/internal/outbox"
	"fieldq/internal/testsupport"
)

func enqueue(t *testing.T, store *outbox.Store, meetingID, payload string) *outbox.Item {
	t.Helper()
	item, err := store.Enqueue(context.Background(), meetingID, []byte(payload))
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	return item
}

func TestEnqueuePersistsPendingItem(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	item := enqueue(t, store, "m-1", `{"outcome":"closed-won"}`)
	if item.ID == "" {
		t.Fatal("expected item ID to be assigned")
	}
	if item.Status != outbox.StatusPending {
		t.Fatalf("expected pending, got %s", item.Status)
	}
	if item.Attempts != 0 {
		t.Fatalf("expected zero attempts at enqueue, got %d", item.Attempts)
	}

	fetched, err := store.GetByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if fetched == nil || fetched.MeetingID != "m-1" {
		t.Fatalf("unexpected fetched item: %#v", fetched)
	}
	if string(fetched.Payload) != `{"outcome":"closed-won"}` {
		t.Fatalf("payload not preserved: %q", fetched.Payload)
	}
}

func TestEnqueueValidatesInput(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	if _, err := store.Enqueue(ctx, "  ", []byte("x")); err == nil {
		t.Fatal("expected error for empty meeting id")
	}
	if _, err := store.Enqueue(ctx, "m-1", nil); err == nil {
		t.Fatal("expected error for empty payload")
	}
}

func TestEnqueueSurvivesReopen(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ctx := context.Background()

	store, err := outbox.Open(cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	item := enqueue(t, store, "m-1", "payload")
	if err := store.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	reopened := testsupport.MustOpenStore(t, cfg)
	fetched, err := reopened.GetByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetByID after reopen failed: %v", err)
	}
	if fetched == nil || fetched.Status != outbox.StatusPending {
		t.Fatalf("expected persisted pending item, got %#v", fetched)
	}
}

func TestEnqueueSupersedesActiveItem(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	first := enqueue(t, store, "m-1", "first")
	second := enqueue(t, store, "m-1", "second")

	if gone, err := store.GetByID(ctx, first.ID); err != nil {
		t.Fatalf("GetByID failed: %v", err)
	} else if gone != nil {
		t.Fatalf("expected first item superseded, still present: %#v", gone)
	}

	items, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected exactly one item for meeting, got %d", len(items))
	}
	if items[0].ID != second.ID || string(items[0].Payload) != "second" {
		t.Fatalf("expected surviving item to carry the second payload: %#v", items[0])
	}
}

func TestEnqueueSupersedesFailedAndSubmittingItems(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	for _, status := range []outbox.Status{outbox.StatusSubmitting, outbox.StatusFailed} {
		item := enqueue(t, store, "m-1", "old")
		if ok, err := store.MarkSubmitting(ctx, item.ID); err != nil || !ok {
			t.Fatalf("MarkSubmitting failed: ok=%v err=%v", ok, err)
		}
		if status == outbox.StatusFailed {
			if ok, err := store.MarkFailed(ctx, item.ID, outbox.FailureTerminal, "rejected", nil); err != nil || !ok {
				t.Fatalf("MarkFailed failed: ok=%v err=%v", ok, err)
			}
		}

		replacement := enqueue(t, store, "m-1", "new")
		active, err := store.ActiveForMeeting(ctx, "m-1")
		if err != nil {
			t.Fatalf("ActiveForMeeting failed: %v", err)
		}
		if active == nil || active.ID != replacement.ID {
			t.Fatalf("status %s: expected replacement to be the only active item, got %#v", status, active)
		}
	}
}

func TestEnqueueDoesNotSupersedeSubmitted(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	first := enqueue(t, store, "m-1", "first")
	if ok, err := store.MarkSubmitting(ctx, first.ID); err != nil || !ok {
		t.Fatalf("MarkSubmitting failed: ok=%v err=%v", ok, err)
	}
	if ok, err := store.MarkSubmitted(ctx, first.ID); err != nil || !ok {
		t.Fatalf("MarkSubmitted failed: ok=%v err=%v", ok, err)
	}

	enqueue(t, store, "m-1", "second")

	items, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected submitted item to survive alongside the new one, got %d items", len(items))
	}
}

func TestMarkSubmittingClaimsAndIncrementsAttempts(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	item := enqueue(t, store, "m-1", "payload")

	ok, err := store.MarkSubmitting(ctx, item.ID)
	if err != nil || !ok {
		t.Fatalf("MarkSubmitting failed: ok=%v err=%v", ok, err)
	}

	// A second claim must fail: the item is already in flight.
	ok, err = store.MarkSubmitting(ctx, item.ID)
	if err != nil {
		t.Fatalf("MarkSubmitting errored: %v", err)
	}
	if ok {
		t.Fatal("expected second claim to be rejected")
	}

	claimed, err := store.GetByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if claimed.Status != outbox.StatusSubmitting {
		t.Fatalf("expected submitting, got %s", claimed.Status)
	}
	if claimed.Attempts != 1 {
		t.Fatalf("expected attempts=1 after claim, got %d", claimed.Attempts)
	}
	if claimed.LastAttemptAt == nil {
		t.Fatal("expected last attempt timestamp")
	}
}

func TestStaleResultAgainstSupersededItemIsDiscarded(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	first := enqueue(t, store, "m-1", "first")
	if ok, err := store.MarkSubmitting(ctx, first.ID); err != nil || !ok {
		t.Fatalf("MarkSubmitting failed: ok=%v err=%v", ok, err)
	}

	// Replacement arrives while the first attempt is on the wire.
	second := enqueue(t, store, "m-1", "second")

	// The stale response must not apply to anything.
	if ok, err := store.MarkSubmitted(ctx, first.ID); err != nil {
		t.Fatalf("MarkSubmitted errored: %v", err)
	} else if ok {
		t.Fatal("expected stale success to be discarded")
	}
	if ok, err := store.MarkFailed(ctx, first.ID, outbox.FailureRetryable, "timeout", nil); err != nil {
		t.Fatalf("MarkFailed errored: %v", err)
	} else if ok {
		t.Fatal("expected stale failure to be discarded")
	}

	active, err := store.ActiveForMeeting(ctx, "m-1")
	if err != nil {
		t.Fatalf("ActiveForMeeting failed: %v", err)
	}
	if active == nil || active.ID != second.ID || active.Status != outbox.StatusPending {
		t.Fatalf("expected replacement untouched, got %#v", active)
	}
}

func TestMarkFailedSchedulesRetry(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	item := enqueue(t, store, "m-1", "payload")
	if ok, err := store.MarkSubmitting(ctx, item.ID); err != nil || !ok {
		t.Fatalf("MarkSubmitting failed: ok=%v err=%v", ok, err)
	}

	next := time.Now().UTC().Add(5 * time.Second)
	if ok, err := store.MarkFailed(ctx, item.ID, outbox.FailureRetryable, "gateway timeout", &next); err != nil || !ok {
		t.Fatalf("MarkFailed failed: ok=%v err=%v", ok, err)
	}

	failed, err := store.GetByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if failed.Status != outbox.StatusFailed || failed.FailureKind != outbox.FailureRetryable {
		t.Fatalf("unexpected failure state: %#v", failed)
	}
	if failed.LastError != "gateway timeout" {
		t.Fatalf("expected last error recorded, got %q", failed.LastError)
	}
	if failed.NextAttemptAt == nil || failed.NextAttemptAt.Sub(next).Abs() > time.Millisecond {
		t.Fatalf("expected scheduled retry near %v, got %v", next, failed.NextAttemptAt)
	}
}

func TestNextEligibleHonorsBackoffWindow(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	item := enqueue(t, store, "m-1", "payload")
	if ok, err := store.MarkSubmitting(ctx, item.ID); err != nil || !ok {
		t.Fatalf("MarkSubmitting failed: ok=%v err=%v", ok, err)
	}
	next := time.Now().UTC().Add(time.Minute)
	if ok, err := store.MarkFailed(ctx, item.ID, outbox.FailureRetryable, "timeout", &next); err != nil || !ok {
		t.Fatalf("MarkFailed failed: ok=%v err=%v", ok, err)
	}

	eligible, err := store.NextEligible(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("NextEligible failed: %v", err)
	}
	if eligible != nil {
		t.Fatalf("expected no eligible item inside backoff window, got %#v", eligible)
	}

	eligible, err = store.NextEligible(ctx, time.Now().UTC().Add(2*time.Minute))
	if err != nil {
		t.Fatalf("NextEligible failed: %v", err)
	}
	if eligible == nil || eligible.ID != item.ID {
		t.Fatalf("expected item eligible after window, got %#v", eligible)
	}
}

func TestNextEligibleIgnoresTerminalFailures(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	item := enqueue(t, store, "m-1", "payload")
	if ok, err := store.MarkSubmitting(ctx, item.ID); err != nil || !ok {
		t.Fatalf("MarkSubmitting failed: ok=%v err=%v", ok, err)
	}
	if ok, err := store.MarkFailed(ctx, item.ID, outbox.FailureTerminal, "validation rejected", nil); err != nil || !ok {
		t.Fatalf("MarkFailed failed: ok=%v err=%v", ok, err)
	}

	eligible, err := store.NextEligible(ctx, time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("NextEligible failed: %v", err)
	}
	if eligible != nil {
		t.Fatalf("terminal failure must not auto-retry, got %#v", eligible)
	}

	// Manual retry makes it eligible exactly once more.
	count, err := store.RetryFailed(ctx)
	if err != nil {
		t.Fatalf("RetryFailed failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one item marked for retry, got %d", count)
	}

	eligible, err = store.NextEligible(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("NextEligible failed: %v", err)
	}
	if eligible == nil || eligible.ID != item.ID {
		t.Fatalf("expected manual retry to surface the item, got %#v", eligible)
	}
}

func TestNextEligibleOrdersOldestFirst(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	first := enqueue(t, store, "m-1", "first")
	time.Sleep(2 * time.Millisecond)
	enqueue(t, store, "m-2", "second")

	eligible, err := store.NextEligible(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("NextEligible failed: %v", err)
	}
	if eligible == nil || eligible.ID != first.ID {
		t.Fatalf("expected oldest item first, got %#v", eligible)
	}
}

func TestResetStuckSubmitting(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	item := enqueue(t, store, "m-1", "payload")
	if ok, err := store.MarkSubmitting(ctx, item.ID); err != nil || !ok {
		t.Fatalf("MarkSubmitting failed: ok=%v err=%v", ok, err)
	}

	count, err := store.ResetStuckSubmitting(ctx)
	if err != nil {
		t.Fatalf("ResetStuckSubmitting failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one item reset, got %d", count)
	}

	reset, err := store.GetByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if reset.Status != outbox.StatusPending {
		t.Fatalf("expected pending after reset, got %s", reset.Status)
	}
	if reset.Attempts != 1 {
		t.Fatalf("expected attempts preserved across reset, got %d", reset.Attempts)
	}
}

func TestPendingCountExcludesTerminalFailures(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	enqueue(t, store, "m-1", "pending")

	retryable := enqueue(t, store, "m-2", "retryable")
	if ok, err := store.MarkSubmitting(ctx, retryable.ID); err != nil || !ok {
		t.Fatalf("MarkSubmitting failed: ok=%v err=%v", ok, err)
	}
	next := time.Now().UTC().Add(time.Minute)
	if ok, err := store.MarkFailed(ctx, retryable.ID, outbox.FailureRetryable, "timeout", &next); err != nil || !ok {
		t.Fatalf("MarkFailed failed: ok=%v err=%v", ok, err)
	}

	terminal := enqueue(t, store, "m-3", "terminal")
	if ok, err := store.MarkSubmitting(ctx, terminal.ID); err != nil || !ok {
		t.Fatalf("MarkSubmitting failed: ok=%v err=%v", ok, err)
	}
	if ok, err := store.MarkFailed(ctx, terminal.ID, outbox.FailureTerminal, "rejected", nil); err != nil || !ok {
		t.Fatalf("MarkFailed failed: ok=%v err=%v", ok, err)
	}

	count, err := store.PendingCount(ctx)
	if err != nil {
		t.Fatalf("PendingCount failed: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected pending count 2 (pending + scheduled retry), got %d", count)
	}

	health, err := store.Health(ctx)
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if health.Failed != 2 || health.Terminal != 1 {
		t.Fatalf("unexpected health summary: %+v", health)
	}
}

func TestPruneSubmitted(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	item := enqueue(t, store, "m-1", "payload")
	if ok, err := store.MarkSubmitting(ctx, item.ID); err != nil || !ok {
		t.Fatalf("MarkSubmitting failed: ok=%v err=%v", ok, err)
	}
	if ok, err := store.MarkSubmitted(ctx, item.ID); err != nil || !ok {
		t.Fatalf("MarkSubmitted failed: ok=%v err=%v", ok, err)
	}

	// Inside retention: kept.
	count, err := store.PruneSubmitted(ctx, time.Now().UTC().Add(-time.Hour))
	if err != nil {
		t.Fatalf("PruneSubmitted failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected nothing pruned inside retention, got %d", count)
	}

	// Past retention: removed.
	count, err = store.PruneSubmitted(ctx, time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("PruneSubmitted failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one item pruned, got %d", count)
	}
}

func TestRemoveRefusesInFlightItems(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	item := enqueue(t, store, "m-1", "payload")
	if ok, err := store.MarkSubmitting(ctx, item.ID); err != nil || !ok {
		t.Fatalf("MarkSubmitting failed: ok=%v err=%v", ok, err)
	}

	if removed, err := store.Remove(ctx, item.ID); err != nil {
		t.Fatalf("Remove errored: %v", err)
	} else if removed {
		t.Fatal("expected in-flight item to be protected from removal")
	}
}
