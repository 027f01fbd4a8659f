package fieldq_test

import (
	"context"
	"testing"

	"fieldq"
	"fieldq/internal/testsupport"
)

func TestOpenStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)

	app, err := fieldq.OpenWithConfig(cfg)
	if err != nil {
		t.Fatalf("OpenWithConfig failed: %v", err)
	}
	defer app.Close()

	ctx := context.Background()
	if err := app.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	item, err := app.Engine().Enqueue(ctx, "m-1", []byte(`{"outcome":"demo"}`))
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if item.ID == "" {
		t.Fatal("expected item id")
	}

	count, err := app.Engine().PendingCount(ctx)
	if err != nil {
		t.Fatalf("PendingCount failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 pending item, got %d", count)
	}

	app.Stop()
	app.Stop() // idempotent
}

func TestOpenRejectsSecondInstance(t *testing.T) {
	cfg := testsupport.NewConfig(t)

	first, err := fieldq.OpenWithConfig(cfg)
	if err != nil {
		t.Fatalf("OpenWithConfig failed: %v", err)
	}
	defer first.Close()

	ctx := context.Background()
	if err := first.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	second, err := fieldq.OpenWithConfig(cfg)
	if err != nil {
		t.Fatalf("OpenWithConfig failed: %v", err)
	}
	defer second.Close()

	if err := second.Start(ctx); err == nil {
		t.Fatal("expected second instance start to fail")
	}
}
