package testsupport

import (
	"testing"

	"fieldq/internal/config"
	"fieldq/internal/outbox"
)

// MustOpenStore opens an outbox store for the test config and closes it on cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *outbox.Store {
	t.Helper()

	store, err := outbox.Open(cfg)
	if err != nil {
		t.Fatalf("open outbox store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close outbox store: %v", err)
		}
	})
	return store
}
