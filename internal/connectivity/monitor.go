// Package connectivity tracks whether the backend is reachable and tells the
// dispatch loop when to wake up.
package connectivity

// Monitor reports the current connectivity state and notifies subscribers on
// debounced transitions.
type Monitor interface {
	// Online reports the last observed connectivity state.
	Online() bool

	// Subscribe registers a callback invoked on every online/offline
	// transition. The returned function removes the subscription.
	Subscribe(fn func(online bool)) (unsubscribe func())
}
