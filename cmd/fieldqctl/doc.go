// Package main hosts the fieldqctl entrypoint and command graph.
//
// The Cobra-based command tree gives operators a window into the submission
// queue: listing items, retrying failures, pruning delivered debriefs, and
// scaffolding configuration. It operates directly on the persisted outbox
// database; the application itself embeds the engine in-process and never
// shells out to this tool.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main
