// Package session is the orchestration core for bounded trading
// sessions: a strongly-ordered finite state machine per session,
// checksummed recoverable checkpoints across storage tiers, and
// background detection and recovery of unhealthy or crashed sessions.
//
// The lifecycle controller is the sole writer of session status; one
// control loop runs per active session, and two sweep tasks (health
// monitor, checkpoint scheduler) run alongside, coordinating only
// through the shared registry and checkpoint store.
//
// The domain logic deciding what workers do, the worker-notification
// transport, and the encoding of persisted records are consumed through
// narrow interfaces (EnvironmentProvider, Notifier, TaskHooks,
// store.Store) and stay outside this package.
package session
