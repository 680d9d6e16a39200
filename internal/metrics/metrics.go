// Package metrics defines the instrumentation interface used across the
// core and its Prometheus-backed implementation.
package metrics

// Metrics receives counters from the authentication core. Implementations
// must be safe for concurrent use.
type Metrics interface {
	// LoginAttempt records a login with result "success", "failure" or
	// "locked".
	LoginAttempt(result string)

	// TokenOperation records a token manager operation ("issue", "refresh",
	// "verify", "revoke") with result "success" or "failure".
	TokenOperation(op, result string)

	// ReplayDetected counts refresh-token replays.
	ReplayDetected()

	// RateLimitRejected counts refused reservations by scope ("user",
	// "identifier", "ip").
	RateLimitRejected(scope string)

	// AccountLocked counts automatic lockouts.
	AccountLocked()

	// ResetRequest records a password-reset request outcome as observed
	// internally: "sent", "suppressed" (unknown identifier) or
	// "sender_failed". The public API reports Success for all three.
	ResetRequest(outcome string)

	// EventPublished counts events accepted by the bus by kind.
	EventPublished(kind string)

	// EventDropped counts events lost to queue overflow.
	EventDropped()

	// EventQueueDepth reports the current bus queue depth.
	EventQueueDepth(depth int)

	// AuditPersisted records an audit store write with result "success" or
	// "failure".
	AuditPersisted(result string)
}

// Noop discards all measurements.
type Noop struct{}

var _ Metrics = Noop{}

func (Noop) LoginAttempt(string)           {}
func (Noop) TokenOperation(string, string) {}
func (Noop) ReplayDetected()               {}
func (Noop) RateLimitRejected(string)      {}
func (Noop) AccountLocked()                {}
func (Noop) ResetRequest(string)           {}
func (Noop) EventPublished(string)         {}
func (Noop) EventDropped()                 {}
func (Noop) EventQueueDepth(int)           {}
func (Noop) AuditPersisted(string)         {}
