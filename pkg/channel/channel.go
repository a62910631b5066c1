// Package channel defines the capability contract every platform
// adapter must satisfy, and the lifecycle manager that starts,
// monitors, restarts, and dispatches to those adapters.
package channel

import (
	"context"

	"agp/pkg/bus"
)

// Channel is the capability contract for one platform adapter.
//
// Adapters own their running flag: Start sets it once the adapter is
// listening, Stop clears it, and an adapter that dies on its own clears
// it too. The manager treats a cleared flag as a crash and rebuilds
// the adapter from its factory.
type Channel interface {
	// Name returns the channel identifier (e.g. "telegram").
	Name() string

	// Start begins listening for platform messages. Idempotent.
	Start(ctx context.Context) error

	// Stop shuts the adapter down cleanly. Idempotent.
	Stop() error

	// Send delivers an outbound message. Best effort; may fail on
	// transient platform errors.
	Send(ctx context.Context, msg bus.OutboundMessage) error

	// Running reports whether the adapter is currently listening.
	Running() bool

	// IsAllowed reports whether a sender may interact with the agent.
	IsAllowed(senderID string) bool
}

// Factory builds a fresh adapter instance from its immutable
// configuration. The manager recreates crashed channels through their
// factory instead of reusing a dead instance.
type Factory func() (Channel, error)
