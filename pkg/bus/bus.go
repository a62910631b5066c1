// Package bus implements the message queues that decouple channel
// adapters from the agent, including inbound admission control
// (per-sender cooldown and queue depth limiting).
package bus

import (
	"context"
	"sync"
	"time"
)

const (
	// DefaultMaxInboundDepth bounds the inbound queue. Zero means unbounded.
	DefaultMaxInboundDepth = 20

	// DefaultCooldown is the minimum time between accepted messages from
	// the same sender.
	DefaultCooldown = 2 * time.Second
)

// MessageBus carries messages in two directions:
//   - inbound: channels → agent, rate limited
//   - outbound: agent → channels, unbounded
//
// Inbound publishing is the system's backpressure point: the agent
// processes one message at a time, so floods are rejected here instead
// of piling up behind it.
type MessageBus struct {
	mu       sync.Mutex
	inbound  []InboundMessage
	outbound []OutboundMessage

	maxInboundDepth int
	cooldown        time.Duration
	lastAccepted    map[string]time.Time

	inboundWake  chan struct{}
	outboundWake chan struct{}

	done      chan struct{}
	closeOnce sync.Once

	now func() time.Time
}

// Options configures bus admission control.
type Options struct {
	// MaxInboundDepth is the inbound queue capacity. Zero means unbounded.
	MaxInboundDepth int

	// Cooldown is the per-sender minimum interval between accepted
	// messages. Zero or negative disables the cooldown check.
	Cooldown time.Duration
}

// New creates a message bus with default admission limits.
func New() *MessageBus {
	return NewWithOptions(Options{
		MaxInboundDepth: DefaultMaxInboundDepth,
		Cooldown:        DefaultCooldown,
	})
}

// NewWithOptions creates a message bus with explicit admission limits.
func NewWithOptions(opts Options) *MessageBus {
	return &MessageBus{
		maxInboundDepth: opts.MaxInboundDepth,
		cooldown:        opts.Cooldown,
		lastAccepted:    make(map[string]time.Time),
		inboundWake:     make(chan struct{}, 1),
		outboundWake:    make(chan struct{}, 1),
		done:            make(chan struct{}),
		now:             time.Now,
	}
}

// PublishInbound offers a message from a channel to the agent.
//
// Two admission checks run in order: the per-sender cooldown, then the
// queue depth limit. Both rejections return false without blocking;
// neither is an error. The caller decides whether to tell the user.
func (b *MessageBus) PublishInbound(msg InboundMessage) bool {
	select {
	case <-b.done:
		return false
	default:
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cooldown > 0 {
		now := b.now()
		if last, ok := b.lastAccepted[msg.SenderID]; ok && now.Sub(last) < b.cooldown {
			return false
		}
		b.lastAccepted[msg.SenderID] = now
	}

	if b.maxInboundDepth > 0 && len(b.inbound) >= b.maxInboundDepth {
		return false
	}

	b.inbound = append(b.inbound, msg)
	wake(b.inboundWake)
	return true
}

// PublishOutbound enqueues a message from the agent to a channel.
// The outbound queue is unbounded: agent output is never dropped here.
func (b *MessageBus) PublishOutbound(msg OutboundMessage) {
	select {
	case <-b.done:
		return
	default:
	}

	b.mu.Lock()
	b.outbound = append(b.outbound, msg)
	b.mu.Unlock()
	wake(b.outboundWake)
}

// ConsumeInbound pops the oldest inbound message, waiting up to timeout.
// A zero or negative timeout waits until the context is cancelled or the
// bus is closed. Returns ok=false on timeout, cancellation, or close so
// loops can re-check their shutdown signal.
func (b *MessageBus) ConsumeInbound(ctx context.Context, timeout time.Duration) (InboundMessage, bool) {
	for {
		b.mu.Lock()
		if len(b.inbound) > 0 {
			msg := b.inbound[0]
			b.inbound = b.inbound[1:]
			b.mu.Unlock()
			return msg, true
		}
		b.mu.Unlock()

		if !b.waitFor(ctx, b.inboundWake, timeout) {
			return InboundMessage{}, false
		}
	}
}

// ConsumeOutbound pops the oldest outbound message, waiting up to timeout.
// Semantics match ConsumeInbound.
func (b *MessageBus) ConsumeOutbound(ctx context.Context, timeout time.Duration) (OutboundMessage, bool) {
	for {
		b.mu.Lock()
		if len(b.outbound) > 0 {
			msg := b.outbound[0]
			b.outbound = b.outbound[1:]
			b.mu.Unlock()
			return msg, true
		}
		b.mu.Unlock()

		if !b.waitFor(ctx, b.outboundWake, timeout) {
			return OutboundMessage{}, false
		}
	}
}

// InboundDepth reports the current inbound queue size. Advisory only:
// the value may be stale by the time the caller reads it.
func (b *MessageBus) InboundDepth() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.inbound)
}

// OutboundDepth reports the current outbound queue size. Advisory only.
func (b *MessageBus) OutboundDepth() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.outbound)
}

// Close shuts the bus down. Blocked consumers return promptly and later
// publishes are rejected; messages already queued still drain through
// consume so shutdown can flush pending replies. Safe to call more
// than once.
func (b *MessageBus) Close() {
	b.closeOnce.Do(func() {
		close(b.done)
	})
}

// waitFor blocks until new work is signalled. Returns false when the
// wait ended for any reason other than a wake signal.
func (b *MessageBus) waitFor(ctx context.Context, wakeCh <-chan struct{}, timeout time.Duration) bool {
	if ctx == nil {
		ctx = context.Background()
	}

	var timer *time.Timer
	var expired <-chan time.Time
	if timeout > 0 {
		timer = time.NewTimer(timeout)
		expired = timer.C
		defer timer.Stop()
	}

	select {
	case <-ctx.Done():
		return false
	case <-b.done:
		return false
	case <-expired:
		return false
	case <-wakeCh:
		return true
	}
}

// wake signals waiting consumers without blocking the publisher.
func wake(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
