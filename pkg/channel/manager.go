package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"agp/pkg/bus"
)

const (
	// DefaultMaxStartRetries bounds start attempts per start sequence.
	DefaultMaxStartRetries = 3

	// DefaultMonitorInterval is how often crashed channels are detected.
	DefaultMonitorInterval = 30 * time.Second

	defaultDispatchPoll = time.Second
	defaultRetryBackoff = time.Second
)

// ChannelStatus is the read-only view of one managed channel.
type ChannelStatus struct {
	Running bool   `json:"running"`
	Type    string `json:"type"`
}

// ManagerOptions tunes lifecycle timing. Zero values fall back to defaults.
type ManagerOptions struct {
	MaxStartRetries int
	MonitorInterval time.Duration

	// RetryBackoff is the base unit for start backoff; attempt n waits
	// RetryBackoff * 2^n. Tests shrink this to keep retries fast.
	RetryBackoff time.Duration
}

// Manager owns every channel instance for the lifetime of the gateway.
//
// It starts channels with bounded retry, watches their running flags,
// rebuilds crashed instances from their factories, and routes outbound
// bus messages to the right adapter.
type Manager struct {
	bus *bus.MessageBus
	log *slog.Logger

	maxStartRetries int
	monitorInterval time.Duration
	retryBackoff    time.Duration

	mu        sync.RWMutex
	channels  map[string]Channel
	factories map[string]Factory
	running   bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a lifecycle manager bound to the given bus.
func NewManager(b *bus.MessageBus, log *slog.Logger, opts ManagerOptions) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if opts.MaxStartRetries <= 0 {
		opts.MaxStartRetries = DefaultMaxStartRetries
	}
	if opts.MonitorInterval <= 0 {
		opts.MonitorInterval = DefaultMonitorInterval
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = defaultRetryBackoff
	}

	return &Manager{
		bus:             b,
		log:             log.With("component", "channel.manager"),
		maxStartRetries: opts.MaxStartRetries,
		monitorInterval: opts.MonitorInterval,
		retryBackoff:    opts.RetryBackoff,
		channels:        make(map[string]Channel),
		factories:       make(map[string]Factory),
	}
}

// Register builds a channel from its factory and adds it to the
// registry. Must be called before StartAll.
func (m *Manager) Register(name string, factory Factory) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.channels[name]; exists {
		return fmt.Errorf("channel %q already registered", name)
	}

	ch, err := factory()
	if err != nil {
		return fmt.Errorf("build %s channel: %w", name, err)
	}

	m.channels[name] = ch
	m.factories[name] = factory
	m.log.Info("Channel registered", "channel", name)
	return nil
}

// StartAll starts every registered channel with bounded retry, then
// launches the health monitor and outbound dispatcher. A channel that
// exhausts its retries stays down until a monitor tick retries it; it
// never fails the whole startup.
func (m *Manager) StartAll(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)

	m.mu.Lock()
	m.running = true
	m.cancel = cancel
	snapshot := make(map[string]Channel, len(m.channels))
	for name, ch := range m.channels {
		snapshot[name] = ch
	}
	m.mu.Unlock()

	for name, ch := range snapshot {
		m.startWithRetry(runCtx, name, ch)
	}

	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		m.monitorLoop(runCtx)
	}()
	go func() {
		defer m.wg.Done()
		m.dispatchLoop(runCtx)
	}()
}

// StopAll cancels the monitor and dispatcher, waits for them, then
// stops each channel. One channel's stop failure never blocks the rest.
func (m *Manager) StopAll() {
	m.mu.Lock()
	m.running = false
	cancel := m.cancel
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()

	m.mu.RLock()
	snapshot := make(map[string]Channel, len(m.channels))
	for name, ch := range m.channels {
		snapshot[name] = ch
	}
	m.mu.RUnlock()

	for name, ch := range snapshot {
		if err := ch.Stop(); err != nil {
			m.log.Error("Channel stop failed", "channel", name, "error", err)
			continue
		}
		m.log.Info("Channel stopped", "channel", name)
	}
}

// Status reports the running flag and adapter type of every managed
// channel. Safe to call concurrently with all other operations.
func (m *Manager) Status() map[string]ChannelStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make(map[string]ChannelStatus, len(m.channels))
	for name, ch := range m.channels {
		statuses[name] = ChannelStatus{
			Running: ch.Running(),
			Type:    channelType(ch),
		}
	}
	return statuses
}

// startWithRetry runs the bounded-retry start sequence for one channel.
// Attempt n sleeps retryBackoff * 2^n before the next try; there is no
// sleep after the final attempt.
func (m *Manager) startWithRetry(ctx context.Context, name string, ch Channel) bool {
	for attempt := 0; attempt < m.maxStartRetries; attempt++ {
		err := ch.Start(ctx)
		if err == nil {
			m.log.Info("Channel started", "channel", name)
			return true
		}

		m.log.Warn("Channel start failed",
			"channel", name,
			"attempt", attempt+1,
			"max_attempts", m.maxStartRetries,
			"error", err,
		)

		if attempt < m.maxStartRetries-1 {
			backoff := m.retryBackoff << uint(attempt)
			if !sleepCtx(ctx, backoff) {
				return false
			}
		}
	}

	m.log.Error("Channel failed permanently", "channel", name, "attempts", m.maxStartRetries)
	return false
}

// monitorLoop periodically scans for crashed channels and rebuilds them
// from their factories. Recovery is best effort: a channel that fails to
// restart is retried again at the next tick, indefinitely.
func (m *Manager) monitorLoop(ctx context.Context) {
	ticker := time.NewTicker(m.monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.restartCrashed(ctx)
		}
	}
}

func (m *Manager) restartCrashed(ctx context.Context) {
	m.mu.RLock()
	crashed := make(map[string]Factory)
	for name, ch := range m.channels {
		if !ch.Running() && m.running {
			crashed[name] = m.factories[name]
		}
	}
	m.mu.RUnlock()

	for name, factory := range crashed {
		if ctx.Err() != nil {
			return
		}

		m.log.Warn("Channel appears down, attempting restart", "channel", name)

		fresh, err := factory()
		if err != nil {
			m.log.Error("Channel rebuild failed", "channel", name, "error", err)
			continue
		}

		if m.startWithRetry(ctx, name, fresh) {
			m.mu.Lock()
			m.channels[name] = fresh
			m.mu.Unlock()
			m.log.Info("Channel reconnected", "channel", name)
		}
	}
}

// dispatchLoop routes outbound bus messages to their channels. An
// unknown channel name drops the message with a warning; a send error
// is logged and the loop keeps going, so one bad message cannot halt
// the stream.
func (m *Manager) dispatchLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		msg, ok := m.bus.ConsumeOutbound(ctx, defaultDispatchPoll)
		if !ok {
			continue
		}

		m.dispatch(ctx, msg)
	}
}

func (m *Manager) dispatch(ctx context.Context, msg bus.OutboundMessage) {
	m.mu.RLock()
	ch, exists := m.channels[msg.Channel]
	m.mu.RUnlock()

	if !exists {
		m.log.Warn("Dropping message for unknown channel", "channel", msg.Channel, "chat_id", msg.ChatID)
		return
	}

	if err := ch.Send(ctx, msg); err != nil {
		m.log.Error("Channel send failed", "channel", msg.Channel, "chat_id", msg.ChatID, "error", err)
	}
}

// channelType names the adapter's concrete type for status output.
func channelType(ch Channel) string {
	return strings.TrimPrefix(fmt.Sprintf("%T", ch), "*")
}

// sleepCtx sleeps for d unless the context is cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
