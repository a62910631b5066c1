package engine

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"agp/pkg/bus"
)

const (
	// DefaultMaxRetries bounds engine invocation attempts per message.
	DefaultMaxRetries = 3
	// DefaultRetryBackoff is the base delay between attempts. Attempt n
	// waits backoff << n before retrying.
	DefaultRetryBackoff = 500 * time.Millisecond

	failureNotice = "Sorry, I could not process that message right now. Please try again in a moment."
	resetNotice   = "Session reset. The next message starts a fresh conversation."
)

// MemorySource supplies persistent context injected ahead of every
// prompt. The workspace implements it.
type MemorySource interface {
	MemoryContext() string
}

// Runner is the message-processing path in front of the engine. It
// owns session resolution, prompt assembly, and retry policy, and
// serializes invocations so the engine sees one request at a time.
type Runner struct {
	client   Client
	sessions *SessionStore
	memory   MemorySource
	log      *slog.Logger

	maxRetries   int
	retryBackoff time.Duration

	toolbox *Toolbox

	invokeMu sync.Mutex
}

type RunnerOptions struct {
	// MaxRetries caps invocation attempts. Zero means the default.
	MaxRetries int
	// RetryBackoff is the base delay between attempts. Zero means the
	// default.
	RetryBackoff time.Duration
}

func NewRunner(client Client, sessions *SessionStore, memory MemorySource, log *slog.Logger) *Runner {
	return NewRunnerWithOptions(client, sessions, memory, log, RunnerOptions{})
}

func NewRunnerWithOptions(client Client, sessions *SessionStore, memory MemorySource, log *slog.Logger, opts RunnerOptions) *Runner {
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	retryBackoff := opts.RetryBackoff
	if retryBackoff <= 0 {
		retryBackoff = DefaultRetryBackoff
	}
	if log == nil {
		log = slog.Default()
	}

	return &Runner{
		client:       client,
		sessions:     sessions,
		memory:       memory,
		log:          log.With("component", "engine.runner"),
		maxRetries:   maxRetries,
		retryBackoff: retryBackoff,
	}
}

// AttachToolbox enables the job-management chat commands. Called once
// during wiring, after the toolbox's scheduler exists.
func (r *Runner) AttachToolbox(tb *Toolbox) {
	r.toolbox = tb
}

// Process handles one inbound message end to end and always returns a
// deliverable response. Engine failures are absorbed into a synthesized
// notice so the channel never goes silent.
func (r *Runner) Process(ctx context.Context, msg bus.InboundMessage) bus.OutboundMessage {
	sessionKey := msg.SessionKey()

	if msg.Metadata["command"] == "reset" {
		if err := r.sessions.Delete(sessionKey); err != nil {
			r.log.Warn("session reset failed to persist", "session_key", sessionKey, "error", err)
		}
		return bus.OutboundMessage{
			Channel: msg.Channel,
			ChatID:  msg.ChatID,
			Content: resetNotice,
		}
	}

	if reply, handled := r.handleJobCommand(msg); handled {
		return bus.OutboundMessage{
			Channel: msg.Channel,
			ChatID:  msg.ChatID,
			Content: reply,
		}
	}

	prompt := r.buildPrompt(msg)
	text, err := r.invoke(ctx, prompt, sessionKey)
	if err != nil {
		r.log.Error("message processing failed", "session_key", sessionKey, "error", err)
		return bus.OutboundMessage{
			Channel: msg.Channel,
			ChatID:  msg.ChatID,
			Content: failureNotice,
		}
	}

	return bus.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: text,
	}
}

// ProcessDirect runs a prompt with no channel context. Scheduler jobs
// and the heartbeat use it with their own session keys.
func (r *Runner) ProcessDirect(ctx context.Context, prompt string, sessionKey string) (string, error) {
	return r.invoke(ctx, prompt, sessionKey)
}

func (r *Runner) buildPrompt(msg bus.InboundMessage) string {
	var b strings.Builder

	if persona := r.resolvePersona(); persona != "" {
		b.WriteString(persona)
		b.WriteString("\n\n")
	}

	if r.memory != nil {
		if memoryContext := r.memory.MemoryContext(); memoryContext != "" {
			b.WriteString("## Memory Context\n\n")
			b.WriteString(memoryContext)
			b.WriteString("\n\n")
		}
	}

	fmt.Fprintf(&b, "[Context: channel=%s, chat_id=%s]\n", msg.Channel, msg.ChatID)
	b.WriteString(msg.Content)

	for _, media := range msg.Media {
		fmt.Fprintf(&b, "\n[Attached file: %s]", filepath.Base(media))
	}

	return b.String()
}

func (r *Runner) invoke(ctx context.Context, prompt string, sessionKey string) (string, error) {
	r.invokeMu.Lock()
	defer r.invokeMu.Unlock()

	sessionID := ""
	if r.sessions != nil {
		sessionID = r.sessions.Get(sessionKey)
	}

	var lastErr error
	for attempt := 0; attempt < r.maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, r.retryBackoff<<attempt); err != nil {
				return "", err
			}
			r.log.Warn("retrying engine invocation", "session_key", sessionKey, "attempt", attempt+1, "error", lastErr)
		}

		text, newSessionID, err := r.client.Prompt(ctx, prompt, sessionID)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			continue
		}

		if r.sessions != nil && newSessionID != sessionID {
			if saveErr := r.sessions.Set(sessionKey, newSessionID); saveErr != nil {
				r.log.Warn("session snapshot failed", "session_key", sessionKey, "error", saveErr)
			}
		}

		return text, nil
	}

	return "", fmt.Errorf("engine invocation failed after %d attempts: %w", r.maxRetries, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
