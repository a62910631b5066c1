// Package heartbeat wakes the agent periodically to reconcile the
// HEARTBEAT.md note. The note is the user's standing to-do surface:
// when it holds anything actionable, the agent is prompted to work
// through it.
package heartbeat

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// DefaultInterval is the wake period between sentinel checks.
const DefaultInterval = 30 * time.Minute

// OKToken is the reply marker meaning nothing remains to be done.
const OKToken = "HEARTBEAT_OK"

const reconcilePrompt = `Check HEARTBEAT.md in your workspace and complete any tasks listed there.

For each unchecked task:
- Read the task description
- Use your tools to complete the task
- Mark it as done by editing HEARTBEAT.md to remove the task or check it off

If all tasks are complete or there are no tasks, reply with just: ` + OKToken

const sessionKey = "system:heartbeat"

// Runner executes one prompt against the agent.
type Runner interface {
	ProcessDirect(ctx context.Context, prompt string, sessionKey string) (string, error)
}

// Service is the periodic prompt service.
type Service struct {
	runner   Runner
	path     string
	interval time.Duration
	log      *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a heartbeat service reading the sentinel note at path.
func New(runner Runner, path string, interval time.Duration, log *slog.Logger) *Service {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if log == nil {
		log = slog.Default()
	}

	return &Service{
		runner:   runner,
		path:     path,
		interval: interval,
		log:      log.With("component", "heartbeat"),
	}
}

// Start begins the wake loop.
func (s *Service) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(loopCtx)
	}()

	s.log.Info("Heartbeat started", "interval", s.interval.String(), "path", s.path)
}

// Stop cancels the wake loop and waits for an in-flight tick.
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.log.Info("Heartbeat stopped")
}

func (s *Service) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick reads the sentinel note and, when it holds actionable content,
// prompts the agent to reconcile it. A missing note means nothing to do.
func (s *Service) Tick(ctx context.Context) {
	content, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn("Could not read heartbeat note", "path", s.path, "error", err)
		}
		return
	}

	if !Actionable(string(content)) {
		s.log.Debug("Heartbeat note has no actionable content")
		return
	}

	reply, err := s.runner.ProcessDirect(ctx, reconcilePrompt, sessionKey)
	if err != nil {
		s.log.Error("Heartbeat prompt failed", "error", err)
		return
	}

	if strings.Contains(reply, OKToken) {
		s.log.Debug("Heartbeat reconciled, nothing left to do")
		return
	}
	s.log.Info("Heartbeat processed", "reply_length", len(reply))
}

// Actionable reports whether note content holds pending work. Blank
// lines, markdown headings, and HTML comment openers are scaffolding;
// any other non-blank line counts as actionable.
func Actionable(content string) bool {
	for _, line := range strings.Split(content, "\n") {
		stripped := strings.TrimSpace(line)
		if stripped == "" {
			continue
		}
		if strings.HasPrefix(stripped, "#") {
			continue
		}
		if strings.HasPrefix(stripped, "<!--") {
			continue
		}
		return true
	}
	return false
}
