package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"agp/pkg/bus"
	"agp/pkg/scheduler"
)

// PathResolver validates workspace-relative attachment paths. The
// workspace implements it.
type PathResolver interface {
	ResolveInside(path string) (string, error)
}

// Toolbox is the action surface exposed to the engine: sending
// messages to channels and managing scheduled jobs. It closes over the
// bus and scheduler so tool calls take effect immediately.
type Toolbox struct {
	bus       *bus.MessageBus
	scheduler *scheduler.Service
	paths     PathResolver
	log       *slog.Logger
}

func NewToolbox(b *bus.MessageBus, sched *scheduler.Service, paths PathResolver, log *slog.Logger) *Toolbox {
	if log == nil {
		log = slog.Default()
	}

	return &Toolbox{
		bus:       b,
		scheduler: sched,
		paths:     paths,
		log:       log.With("component", "engine.toolbox"),
	}
}

// SendMessage publishes an outbound message to any configured channel.
// Relative media paths resolve against the workspace.
func (t *Toolbox) SendMessage(channel, chatID, content string, media []string) error {
	if t.bus == nil {
		return errors.New("message bus is not available")
	}

	channel = strings.TrimSpace(channel)
	chatID = strings.TrimSpace(chatID)
	if channel == "" || chatID == "" {
		return errors.New("channel and chat_id are required")
	}

	resolved := make([]string, 0, len(media))
	for _, path := range media {
		if !filepath.IsAbs(path) && t.paths != nil {
			inside, err := t.paths.ResolveInside(path)
			if err != nil {
				t.log.Warn("Dropping attachment with invalid path", "path", path, "error", err)
				continue
			}
			path = inside
		}
		resolved = append(resolved, path)
	}

	t.log.Info("tool send_message", "channel", channel, "chat_id", chatID, "media_count", len(resolved))
	t.bus.PublishOutbound(bus.OutboundMessage{
		Channel: channel,
		ChatID:  chatID,
		Content: content,
		Media:   resolved,
	})

	return nil
}

// ScheduleTask registers a named job. kind is once, interval, or cron.
func (t *Toolbox) ScheduleTask(name, message, kind, value string, deliver bool) error {
	if t.scheduler == nil {
		return errors.New("scheduler is not available")
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("task name is required")
	}

	scheduleKind, err := scheduler.ParseScheduleKind(kind)
	if err != nil {
		return fmt.Errorf("schedule task %q: %w", name, err)
	}

	job := t.scheduler.Add(name, message, scheduleKind, value, deliver)
	t.log.Info("tool schedule_task", "name", name, "kind", string(scheduleKind), "value", value, "enabled", job.Enabled)

	return nil
}

// DescribeJobs renders the current job set for chat display.
func (t *Toolbox) DescribeJobs() string {
	if t.scheduler == nil {
		return "Scheduler is not available."
	}

	jobs := t.scheduler.Jobs()
	if len(jobs) == 0 {
		return "No scheduled jobs."
	}

	var b strings.Builder
	b.WriteString("Scheduled jobs:\n")
	for _, job := range jobs {
		state := "enabled"
		if !job.Enabled {
			state = "disabled"
		}
		next := "never"
		if job.NextRunAt != nil {
			next = job.NextRunAt.UTC().Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(&b, "- %s (%s: %s, %s, next: %s)\n", job.Name, job.Kind, job.Value, state, next)
	}

	return strings.TrimRight(b.String(), "\n")
}

// CancelTask removes a job by name. Unknown names are not an error.
func (t *Toolbox) CancelTask(name string) bool {
	if t.scheduler == nil {
		return false
	}

	removed := t.scheduler.Remove(strings.TrimSpace(name))
	t.log.Info("tool cancel_task", "name", name, "removed", removed)

	return removed
}
