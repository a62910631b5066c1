package engine

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"agp/pkg/bus"
	"agp/pkg/scheduler"
)

type noopRunner struct{}

func (noopRunner) ProcessDirect(ctx context.Context, prompt string, sessionKey string) (string, error) {
	return "", nil
}

type fakeResolver struct{ root string }

func (f fakeResolver) ResolveInside(path string) (string, error) {
	if strings.Contains(path, "..") {
		return "", errors.New("path escapes workspace")
	}
	return filepath.Join(f.root, path), nil
}

func TestToolboxSendMessagePublishesOutbound(t *testing.T) {
	b := bus.New()
	defer b.Close()

	tb := NewToolbox(b, nil, fakeResolver{root: "/workspace"}, slog.Default())
	require.NoError(t, tb.SendMessage("telegram", "42", "hello", []string{"report.pdf", "/tmp/chart.png"}))

	out, ok := b.ConsumeOutbound(context.Background(), 100*time.Millisecond)
	require.True(t, ok)
	require.Equal(t, "telegram", out.Channel)
	require.Equal(t, "42", out.ChatID)
	require.Equal(t, "hello", out.Content)
	require.Equal(t, []string{filepath.Join("/workspace", "report.pdf"), "/tmp/chart.png"}, out.Media)
}

func TestToolboxSendMessageDropsEscapingPaths(t *testing.T) {
	b := bus.New()
	defer b.Close()

	tb := NewToolbox(b, nil, fakeResolver{root: "/workspace"}, slog.Default())
	require.NoError(t, tb.SendMessage("telegram", "42", "hello", []string{"../secrets.txt", "ok.txt"}))

	out, ok := b.ConsumeOutbound(context.Background(), 100*time.Millisecond)
	require.True(t, ok)
	require.Equal(t, []string{filepath.Join("/workspace", "ok.txt")}, out.Media)
}

func TestToolboxSendMessageRequiresAddress(t *testing.T) {
	tb := NewToolbox(bus.New(), nil, nil, slog.Default())

	require.Error(t, tb.SendMessage("", "42", "hello", nil))
	require.Error(t, tb.SendMessage("telegram", "", "hello", nil))
}

func TestToolboxSendMessageWithoutBus(t *testing.T) {
	tb := NewToolbox(nil, nil, nil, slog.Default())
	require.Error(t, tb.SendMessage("telegram", "42", "hello", nil))
}

func TestToolboxScheduleTask(t *testing.T) {
	sched := scheduler.New(noopRunner{}, slog.Default(), scheduler.Options{})
	tb := NewToolbox(nil, sched, nil, slog.Default())

	require.NoError(t, tb.ScheduleTask("report", "write the report", "interval", "60", true))

	job, ok := sched.Get("report")
	require.True(t, ok)
	require.Equal(t, scheduler.ScheduleInterval, job.Kind)
	require.True(t, job.Deliver)
}

func TestToolboxScheduleTaskRejectsUnknownKind(t *testing.T) {
	sched := scheduler.New(noopRunner{}, slog.Default(), scheduler.Options{})
	tb := NewToolbox(nil, sched, nil, slog.Default())

	require.Error(t, tb.ScheduleTask("report", "write the report", "hourly", "60", false))
	require.Error(t, tb.ScheduleTask("", "write the report", "interval", "60", false))
}

func TestToolboxCancelTask(t *testing.T) {
	sched := scheduler.New(noopRunner{}, slog.Default(), scheduler.Options{})
	sched.Add("report", "write the report", scheduler.ScheduleInterval, "60", false)
	tb := NewToolbox(nil, sched, nil, slog.Default())

	require.True(t, tb.CancelTask("report"))
	require.False(t, tb.CancelTask("report"))
	require.False(t, tb.CancelTask("never-existed"))
}
