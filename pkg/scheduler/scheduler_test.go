package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// recordingRunner captures prompts routed through the engine boundary.
type recordingRunner struct {
	mu      sync.Mutex
	prompts []string
	keys    []string
	err     error
}

func (r *recordingRunner) ProcessDirect(_ context.Context, prompt string, sessionKey string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prompts = append(r.prompts, prompt)
	r.keys = append(r.keys, sessionKey)
	if r.err != nil {
		return "", r.err
	}
	return "done:" + prompt, nil
}

func (r *recordingRunner) calls() ([]string, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prompts := make([]string, len(r.prompts))
	copy(prompts, r.prompts)
	keys := make([]string, len(r.keys))
	copy(keys, r.keys)
	return prompts, keys
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestIntervalNextRun(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := New(&recordingRunner{}, nil, Options{})
	s.now = fixedClock(base)

	job := s.Add("report", "write the report", ScheduleInterval, "60", false)
	if job.NextRunAt == nil {
		t.Fatal("interval job should have a next run")
	}
	if want := base.Add(60 * time.Second); !job.NextRunAt.Equal(want) {
		t.Fatalf("next run = %v, want %v", job.NextRunAt, want)
	}
}

func TestIntervalRecomputedAfterFiring(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := New(&recordingRunner{}, nil, Options{})
	s.now = fixedClock(base)
	s.Add("report", "write the report", ScheduleInterval, "60", false)

	fireAt := base.Add(60 * time.Second)
	s.now = fixedClock(fireAt)

	results := s.Tick(context.Background())
	if len(results) != 1 || !results[0].Success {
		t.Fatalf("results = %+v, want one success", results)
	}

	job, ok := s.Get("report")
	if !ok {
		t.Fatal("job disappeared")
	}
	if want := fireAt.Add(60 * time.Second); job.NextRunAt == nil || !job.NextRunAt.Equal(want) {
		t.Fatalf("recomputed next run = %v, want %v", job.NextRunAt, want)
	}
}

func TestOncePastTimestampNeverFires(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	runner := &recordingRunner{}
	s := New(runner, nil, Options{})
	s.now = fixedClock(base)

	job := s.Add("expired", "too late", ScheduleOnce, base.Add(-time.Hour).Format(time.RFC3339), false)
	if job.NextRunAt != nil {
		t.Fatalf("past one-shot should have nil next run, got %v", job.NextRunAt)
	}

	if results := s.Tick(context.Background()); len(results) != 0 {
		t.Fatalf("dormant job fired: %+v", results)
	}
	if prompts, _ := runner.calls(); len(prompts) != 0 {
		t.Fatal("runner should not have been invoked")
	}
}

func TestOnceDisabledAfterFiring(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := New(&recordingRunner{}, nil, Options{})
	s.now = fixedClock(base)
	s.Add("reminder", "ping the user", ScheduleOnce, base.Add(time.Minute).Format(time.RFC3339), true)

	s.now = fixedClock(base.Add(2 * time.Minute))
	results := s.Tick(context.Background())
	if len(results) != 1 || !results[0].Success {
		t.Fatalf("results = %+v, want one success", results)
	}

	job, ok := s.Get("reminder")
	if !ok {
		t.Fatal("one-shot jobs are retained, not deleted")
	}
	if job.Enabled {
		t.Fatal("one-shot job should be disabled after firing")
	}
	if job.NextRunAt != nil {
		t.Fatalf("fired one-shot should have nil next run, got %v", job.NextRunAt)
	}
}

func TestInvalidCronIsDormant(t *testing.T) {
	t.Parallel()

	s := New(&recordingRunner{}, nil, Options{})
	job := s.Add("bad", "never", ScheduleCron, "not a cron expr", false)
	if job.NextRunAt != nil {
		t.Fatalf("invalid cron should be dormant, got %v", job.NextRunAt)
	}
	if results := s.Tick(context.Background()); len(results) != 0 {
		t.Fatalf("dormant job fired: %+v", results)
	}
}

func TestValidCronNextRun(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC)
	s := New(&recordingRunner{}, nil, Options{})
	s.now = fixedClock(base)

	job := s.Add("hourly", "tick", ScheduleCron, "0 * * * *", false)
	if job.NextRunAt == nil {
		t.Fatal("valid cron should compute a next run")
	}
	if want := time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC); !job.NextRunAt.Equal(want) {
		t.Fatalf("next run = %v, want %v", job.NextRunAt, want)
	}
}

func TestMalformedIntervalIsDormant(t *testing.T) {
	t.Parallel()

	s := New(&recordingRunner{}, nil, Options{})
	for _, value := range []string{"sixty", "-5", "1.5"} {
		if job := s.Add("j-"+value, "x", ScheduleInterval, value, false); job.NextRunAt != nil {
			t.Fatalf("interval %q should be dormant, got %v", value, job.NextRunAt)
		}
	}
}

func TestFailingJobDoesNotAbortTick(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	runner := &recordingRunner{}
	s := New(runner, nil, Options{})
	s.now = fixedClock(base)

	s.Add("first", "boom", ScheduleInterval, "0", false)
	s.Add("second", "fine", ScheduleInterval, "0", false)

	runner.err = errors.New("engine offline")
	results := s.Tick(context.Background())
	if len(results) != 2 {
		t.Fatalf("got %d results, want both jobs attempted", len(results))
	}
	for _, r := range results {
		if r.Success {
			t.Fatalf("job %s should have failed", r.JobName)
		}
		if r.Err == "" {
			t.Fatalf("job %s should carry the error text", r.JobName)
		}
	}
}

func TestTickRunsJobsInInsertionOrder(t *testing.T) {
	t.Parallel()

	runner := &recordingRunner{}
	s := New(runner, nil, Options{})
	s.now = fixedClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	s.Add("alpha", "a", ScheduleInterval, "0", false)
	s.Add("bravo", "b", ScheduleInterval, "0", false)
	s.Add("charlie", "c", ScheduleInterval, "0", false)

	s.Tick(context.Background())

	prompts, keys := runner.calls()
	if len(prompts) != 3 {
		t.Fatalf("got %d executions, want 3", len(prompts))
	}
	if prompts[0] != "a" || prompts[1] != "b" || prompts[2] != "c" {
		t.Fatalf("execution order = %v, want insertion order", prompts)
	}
	if keys[0] != "cron:job:alpha" {
		t.Fatalf("session key = %q, want cron:job:alpha", keys[0])
	}
}

func TestAddOverwritesExistingName(t *testing.T) {
	t.Parallel()

	s := New(&recordingRunner{}, nil, Options{})
	s.Add("job", "v1", ScheduleInterval, "60", false)
	s.Add("job", "v2", ScheduleInterval, "120", true)

	job, ok := s.Get("job")
	if !ok {
		t.Fatal("job missing")
	}
	if job.Message != "v2" || !job.Deliver {
		t.Fatalf("job = %+v, want the overwritten version", job)
	}
	if len(s.Jobs()) != 1 {
		t.Fatalf("job count = %d, want 1", len(s.Jobs()))
	}
}

func TestRemoveMissingIsNotAnError(t *testing.T) {
	t.Parallel()

	s := New(&recordingRunner{}, nil, Options{})
	if s.Remove("ghost") {
		t.Fatal("removing an absent job should report not found")
	}

	s.Add("real", "x", ScheduleInterval, "60", false)
	if !s.Remove("real") {
		t.Fatal("removing a present job should report found")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "jobs.json")
	store := NewFileStore(path)

	s := New(&recordingRunner{}, nil, Options{Store: store})
	s.Add("persisted", "hello", ScheduleInterval, "300", true)

	reloaded := New(&recordingRunner{}, nil, Options{Store: store})
	reloaded.Start(context.Background())
	defer reloaded.Stop()

	job, ok := reloaded.Get("persisted")
	if !ok {
		t.Fatal("job should survive a restart via the snapshot")
	}
	if job.Message != "hello" || job.Kind != ScheduleInterval || !job.Deliver {
		t.Fatalf("reloaded job = %+v", job)
	}
}

func TestParseScheduleKind(t *testing.T) {
	t.Parallel()

	cases := map[string]ScheduleKind{
		"once":     ScheduleOnce,
		"ONCE":     ScheduleOnce,
		"interval": ScheduleInterval,
		"Cron":     ScheduleCron,
	}
	for input, want := range cases {
		got, err := ParseScheduleKind(input)
		if err != nil {
			t.Fatalf("ParseScheduleKind(%q): %v", input, err)
		}
		if got != want {
			t.Fatalf("ParseScheduleKind(%q) = %q, want %q", input, got, want)
		}
	}

	if _, err := ParseScheduleKind("hourly"); err == nil {
		t.Fatal("unknown kind should be rejected")
	}
}
