// Package gateway wires the bus, channels, scheduler, heartbeat, and
// engine loop into one long-running service, and exposes the status
// endpoint.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"agp/pkg/bus"
	"agp/pkg/channel"
	"agp/pkg/channel/telegram"
	"agp/pkg/config"
	"agp/pkg/engine"
	"agp/pkg/heartbeat"
	"agp/pkg/scheduler"
	"agp/pkg/workspace"
)

const inboundPollTimeout = time.Second

// Service owns the gateway's collaborators. All of them are injected
// at construction; Run only starts and stops them.
type Service struct {
	cfg *config.Config
	log *slog.Logger

	bus       *bus.MessageBus
	manager   *channel.Manager
	runner    processor
	scheduler *scheduler.Service
	heartbeat *heartbeat.Service

	mu        sync.RWMutex
	startedAt time.Time

	wg sync.WaitGroup
}

// processor is the slice of the engine runner the gateway drives.
type processor interface {
	Process(ctx context.Context, msg bus.InboundMessage) bus.OutboundMessage
}

// NewService builds the full gateway from configuration: workspace,
// bus, engine client, session store, runner, toolbox, scheduler,
// heartbeat, and channel manager with the configured adapters.
func NewService(cfg *config.Config, log *slog.Logger) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if log == nil {
		log = slog.Default()
	}

	ws, err := workspace.Resolve(cfg.Agent.Workspace)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace: %w", err)
	}

	b := bus.NewWithOptions(busOptions(cfg))

	client, err := engine.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("initialize engine: %w", err)
	}

	sessions := engine.NewSessionStore(ws.SessionsPath())
	if err := sessions.Load(); err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}

	runner := engine.NewRunnerWithOptions(client, sessions, ws, log, engine.RunnerOptions{
		MaxRetries: cfg.Agent.MaxRetries,
	})

	sched := scheduler.New(runner, log, scheduler.Options{
		TickInterval: cfg.SchedulerTickInterval(),
		Store:        scheduler.NewFileStore(ws.JobsPath()),
	})

	runner.AttachToolbox(engine.NewToolbox(b, sched, ws, log))

	var hb *heartbeat.Service
	if cfg.Heartbeat.Enabled {
		hb = heartbeat.New(runner, ws.HeartbeatPath(), cfg.HeartbeatInterval(), log)
	}

	manager := channel.NewManager(b, log, channel.ManagerOptions{})
	if cfg.Channels.Telegram.Enabled {
		factory := telegram.NewFactory(cfg.Channels.Telegram, b, log)
		if err := manager.Register("telegram", factory); err != nil {
			return nil, fmt.Errorf("register telegram channel: %w", err)
		}
	}

	return &Service{
		cfg:       cfg,
		log:       log.With("component", "gateway"),
		bus:       b,
		manager:   manager,
		runner:    runner,
		scheduler: sched,
		heartbeat: hb,
	}, nil
}

// Run starts every component and blocks until ctx is cancelled or the
// status server fails, then shuts them down in reverse dependency
// order. All loops run under a Run-owned context so that a server
// failure unwinds them even when the caller's ctx stays live.
func (s *Service) Run(ctx context.Context) error {
	s.mu.Lock()
	s.startedAt = time.Now().UTC()
	s.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.manager.StartAll(runCtx)

	s.scheduler.Start(runCtx)
	if s.heartbeat != nil {
		s.heartbeat.Start(runCtx)
	}

	s.wg.Add(1)
	go s.inboundLoop(runCtx)

	serverErrors := make(chan error, 1)
	go s.runStatusServer(runCtx, serverErrors)

	s.log.Info("Gateway started")

	var runErr error
	select {
	case <-runCtx.Done():
	case err := <-serverErrors:
		runErr = err
	}

	s.shutdown(cancel)
	return runErr
}

// inboundLoop consumes inbound messages and routes replies back
// through the bus. The 1s poll keeps shutdown prompt even when no
// messages arrive.
func (s *Service) inboundLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		msg, ok := s.bus.ConsumeInbound(ctx, inboundPollTimeout)
		if !ok {
			continue
		}

		outbound := s.runner.Process(ctx, msg)
		s.bus.PublishOutbound(outbound)
	}
}

func (s *Service) shutdown(cancel context.CancelFunc) {
	cancel()
	if s.heartbeat != nil {
		s.heartbeat.Stop()
	}
	s.scheduler.Stop()
	s.manager.StopAll()
	s.bus.Close()
	s.wg.Wait()
	s.log.Info("Gateway stopped")
}

// Scheduler exposes the job service for CLI job management.
func (s *Service) Scheduler() *scheduler.Service {
	return s.scheduler
}

func busOptions(cfg *config.Config) bus.Options {
	opts := bus.Options{
		MaxInboundDepth: bus.DefaultMaxInboundDepth,
		Cooldown:        bus.DefaultCooldown,
	}
	if cfg.Bus.MaxInboundDepth != nil {
		opts.MaxInboundDepth = *cfg.Bus.MaxInboundDepth
	}
	if cfg.Bus.CooldownSeconds != nil {
		opts.Cooldown = time.Duration(*cfg.Bus.CooldownSeconds * float64(time.Second))
	}
	return opts
}
