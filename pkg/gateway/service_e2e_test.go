package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"agp/pkg/bus"
	"agp/pkg/config"
	"agp/pkg/scheduler"

	"github.com/stretchr/testify/require"
)

type recordingProcessor struct {
	mu       sync.Mutex
	messages []bus.InboundMessage
}

func (p *recordingProcessor) Process(_ context.Context, msg bus.InboundMessage) bus.OutboundMessage {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.messages = append(p.messages, msg)
	return bus.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: "ok:" + msg.Content,
	}
}

func (p *recordingProcessor) seen() []bus.InboundMessage {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]bus.InboundMessage, len(p.messages))
	copy(out, p.messages)
	return out
}

type noopDirectRunner struct{}

func (noopDirectRunner) ProcessDirect(context.Context, string, string) (string, error) {
	return "", nil
}

func e2eService(t *testing.T) (*Service, *bus.MessageBus, *recordingProcessor) {
	t.Helper()

	cfg := &config.Config{}
	cfg.Gateway.Host = "127.0.0.1"
	cfg.Gateway.Port = freeTCPPort(t)

	b := bus.NewWithOptions(bus.Options{})
	processor := &recordingProcessor{}

	return &Service{
		cfg:       cfg,
		log:       slog.Default().With("component", "gateway.test"),
		bus:       b,
		manager:   statusTestManager(t),
		runner:    processor,
		scheduler: scheduler.New(noopDirectRunner{}, slog.Default(), scheduler.Options{TickInterval: time.Hour}),
	}, b, processor
}

func TestGatewayRunProcessesInboundAndServesHealth(t *testing.T) {
	svc, b, processor := e2eService(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- svc.Run(ctx)
	}()

	require.True(t, b.PublishInbound(bus.InboundMessage{
		Channel: "telegram", SenderID: "7", ChatID: "7", Content: "hello",
	}))

	out, ok := b.ConsumeOutbound(ctx, 3*time.Second)
	require.True(t, ok)
	require.Equal(t, "ok:hello", out.Content)
	require.Equal(t, "7", out.ChatID)

	statusURL := fmt.Sprintf("http://%s:%d/health", svc.cfg.Gateway.Host, svc.cfg.Gateway.Port)
	payload := fetchStatus(t, statusURL)
	require.Equal(t, "ok", payload.Status)
	require.Zero(t, payload.Queues.Inbound)

	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for service run to exit")
	}

	seen := processor.seen()
	require.Len(t, seen, 1)
	require.Equal(t, "hello", seen[0].Content)
}

func TestGatewayRunStopsPromptlyWhenIdle(t *testing.T) {
	svc, _, _ := e2eService(t)

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- svc.Run(ctx)
	}()

	// Give the loops a moment to start before cancelling.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for idle shutdown")
	}
}

func TestGatewayRunReturnsWhenStatusServerFailsToBind(t *testing.T) {
	svc, _, _ := e2eService(t)

	// Occupy the configured port so ListenAndServe fails immediately.
	addr := fmt.Sprintf("%s:%d", svc.cfg.Gateway.Host, svc.cfg.Gateway.Port)
	blocker, err := net.Listen("tcp", addr)
	require.NoError(t, err)
	defer blocker.Close()

	errCh := make(chan error, 1)
	go func() {
		// The caller never cancels; the bind failure alone must
		// unwind every loop.
		errCh <- svc.Run(context.Background())
	}()

	select {
	case err := <-errCh:
		require.Error(t, err)
		require.Contains(t, err.Error(), "status server")
	case <-time.After(3 * time.Second):
		t.Fatal("run did not return after the status server failed to bind")
	}
}

func fetchStatus(t *testing.T, url string) statusResponse {
	t.Helper()

	var payload statusResponse
	deadline := time.Now().Add(3 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			defer resp.Body.Close()
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
			return payload
		}
		if time.Now().After(deadline) {
			t.Fatalf("status endpoint never came up: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func freeTCPPort(t *testing.T) int {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	addr, ok := listener.Addr().(*net.TCPAddr)
	require.True(t, ok)
	return addr.Port
}
