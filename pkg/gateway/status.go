package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"agp/pkg/channel"
)

const (
	defaultStatusHost = "0.0.0.0"
	defaultStatusPort = 18790
)

type queueDepths struct {
	Inbound  int `json:"inbound"`
	Outbound int `json:"outbound"`
}

type statusResponse struct {
	Status        string                           `json:"status"`
	UptimeSeconds int64                            `json:"uptime_seconds"`
	Channels      map[string]channel.ChannelStatus `json:"channels"`
	Queues        queueDepths                      `json:"queues"`
}

func (s *Service) runStatusServer(ctx context.Context, errCh chan<- error) {
	host := strings.TrimSpace(s.cfg.Gateway.Host)
	if host == "" {
		host = defaultStatusHost
	}

	port := s.cfg.Gateway.Port
	if port <= 0 {
		port = defaultStatusPort
	}

	addr := host + ":" + strconv.Itoa(port)
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.log.Info("Status server started", "address", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errCh <- fmt.Errorf("start status server: %w", err)
	}
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	payload := s.currentStatus()

	statusCode := http.StatusOK
	if payload.Status != "ok" {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("Failed to write status response", "error", err)
	}
}

// currentStatus snapshots overall health. The gateway is "ok" only
// when every registered channel is running; with no channels there is
// nothing degraded, so the status stays "ok".
func (s *Service) currentStatus() statusResponse {
	s.mu.RLock()
	startedAt := s.startedAt
	s.mu.RUnlock()

	uptime := int64(0)
	if !startedAt.IsZero() {
		uptime = int64(time.Since(startedAt).Seconds())
	}

	channels := map[string]channel.ChannelStatus{}
	if s.manager != nil {
		channels = s.manager.Status()
	}

	status := "ok"
	for _, state := range channels {
		if !state.Running {
			status = "degraded"
			break
		}
	}

	queues := queueDepths{}
	if s.bus != nil {
		queues.Inbound = s.bus.InboundDepth()
		queues.Outbound = s.bus.OutboundDepth()
	}

	return statusResponse{
		Status:        status,
		UptimeSeconds: uptime,
		Channels:      channels,
		Queues:        queues,
	}
}
