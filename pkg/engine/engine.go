// Package engine defines the invocation boundary to the reasoning
// engine and the message-processing path built on top of it. The
// engine itself is an opaque collaborator: given a prompt and an
// optional resumable session, it returns text and a session identifier.
package engine

import (
	"context"
	"fmt"

	"agp/pkg/config"
	engineopenai "agp/pkg/engine/openai"
)

// Client is the reasoning engine boundary.
//
// An empty sessionID starts a fresh session; the returned session
// identifier resumes it on the next call. Implementations must keep
// sessions isolated: calls with different session IDs never share
// conversational state.
type Client interface {
	Prompt(ctx context.Context, prompt string, sessionID string) (text string, newSessionID string, err error)
}

// New resolves the configured engine client.
func New(cfg *config.Config) (Client, error) {
	providerID := cfg.Agent.Provider
	if providerID == "" {
		providerID = "openai"
	}

	switch providerID {
	case "openai":
		client, err := engineopenai.New(cfg.Providers.OpenAI, cfg.Agent.Model)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unsupported engine provider: %s", providerID)
	}
}
