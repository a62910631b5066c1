// Package openai implements the engine client against the OpenAI
// Responses API. Sessions map to server-side conversations so resumed
// prompts keep their history without the gateway replaying it.
package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"agp/pkg/config"

	osdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/conversations"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"
)

type Client struct {
	client         osdk.Client
	model          string
	requestTimeout time.Duration
}

func New(cfg config.OpenAIProviderConfig, model string) (*Client, error) {
	apiKey := resolveAPIKey(cfg)
	if apiKey == "" {
		return nil, errors.New("providers.openai.api_key_env is required or OPENAI_API_KEY must be set")
	}

	model, err := normalizeModel(model)
	if err != nil {
		return nil, err
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if organization := strings.TrimSpace(cfg.Organization); organization != "" {
		opts = append(opts, option.WithOrganization(organization))
	}
	if project := strings.TrimSpace(cfg.Project); project != "" {
		opts = append(opts, option.WithProject(project))
	}

	requestTimeout := time.Duration(cfg.RequestTimeoutSeconds) * time.Second
	if requestTimeout > 0 {
		opts = append(opts, option.WithRequestTimeout(requestTimeout))
	}

	return &Client{
		client:         osdk.NewClient(opts...),
		model:          model,
		requestTimeout: requestTimeout,
	}, nil
}

// Prompt sends prompt to the configured model. An empty sessionID
// opens a new conversation first; the conversation id is returned so
// the caller can resume it.
func (c *Client) Prompt(ctx context.Context, prompt string, sessionID string) (string, string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	log := engineLogger().With("operation", "prompt")
	startedAt := time.Now()

	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", "", errors.New("prompt is required")
	}

	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		created, err := c.createConversation(ctx)
		if err != nil {
			return "", "", err
		}
		sessionID = created
	}
	log.Debug("engine request started",
		"session_id", sessionID,
		"model", c.model,
		"prompt_length", len(prompt),
	)

	response, err := c.client.Responses.New(ctx, responses.ResponseNewParams{
		Model: c.model,
		Input: responses.ResponseNewParamsInputUnion{OfString: osdk.String(prompt)},
		Conversation: responses.ResponseNewParamsConversationUnion{
			OfConversationObject: &responses.ResponseConversationParam{ID: sessionID},
		},
	})
	if err != nil {
		log.Debug("engine request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return "", "", fmt.Errorf("prompt failed: %w", err)
	}

	text := strings.TrimSpace(response.OutputText())
	if text == "" {
		log.Debug("engine request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", "no output text")
		return "", "", errors.New("prompt succeeded but returned no text")
	}
	log.Debug("engine request completed", "duration_ms", time.Since(startedAt).Milliseconds(), "response_length", len(text))

	return text, sessionID, nil
}

func (c *Client) createConversation(ctx context.Context) (string, error) {
	log := engineLogger().With("operation", "create_session")
	startedAt := time.Now()
	log.Debug("engine request started")

	conversation, err := c.client.Conversations.New(ctx, conversations.ConversationNewParams{})
	if err != nil {
		log.Debug("engine request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return "", fmt.Errorf("create session failed: %w", err)
	}
	if conversation == nil || strings.TrimSpace(conversation.ID) == "" {
		log.Debug("engine request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", "empty conversation id")
		return "", errors.New("create session returned empty conversation id")
	}
	log.Debug("engine request completed", "duration_ms", time.Since(startedAt).Milliseconds(), "session_id", strings.TrimSpace(conversation.ID))

	return strings.TrimSpace(conversation.ID), nil
}

func engineLogger() *slog.Logger {
	return slog.Default().With("component", "engine.openai")
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.requestTimeout <= 0 {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, c.requestTimeout)
}

func resolveAPIKey(cfg config.OpenAIProviderConfig) string {
	if apiKeyEnv := strings.TrimSpace(cfg.APIKeyEnv); apiKeyEnv != "" {
		if apiKey := strings.TrimSpace(os.Getenv(apiKeyEnv)); apiKey != "" {
			return apiKey
		}
	}

	return strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
}

func normalizeModel(model string) (string, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return "", errors.New("agent.model is required")
	}

	parts := strings.SplitN(model, "/", 2)
	if len(parts) != 2 {
		return model, nil
	}

	providerID := strings.TrimSpace(parts[0])
	modelID := strings.TrimSpace(parts[1])
	if providerID == "" || modelID == "" {
		return "", errors.New("agent.model is invalid")
	}
	if providerID != "openai" {
		return "", fmt.Errorf("model provider %q is not supported by openai engine", providerID)
	}

	return modelID, nil
}
