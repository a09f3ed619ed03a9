package opencode

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strings"
	"time"

	"nlroute/pkg/config"
	"nlroute/pkg/provider/classify"
	providertypes "nlroute/pkg/provider/types"

	sdk "github.com/sst/opencode-sdk-go"
	"github.com/sst/opencode-sdk-go/option"
)

const sessionTitle = "nlroute intent"

// Client classifies messages through an opencode server. Every Classify call
// runs in a fresh session so earlier messages never leak into the answer.
type Client struct {
	client         *sdk.Client
	defaultModel   string
	agent          string
	requestTimeout time.Duration
}

type healthResponse struct {
	Healthy bool   `json:"healthy"`
	Version string `json:"version"`
}

func New(cfg *config.Config) (*Client, error) {
	providerCfg := cfg.Providers.OpenCode
	baseURL := strings.TrimSpace(providerCfg.BaseURL)
	if baseURL == "" {
		return nil, errors.New("providers.opencode.base_url is required")
	}

	opts := []option.RequestOption{option.WithBaseURL(baseURL)}
	if authHeader, ok := buildBasicAuthHeader(providerCfg); ok {
		opts = append(opts, option.WithHeader("Authorization", authHeader))
	}

	return &Client{
		client:         sdk.NewClient(opts...),
		defaultModel:   strings.TrimSpace(cfg.Intent.Model),
		agent:          strings.TrimSpace(providerCfg.Agent),
		requestTimeout: time.Duration(providerCfg.RequestTimeoutSeconds) * time.Second,
	}, nil
}

func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	log := providerLogger().With("operation", "health")
	startedAt := time.Now()
	log.Debug("provider request started")

	var response healthResponse
	if err := c.client.Get(ctx, "/global/health", nil, &response); err != nil {
		log.Debug("provider request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return fmt.Errorf("health check failed: %w", err)
	}
	if !response.Healthy {
		log.Debug("provider request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", "server unhealthy")
		return errors.New("opencode server reported unhealthy status")
	}
	log.Debug("provider request completed", "duration_ms", time.Since(startedAt).Milliseconds(), "version", response.Version)
	return nil
}

// Classify asks the opencode agent which command, if any, the text is asking for.
func (c *Client) Classify(ctx context.Context, req providertypes.ClassifyRequest) (providertypes.Classification, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	log := providerLogger().With("operation", "classify")
	startedAt := time.Now()

	text := strings.TrimSpace(req.Text)
	if text == "" {
		return providertypes.Classification{}, errors.New("text is required")
	}
	if len(req.Commands) == 0 {
		return providertypes.Classification{}, errors.New("at least one command is required")
	}

	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = c.defaultModel
	}
	log.Debug("provider request started",
		"model", model,
		"agent", c.agent,
		"text_length", len(text),
		"commands", len(req.Commands),
	)

	session, err := c.client.Session.New(ctx, sdk.SessionNewParams{Title: sdk.F(sessionTitle)})
	if err != nil {
		log.Debug("provider request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return providertypes.Classification{}, fmt.Errorf("create session failed: %w", err)
	}
	if session.ID == "" {
		return providertypes.Classification{}, errors.New("create session returned empty session id")
	}

	response, err := c.client.Session.Prompt(ctx, session.ID, c.promptParams(buildPrompt(req), model))
	if err != nil {
		log.Debug("provider request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "session_id", session.ID, "error", err)
		return providertypes.Classification{}, fmt.Errorf("classify failed: %w", err)
	}

	result, err := classificationFromParts(response.Parts, req.Commands)
	if err != nil {
		log.Debug("provider request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "session_id", session.ID, "error", err)
		return providertypes.Classification{}, err
	}
	tokens := response.Info.Tokens
	result.Metadata = providertypes.ClassificationMetadata{
		Provider: strings.TrimSpace(response.Info.ProviderID),
		Model:    strings.TrimSpace(response.Info.ModelID),
		Usage:    usageFromTokens(tokens.Input, tokens.Output, tokens.Reasoning, tokens.Cache.Read),
	}
	log.Debug("provider request completed",
		"duration_ms", time.Since(startedAt).Milliseconds(),
		"session_id", session.ID,
		"command", result.Command,
		"confidence", result.Confidence,
	)

	return result, nil
}

func (c *Client) promptParams(prompt string, model string) sdk.SessionPromptParams {
	params := sdk.SessionPromptParams{
		Parts: sdk.F([]sdk.SessionPromptParamsPartUnion{
			sdk.TextPartInputParam{
				Type: sdk.F(sdk.TextPartInputTypeText),
				Text: sdk.F(prompt),
			},
		}),
	}
	if c.agent != "" {
		params.Agent = sdk.F(c.agent)
	}
	if providerID, modelID, ok := parseModelRef(model); ok {
		params.Model = sdk.F(sdk.SessionPromptParamsModel{
			ProviderID: sdk.F(providerID),
			ModelID:    sdk.F(modelID),
		})
	}
	return params
}

// buildPrompt folds the routing instructions and the message into one text
// part, since a session prompt has no separate system field.
func buildPrompt(req providertypes.ClassifyRequest) string {
	return classify.Instructions(req) + "\n\nMessage:\n" + strings.TrimSpace(req.Text)
}

func classificationFromParts(parts []sdk.Part, known []providertypes.CommandSpec) (providertypes.Classification, error) {
	output := extractText(parts)
	if output == "" {
		return providertypes.Classification{}, errors.New("classify succeeded but returned no text parts")
	}
	return classify.Parse(output, known)
}

func usageFromTokens(input, output, reasoning, cacheRead float64) *providertypes.TokenUsage {
	usage := providertypes.TokenUsage{
		InputTokens:     tokenCount(input),
		OutputTokens:    tokenCount(output),
		TotalTokens:     tokenCount(input) + tokenCount(output),
		ReasoningTokens: tokenCount(reasoning),
		CacheReadTokens: tokenCount(cacheRead),
	}
	if usage.IsZero() {
		return nil
	}
	return &usage
}

func providerLogger() *slog.Logger {
	return slog.Default().With("component", "provider.opencode")
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.requestTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.requestTimeout)
}

func buildBasicAuthHeader(cfg config.OpenCodeProviderConfig) (string, bool) {
	passwordEnv := strings.TrimSpace(cfg.PasswordEnv)
	if passwordEnv == "" {
		return "", false
	}

	password := strings.TrimSpace(os.Getenv(passwordEnv))
	if password == "" {
		return "", false
	}

	username := strings.TrimSpace(cfg.Username)
	if username == "" {
		username = "opencode"
	}

	token := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
	return "Basic " + token, true
}

func parseModelRef(input string) (providerID string, modelID string, ok bool) {
	parts := strings.SplitN(strings.TrimSpace(input), "/", 2)
	if len(parts) != 2 {
		return "", "", false
	}

	providerID = strings.TrimSpace(parts[0])
	modelID = strings.TrimSpace(parts[1])
	if providerID == "" || modelID == "" {
		return "", "", false
	}

	return providerID, modelID, true
}

func extractText(parts []sdk.Part) string {
	var lines []string
	for _, part := range parts {
		if part.Type != sdk.PartTypeText {
			continue
		}
		if text := strings.TrimSpace(part.Text); text != "" {
			lines = append(lines, text)
		}
	}

	return strings.Join(lines, "\n")
}

func tokenCount(value float64) int64 {
	if value <= 0 {
		return 0
	}

	return int64(math.Round(value))
}
