package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"nlroute/pkg/config"
	provideropenai "nlroute/pkg/provider/openai"
	provideropencode "nlroute/pkg/provider/opencode"
	providertypes "nlroute/pkg/provider/types"
)

// Classifier maps free text onto one of the registered commands.
type Classifier interface {
	Health(ctx context.Context) error
	Classify(ctx context.Context, req providertypes.ClassifyRequest) (providertypes.Classification, error)
}

func New(cfg *config.Config) (Classifier, error) {
	providerID := strings.ToLower(strings.TrimSpace(cfg.Intent.Provider))
	if providerID == "" {
		providerID = "openai"
	}

	slog.Default().With("component", "provider.factory").Debug("Resolving classifier", "provider", providerID)

	switch providerID {
	case "openai":
		return provideropenai.New(cfg)
	case "opencode":
		return provideropencode.New(cfg)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", providerID)
	}
}
