// Package llmintent routes free text to commands by asking a language model
// to classify it.
package llmintent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"nlroute/pkg/command"
	"nlroute/pkg/nlp"
	"nlroute/pkg/provider"
	providertypes "nlroute/pkg/provider/types"
)

const processorName = "llmintent"

type Options struct {
	Classifier provider.Classifier
	// Commands lists what the model may choose from. It is read on every
	// classification so commands registered later are offered too.
	Commands *command.Registry
	Model    string
	Nickname string
	Keywords []string
	OnlyToMe bool
	Logger   *slog.Logger
}

// New builds the processor. Register it with nlp.Register or a registry of your own.
func New(opts Options) (*nlp.Processor, error) {
	if opts.Classifier == nil {
		return nil, errors.New("llmintent: classifier is required")
	}
	if opts.Commands == nil {
		return nil, errors.New("llmintent: command registry is required")
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "plugins.llmintent")

	handler := func(ctx context.Context, s *nlp.Session) (nlp.Result, error) {
		cmds := opts.Commands.Commands()
		specs := make([]providertypes.CommandSpec, 0, len(cmds))
		for _, cmd := range cmds {
			// Routed calls skip the permission check, so gated commands are never offered.
			if cmd.Permission != nil {
				continue
			}
			specs = append(specs, providertypes.CommandSpec{Name: cmd.Name, Description: cmd.Description})
		}
		if len(specs) == 0 {
			return nil, nil
		}

		classification, err := opts.Classifier.Classify(ctx, providertypes.ClassifyRequest{
			Model:    opts.Model,
			Nickname: opts.Nickname,
			Text:     s.Text(),
			Commands: specs,
		})
		if err != nil {
			return nil, fmt.Errorf("classify: %w", err)
		}
		if !classification.Matched() {
			log.Debug("Classifier matched no command")
			return nil, nil
		}

		attrs := []any{"command", classification.Command, "confidence", classification.Confidence}
		if usage := classification.Metadata.Usage; usage != nil {
			attrs = append(attrs, "total_tokens", usage.TotalTokens)
		}
		log.Debug("Classifier proposed command", attrs...)

		return nlp.IntentCommand{
			Confidence: classification.Confidence,
			Name:       classification.Command,
			Args:       classification.Args,
			CurrentArg: classification.CurrentArg,
		}, nil
	}

	return nlp.NewProcessor(handler,
		nlp.WithName(processorName),
		nlp.WithKeywords(opts.Keywords...),
		nlp.OnlyToMe(opts.OnlyToMe),
	), nil
}
