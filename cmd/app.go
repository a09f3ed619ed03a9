package cmd

import (
	"errors"
	"fmt"
	"log/slog"

	"nlroute/pkg/bus"
	"nlroute/pkg/command"
	"nlroute/pkg/config"
	"nlroute/pkg/gateway"
	"nlroute/pkg/logger"
	"nlroute/pkg/nlp"
	"nlroute/pkg/plugins/admin"
	"nlroute/pkg/plugins/llmintent"
	"nlroute/pkg/provider"
)

// app is the wired message handling stack shared by every subcommand.
type app struct {
	cfg        *config.Config
	log        *slog.Logger
	commands   *command.Registry
	dispatcher *nlp.Dispatcher
	pipeline   *gateway.Pipeline
	events     *bus.MessageBus
	// classifier is nil unless intent classification is enabled.
	classifier provider.Classifier
}

// loadApp reads configuration, installs the configured logger as default and
// wires the stack around the process-wide registries.
func loadApp() (*app, error) {
	cfg, defaulted, err := resolveConfig(config.LoadConfig)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	appLogger, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}
	slog.SetDefault(appLogger)
	if defaulted {
		appLogger.Info("No config file found, using built-in defaults")
	}

	return newApp(cfg, appLogger, command.DefaultRegistry(), nlp.DefaultRegistry(), provider.New)
}

// resolveConfig falls back to config.Default when load finds no config file.
// Any other load failure is returned as is.
func resolveConfig(load func() (*config.Config, error)) (cfg *config.Config, defaulted bool, err error) {
	cfg, err = load()
	if errors.Is(err, config.ErrConfigNotFound) {
		return config.Default(), true, nil
	}
	if err != nil {
		return nil, false, err
	}
	return cfg, false, nil
}

type classifierFactory func(cfg *config.Config) (provider.Classifier, error)

func newApp(cfg *config.Config, log *slog.Logger, commands *command.Registry, processors *nlp.Registry, newClassifier classifierFactory) (*app, error) {
	a := &app{
		cfg:      cfg,
		log:      log,
		commands: commands,
		events:   bus.NewMessageBus(),
	}

	// Keep the shared registry untouched; intent routing is a per-process choice.
	working := processors.Snapshot()

	if cfg.Intent.Enabled {
		classifier, err := newClassifier(cfg)
		if err != nil {
			return nil, fmt.Errorf("initialize classifier: %w", err)
		}

		onlyToMe := true
		if cfg.Intent.OnlyToMe != nil {
			onlyToMe = *cfg.Intent.OnlyToMe
		}

		processor, err := llmintent.New(llmintent.Options{
			Classifier: classifier,
			Commands:   commands,
			Model:      cfg.Intent.Model,
			Nickname:   cfg.Bot.Nickname,
			Keywords:   cfg.Intent.Keywords,
			OnlyToMe:   onlyToMe,
			Logger:     log,
		})
		if err != nil {
			return nil, err
		}
		working.Register(processor)
		a.classifier = classifier
	}

	a.dispatcher = nlp.NewDispatcher(working, commands,
		nlp.WithConfidenceThreshold(cfg.Bot.ConfidenceThreshold),
		nlp.WithLogger(log),
		nlp.WithEvents(a.events),
	)

	if _, exists := commands.Lookup("nlp"); !exists {
		if err := admin.Register(commands, working.Processors(), a.dispatcher.Processors(), cfg.Bot.SuperUsers); err != nil {
			return nil, fmt.Errorf("register admin command: %w", err)
		}
	}

	pipeline, err := gateway.NewPipeline(cfg.Bot, commands, a.dispatcher, log)
	if err != nil {
		return nil, err
	}
	a.pipeline = pipeline

	return a, nil
}

func (a *app) Close() {
	a.events.Close()
}
