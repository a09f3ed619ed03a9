package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"nlroute/pkg/channel"
	"nlroute/pkg/channel/telegram"
	"nlroute/pkg/channel/webhook"
	"nlroute/pkg/config"
	"nlroute/pkg/gateway"

	"github.com/spf13/cobra"
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Run channel gateway mode",
	Long:  "Runs the enabled chat channels against the dispatcher and serves health and readiness endpoints.",
	Run: func(cmd *cobra.Command, args []string) {
		_ = args

		a, err := loadApp()
		if err != nil {
			fmt.Printf("failed to start: %v\n", err)
			return
		}
		defer a.Close()
		log := a.log.With("component", "cmd.gateway")

		adapters, err := enabledAdapters(a.cfg, a.log)
		if err != nil {
			log.Error("Gateway configuration invalid", "error", err)
			return
		}

		runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		opts := []gateway.ServiceOption{gateway.WithEventBus(a.events)}
		if a.classifier != nil {
			opts = append(opts, gateway.WithClassifier(a.classifier))
		}

		svc, err := gateway.NewService(a.cfg, a.pipeline, adapters, a.log, opts...)
		if err != nil {
			log.Error("Failed to initialize gateway service", "error", err)
			return
		}

		log.Info("Gateway started",
			"channels", enabledChannelNames(adapters),
			"processors", a.dispatcher.Processors().Len(),
			"threshold", a.dispatcher.Threshold(),
			"intent", a.cfg.Intent.Enabled,
		)
		if err := svc.Run(runCtx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			log.Error("Gateway runtime failed", "error", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(gatewayCmd)
}

func enabledAdapters(cfg *config.Config, log *slog.Logger) ([]channel.Adapter, error) {
	adapters := make([]channel.Adapter, 0, 2)

	if cfg.Channels.Telegram.Enabled {
		adapter, err := telegram.NewAdapter(cfg.Channels.Telegram, log)
		if err != nil {
			return nil, fmt.Errorf("configure telegram channel: %w", err)
		}
		adapters = append(adapters, adapter)
	}

	if cfg.Channels.Webhook.Enabled {
		adapter, err := webhook.NewAdapter(cfg.Channels.Webhook, log)
		if err != nil {
			return nil, fmt.Errorf("configure webhook channel: %w", err)
		}
		adapters = append(adapters, adapter)
	}

	if len(adapters) == 0 {
		return nil, errors.New("no channels are enabled")
	}

	return adapters, nil
}

func enabledChannelNames(adapters []channel.Adapter) string {
	names := make([]string, 0, len(adapters))
	for _, adapter := range adapters {
		names = append(names, adapter.Name())
	}

	return strings.Join(names, ",")
}
