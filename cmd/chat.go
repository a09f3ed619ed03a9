package cmd

import (
	"context"
	"fmt"

	"nlroute/pkg/gateway"
	"nlroute/pkg/ui/console"

	"github.com/spf13/cobra"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the dispatcher in a terminal console",
	Long:  "Starts an interactive console. Every line is handled as a private message addressed to the bot.",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Close()

		return console.Run(cmd.Context(), consoleSender(a.pipeline), console.Info{
			Nickname:   a.cfg.Bot.Nickname,
			Processors: a.dispatcher.Processors().Len(),
			Commands:   len(a.commands.Commands()),
			Threshold:  a.dispatcher.Threshold(),
		})
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

func consoleSender(pipeline *gateway.Pipeline) console.SendFunc {
	return func(ctx context.Context, text string) (console.Reply, error) {
		outbound, err := pipeline.Handle(ctx, localEvent(text, "console", "console", false, true))
		if err != nil {
			return console.Reply{}, fmt.Errorf("handle message: %w", err)
		}

		return console.Reply{
			Handled: outbound.Handled,
			Route:   outbound.Metadata["route"],
			Replies: outbound.Replies,
		}, nil
	}
}
