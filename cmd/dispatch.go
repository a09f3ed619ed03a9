package cmd

import (
	"fmt"
	"io"
	"strings"

	"nlroute/pkg/bus"
	"nlroute/pkg/event"
	"nlroute/pkg/message"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

const localChannelName = "cli"

var (
	dispatchChatID   string
	dispatchSenderID string
	dispatchGroup    bool
	dispatchToMe     bool
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch [text]",
	Short: "Dispatch one message and print the replies",
	Long:  "Runs one message through command parsing and intent routing, then prints every reply. The text may contain CQ codes such as [CQ:image,url=...].",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ev := localEvent(strings.Join(args, " "), dispatchChatID, dispatchSenderID, dispatchGroup, dispatchToMe || !dispatchGroup)
		outbound, err := a.pipeline.Handle(cmd.Context(), ev)
		if err != nil {
			return err
		}

		printOutbound(cmd.OutOrStdout(), cmd.ErrOrStderr(), outbound)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(dispatchCmd)
	dispatchCmd.Flags().StringVar(&dispatchChatID, "chat", "local", "chat id the message comes from")
	dispatchCmd.Flags().StringVar(&dispatchSenderID, "sender", "local", "sender id, matched against bot.super_users")
	dispatchCmd.Flags().BoolVar(&dispatchGroup, "group", false, "treat the message as sent in a group chat")
	dispatchCmd.Flags().BoolVar(&dispatchToMe, "to-me", false, "mark a group message as addressed to the bot")
}

func localEvent(text, chatID, senderID string, group, toMe bool) *event.Event {
	msgType := event.MessagePrivate
	if group {
		msgType = event.MessageGroup
	}

	return &event.Event{
		ID:       uuid.NewString(),
		Channel:  localChannelName,
		ChatID:   chatID,
		SenderID: senderID,
		Type:     msgType,
		Message:  message.Parse(text),
		ToMe:     toMe,
	}
}

func printOutbound(stdout, stderr io.Writer, outbound bus.OutboundMessage) {
	for _, reply := range outbound.Replies {
		fmt.Fprintln(stdout, reply)
	}
	if !outbound.Handled && len(outbound.Replies) == 0 {
		fmt.Fprintln(stderr, "no command matched")
	}
}
