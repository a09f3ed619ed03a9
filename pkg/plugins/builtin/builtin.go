// Package builtin provides the commands and natural language processors every
// deployment starts with.
package builtin

import (
	"context"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"nlroute/pkg/command"
	"nlroute/pkg/nlp"
)

const (
	echoCommand   = "echo"
	helpCommand   = "help"
	imagesCommand = "images"
)

func init() {
	if err := Register(command.DefaultRegistry(), nlp.DefaultRegistry()); err != nil {
		panic(fmt.Sprintf("register builtin plugins: %v", err))
	}
}

// Register installs the builtin commands into cmds and their processors into processors.
func Register(cmds *command.Registry, processors *nlp.Registry) error {
	for _, cmd := range []*command.Command{
		{
			Name:        echoCommand,
			Aliases:     []string{"say"},
			Description: "Repeat the given text",
			Handler:     runEcho,
		},
		{
			Name:        helpCommand,
			Aliases:     []string{"commands"},
			Description: "List commands or describe one",
			Handler:     helpHandler(cmds),
		},
		{
			Name:        imagesCommand,
			Description: "Acknowledge images sent to the bot",
			Handler:     runImages,
		},
	} {
		if err := cmds.Register(cmd); err != nil {
			return err
		}
	}

	processors.Register(nlp.NewProcessor(proposeEcho,
		nlp.WithName("builtin.echo"),
		nlp.WithKeywords("repeat", "Repeat", "say", "Say"),
	))
	processors.Register(nlp.NewProcessor(proposeHelp,
		nlp.WithName("builtin.help"),
		nlp.WithKeywords("help", "Help", "what can you do", "What can you do", "commands"),
	))
	processors.Register(nlp.NewProcessor(proposeImages,
		nlp.WithName("builtin.images"),
		nlp.AllowEmptyMessage(true),
		nlp.OnlyShortMessage(false),
	))

	return nil
}

var echoPrefixes = []string{"repeat after me", "repeat", "say"}

func runEcho(ctx context.Context, s *command.Session) error {
	text := s.CurrentArg()
	if text == "" {
		text = s.ArgString("text")
	}
	if text == "" {
		return s.Send(ctx, "Nothing to repeat.")
	}
	return s.Send(ctx, text)
}

func proposeEcho(_ context.Context, s *nlp.Session) (nlp.Result, error) {
	text := s.Text()
	for _, prefix := range echoPrefixes {
		if len(text) < len(prefix) || !strings.EqualFold(text[:len(prefix)], prefix) {
			continue
		}
		if !endsWord(text[len(prefix):]) {
			continue
		}
		rest := strings.TrimLeftFunc(text[len(prefix):], func(r rune) bool {
			return unicode.IsSpace(r) || r == ':' || r == ','
		})
		if rest == "" {
			return nil, nil
		}
		return nlp.IntentCommand{Confidence: 90, Name: echoCommand, CurrentArg: rest}, nil
	}
	return nil, nil
}

// endsWord reports whether rest starts where a prefix word may end.
func endsWord(rest string) bool {
	if rest == "" {
		return true
	}
	r, _ := utf8.DecodeRuneInString(rest)
	return unicode.IsSpace(r) || r == ':' || r == ','
}

func helpHandler(cmds *command.Registry) command.Handler {
	return func(ctx context.Context, s *command.Session) error {
		if name := s.CurrentArg(); name != "" {
			cmd, err := cmds.Get(name)
			if err != nil {
				return s.Send(ctx, err.Error())
			}
			return s.Send(ctx, describe(cmd))
		}

		var b strings.Builder
		b.WriteString("Commands:")
		for _, cmd := range cmds.Commands() {
			b.WriteString("\n")
			b.WriteString(describe(cmd))
		}
		return s.Send(ctx, b.String())
	}
}

func describe(cmd *command.Command) string {
	line := cmd.Name
	if len(cmd.Aliases) > 0 {
		line += " (" + strings.Join(cmd.Aliases, ", ") + ")"
	}
	if cmd.Description != "" {
		line += ": " + cmd.Description
	}
	return line
}

// proposeHelp still answers with the legacy result shape.
func proposeHelp(_ context.Context, s *nlp.Session) (nlp.Result, error) {
	lower := strings.ToLower(s.Text())
	switch {
	case strings.Contains(lower, "what can you do"):
		return nlp.LegacyResult{Confidence: 80, Command: helpCommand}, nil
	case strings.Contains(lower, "help"), strings.Contains(lower, "commands"):
		return nlp.LegacyResult{Confidence: 65, Command: helpCommand}, nil
	default:
		return nil, nil
	}
}

func runImages(ctx context.Context, s *command.Session) error {
	var urls []string
	if raw, ok := s.Arg("urls"); ok {
		urls, _ = raw.([]string)
	}
	if len(urls) == 0 && s.Event() != nil {
		urls = s.Event().Message.ImageURLs()
	}
	if len(urls) == 0 {
		return s.Send(ctx, "No images received.")
	}
	return s.Send(ctx, fmt.Sprintf("Received %d image(s): %s", len(urls), strings.Join(urls, ", ")))
}

func proposeImages(_ context.Context, s *nlp.Session) (nlp.Result, error) {
	images := s.Images()
	if len(images) == 0 {
		return nil, nil
	}
	return nlp.IntentCommand{
		Confidence: 75,
		Name:       imagesCommand,
		Args:       map[string]any{"urls": images},
	}, nil
}
