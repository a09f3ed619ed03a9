// Package admin lets super users inspect and toggle the processors a running
// dispatcher consults.
package admin

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"nlroute/pkg/command"
	"nlroute/pkg/nlp"
	"nlroute/pkg/permission"
)

const commandName = "nlp"

const usage = "Usage: nlp [list | on <name> | off <name> | toggle <name>]"

// Register installs the nlp command. available is every processor that may be
// switched on; working is the dispatcher's own registry.
func Register(cmds *command.Registry, available []*nlp.Processor, working *nlp.Registry, superUsers []string) error {
	if cmds == nil || working == nil {
		return errors.New("admin: command registry and working registry are required")
	}

	byName := make(map[string]*nlp.Processor, len(available))
	order := make([]*nlp.Processor, 0, len(available))
	for _, p := range available {
		if p == nil {
			continue
		}
		if _, dup := byName[p.Name()]; dup {
			continue
		}
		byName[p.Name()] = p
		order = append(order, p)
	}

	return cmds.Register(&command.Command{
		Name:        commandName,
		Aliases:     []string{"processors"},
		Description: "List or toggle natural language processors",
		Permission:  permission.SuperUser(superUsers...),
		Handler: func(ctx context.Context, s *command.Session) error {
			return s.Send(ctx, run(s.CurrentArg(), order, byName, working))
		},
	})
}

func run(arg string, order []*nlp.Processor, byName map[string]*nlp.Processor, working *nlp.Registry) string {
	fields := strings.Fields(arg)
	if len(fields) == 0 || (len(fields) == 1 && fields[0] == "list") {
		return list(order, working)
	}
	if len(fields) != 2 {
		return usage
	}

	p, ok := byName[fields[1]]
	if !ok {
		return fmt.Sprintf("Unknown processor: %s", fields[1])
	}

	var action nlp.ToggleAction
	switch strings.ToLower(fields[0]) {
	case "on":
		action = working.SetEnabled(p, true)
	case "off":
		action = working.SetEnabled(p, false)
	case "toggle":
		action = working.Toggle(p)
	default:
		return usage
	}

	switch action {
	case nlp.ToggleAdded:
		return fmt.Sprintf("%s enabled", p.Name())
	case nlp.ToggleRemoved:
		return fmt.Sprintf("%s disabled", p.Name())
	default:
		return fmt.Sprintf("%s unchanged", p.Name())
	}
}

func list(order []*nlp.Processor, working *nlp.Registry) string {
	if len(order) == 0 {
		return "No processors."
	}

	lines := make([]string, 0, len(order)+1)
	lines = append(lines, "Processors:")
	for _, p := range order {
		state := "off"
		if working.Contains(p) {
			state = "on"
		}
		lines = append(lines, fmt.Sprintf("%s [%s]", p.Name(), state))
	}

	return strings.Join(lines, "\n")
}
