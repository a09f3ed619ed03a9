// Package classify holds the prompt and answer format shared by every
// classifier backend.
package classify

import (
	"errors"
	"fmt"
	"math"
	"strings"

	providertypes "nlroute/pkg/provider/types"

	"github.com/tidwall/gjson"
)

const instructionsTemplate = `You route chat messages to bot commands.
%sPick the single command the user most likely wants from this list:
%s
Reply with one JSON object and nothing else:
{"command": "<name or empty>", "confidence": <0-100>, "args": {<named arguments>}, "current_arg": "<free text argument>"}
Use an empty command and confidence 0 when nothing fits.`

// Instructions renders the routing prompt listing req.Commands.
func Instructions(req providertypes.ClassifyRequest) string {
	var list strings.Builder
	for _, cmd := range req.Commands {
		list.WriteString("- ")
		list.WriteString(cmd.Name)
		if desc := strings.TrimSpace(cmd.Description); desc != "" {
			list.WriteString(": ")
			list.WriteString(desc)
		}
		list.WriteByte('\n')
	}

	identity := ""
	if nickname := strings.TrimSpace(req.Nickname); nickname != "" {
		identity = fmt.Sprintf("Your name is %s.\n", nickname)
	}

	return fmt.Sprintf(instructionsTemplate, identity, strings.TrimRight(list.String(), "\n"))
}

// Parse reads the model's JSON answer. Models like to wrap JSON
// in prose or code fences, so only the outermost object is considered.
// Commands outside known are reported as unmatched.
func Parse(output string, known []providertypes.CommandSpec) (providertypes.Classification, error) {
	start := strings.IndexByte(output, '{')
	end := strings.LastIndexByte(output, '}')
	if start < 0 || end < start {
		return providertypes.Classification{}, errors.New("classifier output has no JSON object")
	}

	raw := output[start : end+1]
	if !gjson.Valid(raw) {
		return providertypes.Classification{}, fmt.Errorf("classifier output is not valid JSON: %q", raw)
	}

	parsed := gjson.Parse(raw)
	name := strings.TrimSpace(parsed.Get("command").String())
	if name == "" || !isKnown(name, known) {
		return providertypes.Classification{}, nil
	}

	result := providertypes.Classification{
		Command:    name,
		Confidence: clampConfidence(parsed.Get("confidence").Float()),
		CurrentArg: strings.TrimSpace(parsed.Get("current_arg").String()),
	}

	if args := parsed.Get("args"); args.IsObject() {
		result.Args = make(map[string]any)
		args.ForEach(func(key, value gjson.Result) bool {
			result.Args[key.String()] = value.Value()
			return true
		})
	}

	return result, nil
}

func isKnown(name string, known []providertypes.CommandSpec) bool {
	for _, cmd := range known {
		if strings.EqualFold(cmd.Name, name) {
			return true
		}
	}
	return false
}

func clampConfidence(value float64) float64 {
	switch {
	case math.IsNaN(value), value < 0:
		return 0
	case value > 100:
		return 100
	default:
		return value
	}
}
