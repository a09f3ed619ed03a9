package nlp

import "fmt"

// Result is what a processor handler proposes. It is implemented by
// IntentCommand and LegacyResult only.
type Result interface {
	intentCommand() IntentCommand
}

// IntentCommand is a command the user probably meant, scored by confidence.
// Confidence is calibrated on 0..100 where 100 means certain.
type IntentCommand struct {
	Confidence float64
	Name       string
	Args       map[string]any
	CurrentArg string
}

func (c IntentCommand) intentCommand() IntentCommand {
	return c
}

func (c IntentCommand) String() string {
	return fmt.Sprintf("IntentCommand(%s, confidence=%.2f)", c.Name, c.Confidence)
}

// LegacyResult is the older proposal shape without an argument cursor.
//
// Deprecated: return IntentCommand instead.
type LegacyResult struct {
	Confidence float64
	Command    string
	Args       map[string]any
}

func (r LegacyResult) intentCommand() IntentCommand {
	return IntentCommand{Confidence: r.Confidence, Name: r.Command, Args: r.Args}
}

// normalize converts a handler result into zero or one intent command.
func normalize(result Result) (IntentCommand, bool) {
	switch typed := result.(type) {
	case nil:
		return IntentCommand{}, false
	case IntentCommand:
		return typed, true
	case *IntentCommand:
		if typed == nil {
			return IntentCommand{}, false
		}
		return *typed, true
	case LegacyResult:
		return typed.intentCommand(), true
	case *LegacyResult:
		if typed == nil {
			return IntentCommand{}, false
		}
		return typed.intentCommand(), true
	default:
		return IntentCommand{}, false
	}
}
