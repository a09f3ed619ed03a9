package types

import "strings"

// CommandSpec describes one command the classifier may pick.
type CommandSpec struct {
	Name        string
	Description string
}

// ClassifyRequest asks a model to map a user message onto a known command.
type ClassifyRequest struct {
	Model    string
	Nickname string
	Text     string
	Commands []CommandSpec
}

// Classification is the normalized classifier answer. An empty Command means
// the model matched nothing.
type Classification struct {
	Command    string
	Confidence float64
	Args       map[string]any
	CurrentArg string
	Metadata   ClassificationMetadata
}

// Matched reports whether the model named a command.
func (c Classification) Matched() bool {
	return strings.TrimSpace(c.Command) != ""
}

// ClassificationMetadata carries provider/model identity and optional usage accounting.
type ClassificationMetadata struct {
	Provider string
	Model    string
	Usage    *TokenUsage
}

// TokenUsage captures token accounting across providers.
type TokenUsage struct {
	InputTokens     int64
	OutputTokens    int64
	TotalTokens     int64
	ReasoningTokens int64
	CacheReadTokens int64
}

// IsZero reports whether all token counters are unset/zero.
func (u TokenUsage) IsZero() bool {
	return u.InputTokens == 0 &&
		u.OutputTokens == 0 &&
		u.TotalTokens == 0 &&
		u.ReasoningTokens == 0 &&
		u.CacheReadTokens == 0
}
