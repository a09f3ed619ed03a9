package nlp

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"nlroute/pkg/permission"
)

// Handler interprets a session and may propose a command. Returning a nil
// Result means no proposal.
type Handler func(ctx context.Context, session *Session) (Result, error)

// Processor pairs a Handler with the rules deciding which messages reach it.
// A Processor is immutable; registries compare processors by pointer.
type Processor struct {
	name              string
	handler           Handler
	keywords          []string
	onlyToMe          bool
	onlyShortMessage  bool
	allowEmptyMessage bool
	permission        permission.Checker
}

// ProcessorOption customizes a Processor at construction.
type ProcessorOption func(*Processor)

// WithName sets the name used in logs.
func WithName(name string) ProcessorOption {
	return func(p *Processor) {
		p.name = strings.TrimSpace(name)
	}
}

// WithKeywords requires at least one keyword to appear in the transcript.
func WithKeywords(keywords ...string) ProcessorOption {
	return func(p *Processor) {
		p.keywords = append([]string(nil), keywords...)
	}
}

// OnlyToMe controls whether the message must address the bot directly.
// Enabled by default.
func OnlyToMe(enabled bool) ProcessorOption {
	return func(p *Processor) {
		p.onlyToMe = enabled
	}
}

// OnlyShortMessage controls whether long transcripts are skipped. Enabled by
// default.
func OnlyShortMessage(enabled bool) ProcessorOption {
	return func(p *Processor) {
		p.onlyShortMessage = enabled
	}
}

// AllowEmptyMessage controls whether empty messages reach the handler.
// Disabled by default.
func AllowEmptyMessage(enabled bool) ProcessorOption {
	return func(p *Processor) {
		p.allowEmptyMessage = enabled
	}
}

// WithPermission sets the permission gate. Everyone is allowed by default.
func WithPermission(checker permission.Checker) ProcessorOption {
	return func(p *Processor) {
		p.permission = checker
	}
}

// NewProcessor builds a processor around handler.
func NewProcessor(handler Handler, opts ...ProcessorOption) *Processor {
	p := &Processor{
		handler:          handler,
		onlyToMe:         true,
		onlyShortMessage: true,
		permission:       permission.Everyone,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.name == "" {
		p.name = fmt.Sprintf("processor@%p", p)
	}

	return p
}

func (p *Processor) Name() string {
	return p.name
}

func (p *Processor) Keywords() []string {
	return append([]string(nil), p.keywords...)
}

// Test reports whether the session is eligible for this processor.
func (p *Processor) Test(ctx context.Context, s *Session) (bool, error) {
	return p.TestWithLength(ctx, s, utf8.RuneCountInString(s.Text()))
}

// TestWithLength is Test with the transcript length precomputed, so a
// dispatch can count it once for all processors. textLength must equal the
// number of characters in s.Text().
//
// A failing permission check makes the session ineligible; its error is
// returned for logging.
func (p *Processor) TestWithLength(ctx context.Context, s *Session, textLength int) (bool, error) {
	if !p.allowEmptyMessage && s.Raw() == "" {
		return false, nil
	}

	if p.onlyShortMessage && textLength > shortMessageMaxLength(s) {
		return false, nil
	}

	if p.onlyToMe && !s.ToMe() {
		return false, nil
	}

	ok, err := permission.Check(ctx, p.permission, s.Host(), s.Event())
	if err != nil {
		return false, fmt.Errorf("check permission for %s: %w", p.name, err)
	}
	if !ok {
		return false, nil
	}

	if len(p.keywords) == 0 {
		return true, nil
	}
	for _, kw := range p.keywords {
		if strings.Contains(s.Text(), kw) {
			return true, nil
		}
	}

	return false, nil
}

func (p *Processor) run(ctx context.Context, s *Session) (result Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()

	return p.handler(ctx, s)
}

func shortMessageMaxLength(s *Session) int {
	if s.Host() == nil {
		return DefaultShortMessageMaxLength
	}

	return s.Host().ShortMessageMaxLength()
}
