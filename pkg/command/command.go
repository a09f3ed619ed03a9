package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"nlroute/pkg/event"
	"nlroute/pkg/permission"
)

var (
	ErrDuplicateCommand = errors.New("command already registered")
	ErrInvalidCommand   = errors.New("invalid command")
	ErrUnknownCommand   = errors.New("unknown command")
)

// Handler runs one command invocation.
type Handler func(ctx context.Context, session *Session) error

// Command is a named action users can invoke directly or through intent
// routing.
type Command struct {
	Name        string
	Aliases     []string
	Description string
	Handler     Handler
	// Permission gates direct invocations. Nil allows everyone.
	Permission permission.Checker
}

// Session carries one command invocation.
type Session struct {
	host       event.Host
	event      *event.Event
	command    *Command
	args       map[string]any
	currentArg string
}

func (s *Session) Host() event.Host {
	return s.host
}

func (s *Session) Event() *event.Event {
	return s.event
}

func (s *Session) Command() *Command {
	return s.command
}

// CurrentArg is the unparsed argument text.
func (s *Session) CurrentArg() string {
	return s.currentArg
}

// Arg returns one parsed argument.
func (s *Session) Arg(key string) (any, bool) {
	value, ok := s.args[key]
	return value, ok
}

// ArgString returns an argument formatted as text, or "" when missing.
func (s *Session) ArgString(key string) string {
	value, ok := s.args[key]
	if !ok || value == nil {
		return ""
	}
	if text, ok := value.(string); ok {
		return text
	}

	return fmt.Sprint(value)
}

// Send replies to the chat the invocation came from.
func (s *Session) Send(ctx context.Context, text string) error {
	return s.host.Send(ctx, s.event, text)
}

// Registry holds commands by name and alias. It is safe for concurrent use.
type Registry struct {
	log *slog.Logger

	mu       sync.RWMutex
	commands map[string]*Command
	aliases  map[string]string
}

var defaultRegistry = NewRegistry(nil)

// NewRegistry returns an empty registry. A nil logger uses slog.Default.
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}

	return &Registry{
		log:      log.With("component", "command.registry"),
		commands: make(map[string]*Command),
		aliases:  make(map[string]string),
	}
}

// DefaultRegistry is the process-wide registry plugins register into.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// Register adds cmd to the default registry.
func Register(cmd *Command) error {
	return defaultRegistry.Register(cmd)
}

// Register adds cmd. Names and aliases share one namespace.
func (r *Registry) Register(cmd *Command) error {
	if cmd == nil || cmd.Handler == nil {
		return fmt.Errorf("%w: handler is required", ErrInvalidCommand)
	}

	name := normalizeName(cmd.Name)
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidCommand)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	keys := []string{name}
	for _, alias := range cmd.Aliases {
		if alias = normalizeName(alias); alias != "" {
			keys = append(keys, alias)
		}
	}
	for _, key := range keys {
		if _, ok := r.resolveLocked(key); ok {
			return fmt.Errorf("%w: %s", ErrDuplicateCommand, key)
		}
	}

	r.commands[name] = cmd
	for _, alias := range keys[1:] {
		r.aliases[alias] = name
	}

	return nil
}

// Lookup resolves a command by name or alias.
func (r *Registry) Lookup(name string) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.resolveLocked(normalizeName(name))
}

// Get is Lookup reporting ErrUnknownCommand for missing names.
func (r *Registry) Get(name string) (*Command, error) {
	cmd, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, strings.TrimSpace(name))
	}

	return cmd, nil
}

// Commands returns all commands sorted by name.
func (r *Registry) Commands() []*Command {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Command, 0, len(r.commands))
	for _, cmd := range r.commands {
		out = append(out, cmd)
	}
	slices.SortFunc(out, func(a, b *Command) int {
		return strings.Compare(normalizeName(a.Name), normalizeName(b.Name))
	})

	return out
}

// Call runs the named command for ev. Unknown commands and denied
// permissions report false without error; a failing handler reports false
// with its error.
func (r *Registry) Call(ctx context.Context, host event.Host, ev *event.Event, name string, args map[string]any, currentArg string, checkPermission bool) (bool, error) {
	cmd, ok := r.Lookup(name)
	if !ok {
		r.log.Debug("Command not found", "command", name)
		return false, nil
	}

	if checkPermission {
		allowed, err := permission.Check(ctx, cmd.Permission, host, ev)
		if err != nil {
			r.log.Warn("Command permission check failed", "command", cmd.Name, "error", err)
			return false, nil
		}
		if !allowed {
			r.log.Debug("Command permission denied", "command", cmd.Name)
			return false, nil
		}
	}

	session := &Session{
		host:       host,
		event:      ev,
		command:    cmd,
		args:       args,
		currentArg: strings.TrimSpace(currentArg),
	}
	r.log.Debug("Running command", "command", cmd.Name, "check_permission", checkPermission)

	if err := runHandler(ctx, cmd.Handler, session); err != nil {
		return false, fmt.Errorf("run command %q: %w", cmd.Name, err)
	}

	return true, nil
}

func runHandler(ctx context.Context, handler Handler, session *Session) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("command panicked: %v", r)
		}
	}()

	return handler(ctx, session)
}

func (r *Registry) resolveLocked(key string) (*Command, bool) {
	if cmd, ok := r.commands[key]; ok {
		return cmd, true
	}
	if target, ok := r.aliases[key]; ok {
		cmd, ok := r.commands[target]
		return cmd, ok
	}

	return nil, false
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
