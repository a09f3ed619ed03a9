package console

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	roleUser  = "user"
	roleBot   = "bot"
	roleQuiet = "quiet"
	roleError = "error"
)

type entry struct {
	role    string
	content string
}

type replyMsg struct {
	reply Reply
	err   error
}

type model struct {
	ctx  context.Context
	send SendFunc
	info Info

	theme     theme
	spinner   spinner.Model
	input     textinput.Model
	viewport  viewport.Model
	entries   []entry
	width     int
	height    int
	isReady   bool
	isLoading bool
	lastErr   string
	followLog bool
	handled   int
	sent      int
}

func newModel(ctx context.Context, send SendFunc, info Info) *model {
	spin := spinner.New()
	spin.Spinner = spinner.Points
	spin.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("44"))

	in := textinput.New()
	in.Prompt = ""
	in.Placeholder = "Say something..."
	in.Focus()
	in.CharLimit = 0

	return &model{
		ctx:       ctx,
		send:      send,
		info:      info,
		theme:     defaultTheme(),
		spinner:   spin,
		input:     in,
		viewport:  viewport.New(80, 12),
		width:     100,
		height:    28,
		followLog: true,
	}
}

func (m *model) Init() tea.Cmd {
	return textinput.Blink
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = typed.Width
		m.height = typed.Height
		m.resizeComponents()
		m.refreshViewport(false)
		m.isReady = true
		return m, nil
	case tea.MouseMsg:
		m.handleViewportMouse(typed)
		return m, nil
	case tea.KeyMsg:
		switch typed.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "enter":
			return m, m.submit()
		}
		if m.handleViewportKey(typed) {
			return m, nil
		}
	case spinner.TickMsg:
		if !m.isLoading {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(typed)
		return m, cmd
	case replyMsg:
		m.applyReply(typed)
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *model) submit() tea.Cmd {
	if m.isLoading {
		return nil
	}

	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return nil
	}
	if isExitCommand(text) {
		return tea.Quit
	}

	m.lastErr = ""
	m.sent++
	m.entries = append(m.entries, entry{role: roleUser, content: text})
	m.input.SetValue("")
	m.isLoading = true
	m.followLog = true
	m.refreshViewport(true)

	return tea.Batch(m.spinner.Tick, sendCmd(m.ctx, m.send, text))
}

func (m *model) applyReply(msg replyMsg) {
	m.isLoading = false

	switch {
	case msg.err != nil:
		m.lastErr = msg.err.Error()
		m.entries = append(m.entries, entry{role: roleError, content: msg.err.Error()})
	case !msg.reply.Handled && len(msg.reply.Replies) == 0:
		m.entries = append(m.entries, entry{role: roleQuiet, content: "(no intent matched)"})
	default:
		if msg.reply.Handled {
			m.handled++
		}
		for _, text := range msg.reply.Replies {
			m.entries = append(m.entries, entry{role: roleBot, content: text})
		}
	}

	m.refreshViewport(false)
}

func (m *model) View() string {
	if !m.isReady {
		m.resizeComponents()
		m.refreshViewport(false)
	}

	header := m.theme.header.Width(m.width - 2).Render("nlroute console")
	meta := m.theme.headerMeta.Render(fmt.Sprintf(
		"nickname:%s · processors:%d · commands:%d · threshold:%g · handled:%d/%d",
		displayOrNA(m.info.Nickname),
		m.info.Processors,
		m.info.Commands,
		m.info.Threshold,
		m.handled,
		m.sent,
	))
	line := m.theme.divider.Width(m.width - 2).Render(strings.Repeat("─", max(8, m.width-2)))

	status := m.theme.status.Render("Enter send · PgUp/PgDn scroll · End jump latest · Ctrl+C/Esc quit")
	if m.isLoading {
		status = m.theme.statusBusy.Render(m.spinner.View() + " dispatching...")
	}
	if m.lastErr != "" {
		status = m.theme.statusErr.Render("last message failed")
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		meta,
		line,
		m.theme.viewport.Width(m.width-2).Render(m.viewport.View()),
		status,
		m.theme.inputLabel.Render("You")+" "+m.theme.hint.Render("(type /exit, quit, or :q)"),
		m.theme.input.Width(m.width-2).Render(m.input.View()),
	)
}

func (m *model) resizeComponents() {
	m.viewport.Width = max(50, m.width-6)
	m.viewport.Height = max(8, m.height-10)
	m.input.Width = m.viewport.Width - 2
}

func (m *model) refreshViewport(forceBottom bool) {
	previousOffset := m.viewport.YOffset

	sections := make([]string, 0, len(m.entries))
	for _, item := range m.entries {
		sections = append(sections, m.renderEntry(item))
	}

	m.viewport.SetContent(strings.Join(sections, "\n"))
	if m.followLog || forceBottom {
		m.viewport.GotoBottom()
		m.followLog = true
		return
	}

	maxOffset := max(0, m.viewport.TotalLineCount()-m.viewport.Height)
	m.viewport.SetYOffset(min(previousOffset, maxOffset))
}

func (m *model) renderEntry(item entry) string {
	width := m.viewport.Width
	content := strings.TrimSpace(item.content)

	switch item.role {
	case roleUser:
		return lipgloss.JoinVertical(lipgloss.Left, m.theme.userTitle.Render("you"), m.theme.userBox.Width(width).Render(content))
	case roleBot:
		return lipgloss.JoinVertical(lipgloss.Left, m.theme.botTitle.Render("bot"), m.theme.botBox.Width(width).Render(content))
	case roleError:
		return lipgloss.JoinVertical(lipgloss.Left, m.theme.errorTitle.Render("error"), m.theme.errorBox.Width(width).Render(content))
	default:
		return m.theme.quietBox.Render(content)
	}
}

func (m *model) handleViewportKey(msg tea.KeyMsg) bool {
	switch msg.String() {
	case "pgup", "ctrl+b":
		m.viewport.PageUp()
		m.followLog = false
		return true
	case "pgdown", "ctrl+f":
		m.viewport.PageDown()
		m.followLog = m.viewport.AtBottom()
		return true
	case "home":
		m.viewport.GotoTop()
		m.followLog = false
		return true
	case "end":
		m.viewport.GotoBottom()
		m.followLog = true
		return true
	default:
		return false
	}
}

func (m *model) handleViewportMouse(msg tea.MouseMsg) bool {
	if msg.Action != tea.MouseActionPress {
		return false
	}

	switch msg.Button {
	case tea.MouseButtonWheelUp:
		m.viewport.ScrollUp(3)
		m.followLog = false
		return true
	case tea.MouseButtonWheelDown:
		m.viewport.ScrollDown(3)
		m.followLog = m.viewport.AtBottom()
		return true
	default:
		return false
	}
}

func sendCmd(ctx context.Context, send SendFunc, text string) tea.Cmd {
	return func() tea.Msg {
		reply, err := send(ctx, text)
		return replyMsg{reply: reply, err: err}
	}
}

func displayOrNA(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "n/a"
	}

	return trimmed
}

func isExitCommand(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "exit", "/exit", "quit", ":q":
		return true
	default:
		return false
	}
}
