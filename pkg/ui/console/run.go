// Package console is a terminal chat that feeds typed lines through the
// message pipeline as if they came from a private chat.
package console

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Reply is what the pipeline produced for one typed line.
type Reply struct {
	Handled bool
	Route   string
	Replies []string
}

// SendFunc delivers one typed line.
type SendFunc func(ctx context.Context, text string) (Reply, error)

// Info is shown in the header.
type Info struct {
	Nickname   string
	Processors int
	Commands   int
	Threshold  float64
}

func Run(ctx context.Context, send SendFunc, info Info) error {
	program := tea.NewProgram(newModel(ctx, send, info), tea.WithAltScreen(), tea.WithMouseCellMotion())
	if _, err := program.Run(); err != nil {
		return err
	}

	fmt.Println(renderGoodbyeBanner())
	return nil
}

func renderGoodbyeBanner() string {
	style := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("230")).
		Background(lipgloss.Color("24")).
		Padding(1, 2)

	return style.Render("Bye from nlroute")
}
