package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"dataanalyst/internal/agent"
	"dataanalyst/internal/conversation"
)

var (
	userLabel      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	assistantLabel = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	warnStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

type renderer struct {
	out io.Writer
	md  *glamour.TermRenderer
}

func newRenderer(out io.Writer) *renderer {
	md, _ := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	return &renderer{out: out, md: md}
}

func (r *renderer) markdown(text string) string {
	if r.md == nil {
		return text + "\n"
	}
	rendered, err := r.md.Render(text)
	if err != nil {
		return text + "\n"
	}
	return rendered
}

func (r *renderer) response(resp agent.Response) {
	fmt.Fprint(r.out, r.markdown(resp.Text))
	if resp.UsedFallback {
		fmt.Fprintln(r.out, warnStyle.Render("(default visualization used)"))
	}
	if resp.ImagePath != "" {
		fmt.Fprintln(r.out, dimStyle.Render("image: "+resp.ImagePath))
	}
}

func (r *renderer) history(h conversation.History) {
	for _, t := range h {
		switch t.Role {
		case conversation.RoleUser:
			fmt.Fprintln(r.out, userLabel.Render("You"))
		case conversation.RoleAssistant:
			fmt.Fprintln(r.out, assistantLabel.Render("Analyst"))
		default:
			fmt.Fprintln(r.out, dimStyle.Render(strings.ToUpper(string(t.Role))))
		}
		fmt.Fprint(r.out, r.markdown(t.PlainText()))
	}
}
