package cli

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/indent"
	"github.com/muesli/reflow/wordwrap"
	"github.com/muesli/termenv"

	"github.com/macropower/watchdo/pkg/execs"
	"github.com/macropower/watchdo/pkg/task"
)

const bannerIndent = 2

type bannerStyles struct {
	rule  lipgloss.Style
	title lipgloss.Style
	task  lipgloss.Style
	hint  lipgloss.Style
}

func newBannerStyles(profile termenv.Profile) bannerStyles {
	r := lipgloss.NewRenderer(io.Discard)
	r.SetColorProfile(profile)

	return bannerStyles{
		rule:  r.NewStyle().Foreground(lipgloss.Color("8")),
		title: r.NewStyle().Bold(true),
		task:  r.NewStyle().Foreground(lipgloss.Color("10")).Bold(true),
		hint:  r.NewStyle().Foreground(lipgloss.Color("12")),
	}
}

// banner renders the startup summary: every task's tool tips, and the
// commands that follow or page through each task's log.
type banner struct {
	styles bannerStyles
	pager  string
	width  int
}

func (b banner) render(descs []task.Descriptor) string {
	var sb strings.Builder

	rule := b.styles.rule.Render(strings.Repeat("─", b.width))

	if slices.ContainsFunc(descs, func(d task.Descriptor) bool { return len(d.ToolTips) > 0 }) {
		sb.WriteString(rule + "\n")
		sb.WriteString(b.styles.title.Render("Tool tips:") + "\n")

		for _, d := range descs {
			if len(d.ToolTips) == 0 {
				continue
			}

			sb.WriteString("\n" + b.styles.task.Render(d.Name) + "\n")

			for _, tip := range d.ToolTips {
				sb.WriteString(b.indent(wordwrap.String(tip, b.width-bannerIndent)) + "\n")
			}
		}

		sb.WriteString("\n")
	}

	sb.WriteString(rule + "\n")
	sb.WriteString(b.styles.title.Render("Logs:") + "\n")

	for _, d := range descs {
		path := execs.Quote(d.LogPath)

		sb.WriteString("\n" + b.styles.task.Render(d.Name) + "\n")
		sb.WriteString(b.indent(b.styles.hint.Render("tail -f "+path)) + "\n")

		if b.pager != "" {
			sb.WriteString(b.indent(b.styles.hint.Render(b.pager+" "+path)) + "\n")
		}
	}

	sb.WriteString("\n" + rule + "\n")

	return sb.String()
}

func (b banner) indent(s string) string {
	return indent.String(s, bannerIndent)
}

// printBanner writes the startup banner for descs to w.
func printBanner(w io.Writer, descs []task.Descriptor, pager string) error {
	b := banner{
		styles: newBannerStyles(colorProfile(w)),
		pager:  pager,
		width:  max(terminalWidth(w), 20),
	}

	_, err := io.WriteString(w, b.render(descs))
	if err != nil {
		return fmt.Errorf("write banner: %w", err)
	}

	return nil
}
