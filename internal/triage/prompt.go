package triage

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

var (
	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#555555", Dark: "#999999"})
	titleStyle  = lipgloss.NewStyle().Bold(true)
	numberStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#005fd7", Dark: "#5fafff"})
	noticeStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#af0000", Dark: "#ff5f5f"})
)

// LinePrompter asks questions as numbered menus over plain streams. It
// works with pipes and scripted input.
type LinePrompter struct {
	in  *bufio.Reader
	out io.Writer
}

// NewLinePrompter creates a LinePrompter.
func NewLinePrompter(in io.Reader, out io.Writer) *LinePrompter {
	return &LinePrompter{in: bufio.NewReader(in), out: out}
}

// Choose prints p and reads one line. End of input is io.EOF.
func (l *LinePrompter) Choose(ctx context.Context, p Prompt) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if p.Header != "" {
		fmt.Fprintln(l.out, headerStyle.Render(strings.TrimRight(p.Header, "\n")))
		fmt.Fprintln(l.out)
	}
	if p.Kind == PromptMenu {
		fmt.Fprintln(l.out, titleStyle.Render(p.Title+":"))
		for i, opt := range p.Options {
			fmt.Fprintf(l.out, "  %s %s\n", numberStyle.Render("["+strconv.Itoa(i+1)+"]"), opt)
		}
		fmt.Fprint(l.out, "> ")
	} else {
		fmt.Fprint(l.out, titleStyle.Render(p.Title+": "))
	}

	line, err := l.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// Notify prints a message on its own line.
func (l *LinePrompter) Notify(msg string) {
	fmt.Fprintln(l.out, noticeStyle.Render(msg))
}

// FormPrompter asks questions with interactive terminal forms.
type FormPrompter struct {
	out io.Writer
}

// NewFormPrompter creates a FormPrompter writing notices to out.
func NewFormPrompter(out io.Writer) *FormPrompter {
	return &FormPrompter{out: out}
}

// Choose runs a select form for menus and an input form for text. The
// returned menu answer is the 1-based option number. Aborting the form
// yields io.EOF.
func (f *FormPrompter) Choose(ctx context.Context, p Prompt) (string, error) {
	var answer string
	var field huh.Field
	if p.Kind == PromptMenu {
		opts := make([]huh.Option[string], len(p.Options))
		for i, label := range p.Options {
			opts[i] = huh.NewOption(label, strconv.Itoa(i+1))
		}
		field = huh.NewSelect[string]().
			Title(p.Title).
			Description(strings.TrimRight(p.Header, "\n")).
			Options(opts...).
			Value(&answer)
	} else {
		field = huh.NewInput().
			Title(p.Title).
			Value(&answer)
	}

	err := huh.NewForm(huh.NewGroup(field)).RunWithContext(ctx)
	if errors.Is(err, huh.ErrUserAborted) {
		return "", io.EOF
	}
	if err != nil {
		return "", err
	}
	return answer, nil
}

// Notify prints a message on its own line.
func (f *FormPrompter) Notify(msg string) {
	fmt.Fprintln(f.out, noticeStyle.Render(msg))
}

// IsTerminal reports whether fd is an interactive terminal.
func IsTerminal(fd uintptr) bool {
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// NewPrompter returns a FormPrompter when stdin and stdout are terminals,
// else a LinePrompter over stdin and stdout.
func NewPrompter() Decider {
	if IsTerminal(os.Stdin.Fd()) && IsTerminal(os.Stdout.Fd()) {
		return NewFormPrompter(os.Stdout)
	}
	return NewLinePrompter(os.Stdin, os.Stdout)
}
