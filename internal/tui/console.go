package tui

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"hubcast.dev/go/hubcast/internal/protocol"
)

// ErrInterrupted is returned by Next after the user pressed Ctrl+C
var ErrInterrupted = errors.New("interrupted")

const (
	maxHistory    = 1000
	inputBuffer   = 64
	printBuffer   = 1024
	inputCharsMax = 4096

	// logPrefix marks log records mirrored into the console
	logPrefix = "LOG: "
)

var (
	logStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	serverStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true)
	peerStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	sepStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// Surface is where a session shows lines and reads what the user types
type Surface interface {
	Next(ctx context.Context) (string, error)
	Println(line string)
	SetPrompt(prompt string)
	Close() error
}

// Open returns the full-screen console on a terminal and a plain line
// console otherwise
func Open(prompt string) Surface {
	if IsInteractive() {
		return NewConsole(prompt)
	}
	return NewLineConsole(nil, nil, prompt)
}

type printMsg struct{ line string }

type promptMsg struct{ prompt string }

// Console is a full-screen chat view: a scrolling history above a
// single-line input
type Console struct {
	program *tea.Program
	lines   chan string
	prints  chan string
	done    chan struct{}

	mu          sync.Mutex
	interrupted bool
	closeOnce   sync.Once
}

// NewConsole starts the console on the terminal
func NewConsole(prompt string, opts ...tea.ProgramOption) *Console {
	c := &Console{
		lines:  make(chan string, inputBuffer),
		prints: make(chan string, printBuffer),
		done:   make(chan struct{}),
	}

	m := newConsoleModel(prompt, c.submit, c.interrupt)
	c.program = tea.NewProgram(m, append([]tea.ProgramOption{tea.WithAltScreen()}, opts...)...)

	go func() {
		defer close(c.done)
		c.program.Run()
	}()
	go c.pump()
	return c
}

// Next blocks for the next submitted line. It returns io.EOF once the
// console is closed and ErrInterrupted after Ctrl+C.
func (c *Console) Next(ctx context.Context) (string, error) {
	select {
	case line := <-c.lines:
		return line, nil
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.interrupted {
			return "", ErrInterrupted
		}
		return "", io.EOF
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Println appends a line to the history. It never blocks; lines printed
// faster than the terminal redraws are dropped.
func (c *Console) Println(line string) {
	select {
	case c.prints <- line:
	default:
	}
}

// SetPrompt changes the input prompt
func (c *Console) SetPrompt(prompt string) {
	go c.program.Send(promptMsg{prompt: prompt})
}

// Done is closed when the console has exited
func (c *Console) Done() <-chan struct{} {
	return c.done
}

// Close restores the terminal
func (c *Console) Close() error {
	c.closeOnce.Do(func() {
		c.program.Quit()
		<-c.done
	})
	return nil
}

func (c *Console) pump() {
	for {
		select {
		case line := <-c.prints:
			c.program.Send(printMsg{line: line})
		case <-c.done:
			return
		}
	}
}

func (c *Console) submit(line string) bool {
	select {
	case c.lines <- line:
		return true
	default:
		return false
	}
}

func (c *Console) interrupt() {
	c.mu.Lock()
	c.interrupted = true
	c.mu.Unlock()
}

// consoleModel is the bubbletea model behind Console
type consoleModel struct {
	viewport    viewport.Model
	input       textinput.Model
	history     []string
	submit      func(string) bool
	onInterrupt func()
	width       int
	ready       bool
}

func newConsoleModel(prompt string, submit func(string) bool, onInterrupt func()) consoleModel {
	ti := textinput.New()
	ti.Prompt = prompt
	ti.CharLimit = inputCharsMax
	ti.Focus()

	return consoleModel{
		input:       ti,
		submit:      submit,
		onInterrupt: onInterrupt,
	}
}

func (m consoleModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m consoleModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		// separator + input line
		height := max(msg.Height-2, 1)
		if !m.ready {
			m.viewport = viewport.New(msg.Width, height)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = height
		}
		m.input.Width = max(msg.Width-len(m.input.Prompt)-1, 1)
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			if m.onInterrupt != nil {
				m.onInterrupt()
			}
			return m, tea.Quit
		case "enter":
			line := m.input.Value()
			m.input.Reset()
			if m.submit != nil && !m.submit(line) {
				m.appendLine(logPrefix + "input dropped, still sending the previous line")
			}
			return m, nil
		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

	case printMsg:
		m.appendLine(msg.line)
		return m, nil

	case promptMsg:
		m.input.Prompt = msg.prompt
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *consoleModel) appendLine(line string) {
	m.history = append(m.history, line)
	if len(m.history) > maxHistory {
		m.history = m.history[len(m.history)-maxHistory:]
	}
	m.refresh()
}

func (m *consoleModel) refresh() {
	if !m.ready {
		return
	}
	styled := make([]string, len(m.history))
	for i, line := range m.history {
		styled[i] = styleLine(line, m.width)
	}
	m.viewport.SetContent(strings.Join(styled, "\n"))
	m.viewport.GotoBottom()
}

func (m consoleModel) View() string {
	if !m.ready {
		return m.input.View()
	}

	var b strings.Builder
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	b.WriteString(sepStyle.Render(strings.Repeat("─", m.width)))
	b.WriteString("\n")
	b.WriteString(m.input.View())
	return b.String()
}

// styleLine colors a history line by what kind of line it is and wraps it
// to width
func styleLine(line string, width int) string {
	style := lipgloss.NewStyle()
	if strings.HasPrefix(line, logPrefix) {
		style = logStyle
	} else {
		switch protocol.ParseEnvelope(line).Kind {
		case protocol.KindOperator:
			style = serverStyle
		case protocol.KindJoined, protocol.KindLeft:
			style = peerStyle
		}
	}
	if width > 0 {
		style = style.Width(width)
	}
	return style.Render(line)
}
