package tui

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	titleStyle = lipgloss.NewStyle().Bold(true)
)

// Confirm asks a yes/no question on stderr and reads the answer from stdin
func Confirm(prompt string, defaultYes bool) (bool, error) {
	return ConfirmFrom(os.Stdin, os.Stderr, prompt, defaultYes)
}

// ConfirmFrom is Confirm over the given reader and writer. An empty or
// unrecognised answer takes the default.
func ConfirmFrom(in io.Reader, out io.Writer, prompt string, defaultYes bool) (bool, error) {
	choices := "[y/N]"
	if defaultYes {
		choices = "[Y/n]"
	}
	fmt.Fprintf(out, "%s %s ", prompt, choices)

	answer, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && answer != "") {
		return false, err
	}

	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true, nil
	case "n", "no":
		return false, nil
	}
	return defaultYes, nil
}

// Box frames content under a bold title with a rounded border
func Box(title, content string) string {
	body := titleStyle.Render(title)
	if content != "" {
		body += "\n\n" + content
	}
	return boxStyle.Render(body) + "\n"
}
