package tui

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
)

// LineConsole is the plain fallback surface for pipes and dumb terminals:
// one line of input per line read, output printed as it arrives
type LineConsole struct {
	out io.Writer

	mu     sync.Mutex
	prompt string

	lines chan string
	err   error // set before lines is closed
}

// NewLineConsole reads lines from in and prints to out. nil means
// stdin and stdout.
func NewLineConsole(in io.Reader, out io.Writer, prompt string) *LineConsole {
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}

	c := &LineConsole{
		out:    out,
		prompt: prompt,
		lines:  make(chan string),
	}
	go c.read(in)
	return c
}

func (c *LineConsole) read(in io.Reader) {
	defer close(c.lines)

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	for scanner.Scan() {
		c.lines <- scanner.Text()
	}
	c.err = scanner.Err()
}

// Next returns the next input line, or io.EOF at the end of input
func (c *LineConsole) Next(ctx context.Context) (string, error) {
	select {
	case line, ok := <-c.lines:
		if !ok {
			if c.err != nil {
				return "", fmt.Errorf("read input: %w", c.err)
			}
			return "", io.EOF
		}
		return line, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Println writes one line
func (c *LineConsole) Println(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, line)
}

// SetPrompt records the prompt; it is printed only by Prompt
func (c *LineConsole) SetPrompt(prompt string) {
	c.mu.Lock()
	c.prompt = prompt
	c.mu.Unlock()
}

// Prompt prints the current prompt without a newline
func (c *LineConsole) Prompt() {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprint(c.out, c.prompt)
}

// Close is a no-op: a blocked read on stdin cannot be interrupted
func (c *LineConsole) Close() error {
	return nil
}
