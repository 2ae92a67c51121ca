package auth

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrSkip means the user chose to finish MFA in the browser.
var ErrSkip = errors.New("auth: manual completion requested")

// CodePrompter asks a human for a verification code.
type CodePrompter interface {
	PromptCode(ctx context.Context, attempt, max int) (string, error)
}

// TerminalPrompter reads codes line by line from In.
type TerminalPrompter struct {
	In  io.Reader
	Out io.Writer

	reader *bufio.Reader
}

func NewTerminalPrompter(in io.Reader, out io.Writer) *TerminalPrompter {
	return &TerminalPrompter{In: in, Out: out, reader: bufio.NewReader(in)}
}

// PromptCode prints a prompt and waits for a line. Typing "skip" returns
// ErrSkip. The read is abandoned, not interrupted, when ctx ends.
func (p *TerminalPrompter) PromptCode(ctx context.Context, attempt, max int) (string, error) {
	if p.reader == nil {
		p.reader = bufio.NewReader(p.In)
	}
	fmt.Fprintf(p.Out, "Enter verification code (attempt %d/%d, or 'skip' to finish in the browser): ", attempt, max)

	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := p.reader.ReadString('\n')
		ch <- result{line, err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-ch:
		line := strings.TrimSpace(r.line)
		if r.err != nil && line == "" {
			if errors.Is(r.err, io.EOF) {
				return "", ErrSkip
			}
			return "", r.err
		}
		if strings.EqualFold(line, "skip") {
			return "", ErrSkip
		}
		return line, nil
	}
}

// staticPrompter replays fixed answers; used by the login command when a
// code is passed on the command line.
type staticPrompter struct {
	codes []string
}

// NewStaticPrompter returns a prompter that answers with codes in order and
// then skips.
func NewStaticPrompter(codes ...string) CodePrompter {
	return &staticPrompter{codes: codes}
}

func (s *staticPrompter) PromptCode(ctx context.Context, attempt, max int) (string, error) {
	if len(s.codes) == 0 {
		return "", ErrSkip
	}
	code := s.codes[0]
	s.codes = s.codes[1:]
	if strings.EqualFold(code, "skip") {
		return "", ErrSkip
	}
	return code, nil
}
