package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

var (
	stdin  io.Reader = os.Stdin
	stderr io.Writer = os.Stderr
)

const sidesMenu = `Which side should be tracked?
  1) calls
  2) puts
  3) both
Choice [3]: `

// pickSides asks on the terminal which sides to monitor. Without a
// terminal it returns fallback unchanged.
func pickSides(fallback []string) ([]string, error) {
	if !isTerminal(os.Stdin) {
		return fallback, nil
	}
	return promptSides(stdin, stderr)
}

func promptSides(in io.Reader, out io.Writer) ([]string, error) {
	reader := bufio.NewReader(in)
	for {
		fmt.Fprint(out, sidesMenu)
		line, err := reader.ReadString('\n')
		sides, ok := parseMenuChoice(line)
		if ok {
			return sides, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read side choice: %w", err)
		}
		fmt.Fprintf(out, "unrecognised choice %q\n", strings.TrimSpace(line))
	}
}

// parseMenuChoice accepts the menu number or the side name. Empty input
// picks both.
func parseMenuChoice(line string) ([]string, bool) {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "1", "call", "calls":
		return []string{"call"}, true
	case "2", "put", "puts":
		return []string{"put"}, true
	case "", "3", "both":
		return []string{"call", "put"}, true
	}
	return nil, false
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
