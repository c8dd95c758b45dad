// Copyright 2026 The Rootsmith Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/rootsmith-project/rootsmith/lib/ceremony"
	"github.com/rootsmith-project/rootsmith/lib/secret"
)

var _ ceremony.Prompter = (*TerminalPrompter)(nil)

var (
	promptStyle = lipgloss.NewStyle().Bold(true)
	optionStyle = lipgloss.NewStyle().Faint(true)
	noticeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
)

// TerminalPrompter carries the interactive operator dialogue on the
// process's standard streams.
type TerminalPrompter struct {
	in  *bufio.Reader
	out io.Writer
}

// NewTerminalPrompter builds a prompter on stdin/stdout.
func NewTerminalPrompter() *TerminalPrompter {
	return &TerminalPrompter{
		in:  bufio.NewReader(os.Stdin),
		out: os.Stdout,
	}
}

// Select presents numbered options and reads the chosen number,
// re-prompting until the answer is in range.
func (p *TerminalPrompter) Select(prompt string, options []string) (int, error) {
	fmt.Fprintln(p.out, promptStyle.Render(prompt))
	for i, option := range options {
		fmt.Fprintf(p.out, "  %s %s\n", optionStyle.Render(fmt.Sprintf("%d)", i+1)), option)
	}
	for {
		fmt.Fprintf(p.out, "> ")
		line, err := p.readLine()
		if err != nil {
			return 0, err
		}
		choice, convErr := strconv.Atoi(strings.TrimSpace(line))
		if convErr != nil || choice < 1 || choice > len(options) {
			fmt.Fprintf(p.out, "Enter a number between 1 and %d.\n", len(options))
			continue
		}
		return choice - 1, nil
	}
}

// Input asks for a line of text; an empty answer yields the default.
func (p *TerminalPrompter) Input(prompt, defaultValue string) (string, error) {
	if defaultValue != "" {
		fmt.Fprintf(p.out, "%s [%s]: ", promptStyle.Render(prompt), defaultValue)
	} else {
		fmt.Fprintf(p.out, "%s: ", promptStyle.Render(prompt))
	}
	line, err := p.readLine()
	if err != nil {
		return "", err
	}
	answer := strings.TrimSpace(line)
	if answer == "" {
		return defaultValue, nil
	}
	return answer, nil
}

// Confirm asks a yes/no question.
func (p *TerminalPrompter) Confirm(prompt string, defaultYes bool) (bool, error) {
	hint := "y/N"
	if defaultYes {
		hint = "Y/n"
	}
	for {
		fmt.Fprintf(p.out, "%s [%s]: ", promptStyle.Render(prompt), hint)
		line, err := p.readLine()
		if err != nil {
			return false, err
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "":
			return defaultYes, nil
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		}
		fmt.Fprintln(p.out, "Answer y or n.")
	}
}

// Password reads a passphrase without echo when stdin is a terminal,
// falling back to a plain line read otherwise (tests, pipes). The
// passphrase goes straight into protected memory.
func (p *TerminalPrompter) Password(prompt string) (*secret.Buffer, error) {
	fmt.Fprintf(p.out, "%s: ", promptStyle.Render(prompt))

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		raw, err := term.ReadPassword(fd)
		fmt.Fprintln(p.out)
		if err != nil {
			return nil, fmt.Errorf("reading passphrase: %w", err)
		}
		return secret.FromBytes(raw)
	}

	line, err := p.readLine()
	if err != nil {
		return nil, err
	}
	return secret.FromBytes([]byte(strings.TrimRight(line, "\r\n")))
}

// Show displays a message to the operator.
func (p *TerminalPrompter) Show(message string) {
	fmt.Fprintln(p.out, noticeStyle.Render(message))
}

func (p *TerminalPrompter) readLine() (string, error) {
	line, err := p.in.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading input: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
