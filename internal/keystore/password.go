package keystore

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/x/term"
	"github.com/mattn/go-isatty"

	"github.com/tristanlee/substrate/internal/fault"
)

// PasswordSource lists where a password may come from, in resolution order.
type PasswordSource struct {
	Value       string // --password
	File        string // --password-filename
	EnvVar      string // environment variable consulted after the flags
	Interactive bool   // --password-interactive
}

// Prompter reads a password from an operator.
type Prompter interface {
	IsTerminal() bool
	Prompt(message string) (string, error)
}

// TerminalPrompter prompts on a terminal without echo.
type TerminalPrompter struct {
	In  *os.File
	Out io.Writer
}

// NewTerminalPrompter prompts on stdin and writes the prompt to stderr.
func NewTerminalPrompter() *TerminalPrompter {
	return &TerminalPrompter{In: os.Stdin, Out: os.Stderr}
}

func (p *TerminalPrompter) IsTerminal() bool {
	fd := p.In.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func (p *TerminalPrompter) Prompt(message string) (string, error) {
	fmt.Fprint(p.Out, message)
	b, err := term.ReadPassword(p.In.Fd())
	fmt.Fprintln(p.Out)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ResolvePassword returns the first password available from src: the flag
// value, then the password file, then the environment, then an interactive
// prompt when one was requested and a terminal is attached. When required is
// set an empty result is a MissingCredential error, whichever source gave it.
func ResolvePassword(ctx context.Context, src PasswordSource, required bool, prompter Prompter) (string, error) {
	password, source, err := lookupPassword(ctx, src, prompter)
	if err != nil {
		return "", err
	}
	if required && password == "" {
		if source != "" {
			return "", fault.Credential("a password is required but the %s is empty", source)
		}
		return "", fault.Credential("a password is required: pass --password, --password-filename or --password-interactive")
	}
	return password, nil
}

// lookupPassword returns the password and the name of the source it came
// from, or "" when no source was given.
func lookupPassword(ctx context.Context, src PasswordSource, prompter Prompter) (string, string, error) {
	if src.Value != "" {
		return src.Value, "password flag", nil
	}

	if src.File != "" {
		content, err := os.ReadFile(src.File)
		if err != nil {
			return "", "", fault.Config("read password file: %w", err)
		}
		return strings.TrimRight(string(content), "\r\n"), "password file " + src.File, nil
	}

	if src.EnvVar != "" {
		if v, ok := os.LookupEnv(src.EnvVar); ok && v != "" {
			return v, src.EnvVar, nil
		}
	}

	if src.Interactive && prompter != nil && prompter.IsTerminal() {
		pw, err := prompt(ctx, prompter, "Key password: ")
		return pw, "prompted password", err
	}
	return "", "", nil
}

// prompt reads on its own goroutine so cancellation abandons the read.
func prompt(ctx context.Context, prompter Prompter, message string) (string, error) {
	type result struct {
		password string
		err      error
	}
	ch := make(chan result, 1)

	go func() {
		pw, err := prompter.Prompt(message)
		ch <- result{pw, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return "", fault.Credential("read password: %w", r.err)
		}
		return r.password, nil
	case <-ctx.Done():
		return "", fault.Credential("password prompt cancelled: %w", ctx.Err())
	}
}
