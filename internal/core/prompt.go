package core

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/illarion/lockbox/internal/crypto"
)

var ErrPasswordMismatch = errors.New("passwords do not match")

// Prompter reads user input. Passwords are read without echo when the
// input is a terminal and as plain lines otherwise, so piped input works.
type Prompter struct {
	in     *os.File
	out    io.Writer
	reader *bufio.Reader
}

// NewPrompter creates a Prompter. Prompts are written to out.
func NewPrompter(in *os.File, out io.Writer) *Prompter {
	return &Prompter{
		in:     in,
		out:    out,
		reader: bufio.NewReader(in),
	}
}

// ReadLine reads one line with the trailing newline removed.
func (p *Prompter) ReadLine(prompt string) (string, error) {
	fmt.Fprint(p.out, prompt)

	line, err := p.reader.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// ReadPassword reads a password without echoing
func (p *Prompter) ReadPassword(prompt string) ([]byte, error) {
	fd := int(p.in.Fd())
	if !term.IsTerminal(fd) {
		line, err := p.ReadLine(prompt)
		if err != nil {
			return nil, fmt.Errorf("failed to read password: %w", err)
		}
		return []byte(line), nil
	}

	fmt.Fprint(p.out, prompt)
	password, err := term.ReadPassword(fd)
	fmt.Fprintln(p.out) // New line after password

	if err != nil {
		return nil, fmt.Errorf("failed to read password: %w", err)
	}
	return password, nil
}

// ReadPasswordConfirm reads a password twice and ensures they match
func (p *Prompter) ReadPasswordConfirm(prompt, confirm string) ([]byte, error) {
	password1, err := p.ReadPassword(prompt)
	if err != nil {
		return nil, err
	}
	defer crypto.ClearBytes(password1)

	password2, err := p.ReadPassword(confirm)
	if err != nil {
		return nil, err
	}
	defer crypto.ClearBytes(password2)

	if !crypto.ConstantTimeCompare(password1, password2) {
		return nil, ErrPasswordMismatch
	}

	// Return a copy of the password
	result := make([]byte, len(password1))
	copy(result, password1)
	return result, nil
}
