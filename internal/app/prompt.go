package app

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

const promptAttempts = 3

// Prompter asks yes/no questions on the terminal. Questions go to out, which
// is stderr in production so reports on stdout stay parseable.
type Prompter struct {
	in  *bufio.Reader
	out io.Writer
}

func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{in: bufio.NewReader(in), out: out}
}

// Confirm re-asks on unrecognized answers and settles on no after a few
// attempts. Empty input and EOF mean no.
func (p *Prompter) Confirm(message string) (bool, error) {
	for i := 0; i < promptAttempts; i++ {
		fmt.Fprintf(p.out, "%s [y/N]: ", message)

		line, err := p.in.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return false, err
		}

		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		case "", "n", "no":
			return false, nil
		}
		if errors.Is(err, io.EOF) {
			return false, nil
		}
		fmt.Fprintln(p.out, "Please answer yes or no.")
	}
	return false, nil
}
