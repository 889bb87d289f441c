package iojson

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"
)

// ErrNoInput is returned when neither a file nor piped stdin is available.
var ErrNoInput = errors.New("no input provided (stdin is a terminal); use -f flag or pipe JSON input")

// FileReader decodes a T from the file named by its --file flag, or from
// stdin when the flag is unset.
type FileReader[T any] struct {
	// Stdin replaces os.Stdin when set. It is never treated as a terminal.
	Stdin io.Reader

	path string
}

// Flag returns the --file/-f flag bound to the reader.
func (fr *FileReader[T]) Flag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:        "file",
		Aliases:     []string{"f"},
		Usage:       "path to JSON file (reads from stdin if not provided)",
		Destination: &fr.path,
		TakesFile:   true,
	}
}

// Read decodes one JSON value. Unknown fields are rejected so typos in
// hand-written input surface as errors.
func (fr *FileReader[T]) Read() (T, error) {
	var out T

	r, closeFn, err := fr.open()
	if err != nil {
		return out, err
	}
	defer closeFn()

	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return out, fmt.Errorf("decode JSON: %w", err)
	}
	return out, nil
}

func (fr *FileReader[T]) open() (io.Reader, func(), error) {
	if fr.path != "" {
		f, err := os.Open(fr.path)
		if err != nil {
			return nil, nil, fmt.Errorf("open file: %w", err)
		}
		return f, func() { _ = f.Close() }, nil
	}

	if fr.Stdin != nil {
		return fr.Stdin, func() {}, nil
	}
	if term.IsTerminal(int(os.Stdin.Fd())) {
		return nil, nil, ErrNoInput
	}
	return os.Stdin, func() {}, nil
}
