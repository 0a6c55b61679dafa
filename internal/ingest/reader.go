// Package ingest streams newline-delimited JSON items into a healsink
// pipeline. It is the input boundary of the CLI: each line is one item in
// the map form accepted by record.Normalize.
package ingest

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"github.com/goccy/go-json"
)

// maxLineSize bounds a single JSON line.
const maxLineSize = 16 << 20

// LineError reports a line that is not a JSON object.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error { return e.Err }

// Reader decodes one JSON object per line. Numbers are kept as json.Number
// so large identifiers survive unchanged.
type Reader struct {
	scanner *bufio.Scanner
	line    int
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &Reader{scanner: s}
}

// Next returns the next item. Blank lines are skipped. It returns io.EOF
// when the input is exhausted and a *LineError for a malformed line, after
// which reading may continue.
func (r *Reader) Next() (map[string]any, error) {
	for r.scanner.Scan() {
		r.line++
		line := bytes.TrimSpace(r.scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		dec := json.NewDecoder(bytes.NewReader(line))
		dec.UseNumber()
		var item map[string]any
		if err := dec.Decode(&item); err != nil {
			return nil, &LineError{Line: r.line, Err: err}
		}
		if item == nil {
			return nil, &LineError{Line: r.line, Err: fmt.Errorf("expected a JSON object")}
		}
		return item, nil
	}
	if err := r.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// Line returns the number of the last line read.
func (r *Reader) Line() int { return r.line }
