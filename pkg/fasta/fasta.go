// Package fasta implements a minimal streaming reader for FASTA
// formatted sequence data, as accepted by the batch analysis API.
package fasta

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrMissingHeader is returned when sequence data appears before the
// first '>' header line.
var ErrMissingHeader = errors.New("fasta: sequence data before first header")

// Record is a single FASTA entry: the ID from its header line and its
// sequence with whitespace stripped and letters uppercased.
type Record struct {
	ID  string
	Seq string
}

// Reader reads FASTA records one at a time from an underlying stream.
type Reader struct {
	scanner *bufio.Scanner
	// header of the record currently being accumulated; empty until the
	// first '>' line is seen.
	header  string
	started bool
	done    bool
}

// NewReader returns a Reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{scanner: bufio.NewScanner(r)}
}

// Next returns the next record in the stream. It returns io.EOF once
// the stream is exhausted, and ErrMissingHeader if sequence data
// precedes the first header line.
func (r *Reader) Next() (Record, error) {
	if r.done {
		return Record{}, io.EOF
	}

	var seq strings.Builder
	for r.scanner.Scan() {
		line := strings.TrimSpace(r.scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, ">") {
			if r.started {
				rec := r.record(seq.String())
				r.header = line
				return rec, nil
			}
			r.header = line
			r.started = true
			continue
		}
		if !r.started {
			return Record{}, ErrMissingHeader
		}
		seq.WriteString(strings.ToUpper(line))
	}

	r.done = true
	if err := r.scanner.Err(); err != nil {
		return Record{}, fmt.Errorf("fasta: read failed: %w", err)
	}
	if r.started {
		return r.record(seq.String()), nil
	}
	return Record{}, io.EOF
}

// record builds a Record from the pending header and accumulated
// sequence. The ID is the first whitespace-separated field after '>'.
func (r *Reader) record(seq string) Record {
	id := strings.TrimPrefix(r.header, ">")
	if fields := strings.Fields(id); len(fields) > 0 {
		id = fields[0]
	} else {
		id = ""
	}
	return Record{ID: id, Seq: seq}
}

// ReadAll consumes the entire stream and returns every record in order.
func ReadAll(r io.Reader) ([]Record, error) {
	fr := NewReader(r)
	var records []Record
	for {
		rec, err := fr.Next()
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
}
