// Package source reads the input file as pages of records.
package source

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"

	"github.com/utkarsh5026/bulkload/internal/protocol"
)

const (
	DefaultBatchSize = 4000
	DefaultDelimiter = ','
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Options controls how the CSV is parsed.
type Options struct {
	BatchSize int
	Delimiter rune
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.Delimiter == 0 {
		o.Delimiter = DefaultDelimiter
	}
	return o
}

// ParseDelimiter turns a configured delimiter into a rune. Only single
// characters are accepted, plus the literal escape "\t".
func ParseDelimiter(s string) (rune, error) {
	if s == `\t` {
		return '\t', nil
	}
	r, size := utf8.DecodeRuneInString(s)
	if s == "" || size != len(s) || r == utf8.RuneError || r == '"' || r == '\n' || r == '\r' {
		return 0, errors.Errorf("invalid delimiter %q", s)
	}
	return r, nil
}

// Reader yields pages of records from a CSV stream whose first row is the
// header. Header names are trimmed; values are passed through untouched.
type Reader struct {
	csv       *csv.Reader
	header    []string
	batchSize int
	line      int
}

// NewReader reads the header from r and prepares to page through the rest.
func NewReader(r io.Reader, opts Options) (*Reader, error) {
	opts = opts.withDefaults()

	br := bufio.NewReader(r)
	if head, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}

	cr := csv.NewReader(br)
	cr.Comma = opts.Delimiter
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = false

	header, err := cr.Read()
	if err == io.EOF {
		return nil, errors.New("input has no header row")
	}
	if err != nil {
		return nil, errors.Wrap(err, "reading header")
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	return &Reader{csv: cr, header: header, batchSize: opts.BatchSize, line: 1}, nil
}

// Header returns the trimmed column names.
func (r *Reader) Header() []string {
	return r.header
}

// Next returns up to BatchSize records. It returns io.EOF, with no records,
// once the input is exhausted. Short rows leave the trailing columns null;
// extra cells are ignored.
func (r *Reader) Next() ([]protocol.Record, error) {
	page := make([]protocol.Record, 0, r.batchSize)
	for len(page) < r.batchSize {
		row, err := r.csv.Read()
		if err == io.EOF {
			break
		}
		r.line++
		if err != nil {
			return page, errors.Wrapf(err, "reading line %d", r.line)
		}
		page = append(page, r.record(row))
	}
	if len(page) == 0 {
		return nil, io.EOF
	}
	return page, nil
}

func (r *Reader) record(row []string) protocol.Record {
	rec := make(protocol.Record, len(r.header))
	for i, name := range r.header {
		if i < len(row) {
			v := row[i]
			rec[name] = &v
		} else {
			rec[name] = nil
		}
	}
	return rec
}

// Open opens path for paging.
func Open(path string, opts Options) (*Reader, io.Closer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.WithStack(err)
	}
	r, err := NewReader(f, opts)
	if err != nil {
		_ = f.Close()
		return nil, nil, errors.Wrapf(err, "opening %s", path)
	}
	return r, f, nil
}

// CountRows counts the data rows (excluding the header) in path.
func CountRows(path string, opts Options) (int64, error) {
	r, closer, err := Open(path, opts)
	if err != nil {
		return 0, err
	}
	defer closer.Close()

	var n int64
	for {
		_, err := r.csv.Read()
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return n, errors.Wrapf(err, "counting rows in %s", path)
		}
		n++
	}
}
