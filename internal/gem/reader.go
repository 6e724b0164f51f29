package gem

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
)

var (
	// ErrMissingField means a data line ended before a required column.
	ErrMissingField = errors.New("gem: missing field")
	// ErrInvalidField means a numeric column could not be parsed.
	ErrInvalidField = errors.New("gem: invalid field")
)

// Record is one parsed data line.
type Record struct {
	Gene      string
	X         int32
	Y         int32
	MIDCount  uint32
	ExonCount uint32
}

// ParseError reports a fatal problem with one data line.
type ParseError struct {
	Line  int // 1-based line number in the stream
	Field string
	Value string
	Err   error // ErrMissingField or ErrInvalidField
	Cause error // underlying strconv error, if any
}

func (e *ParseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("line %d: %v %s %q: %v", e.Line, e.Err, e.Field, e.Value, e.Cause)
	}
	return fmt.Sprintf("line %d: %v %s", e.Line, e.Err, e.Field)
}

func (e *ParseError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
}

// Reader yields Records from a GEM stream. It is forward-only; reading the
// data again requires reopening the source.
type Reader struct {
	br     *bufio.Reader
	header *Header
	line   int
	buf    []byte

	// genes interns gene names so repeated genes share one string.
	genes map[string]string
}

const readerBufferSize = 1 << 20

// NewReader parses the header of r and positions the reader on the first
// data line.
func NewReader(r io.Reader) (*Reader, error) {
	br := bufio.NewReaderSize(r, readerBufferSize)
	h, err := ParseHeader(br)
	if err != nil {
		return nil, err
	}
	return &Reader{
		br:     br,
		header: h,
		line:   h.HeaderIndex + 1,
		genes:  make(map[string]string),
	}, nil
}

// Header returns the parsed preamble.
func (r *Reader) Header() *Header {
	return r.header
}

// Line returns the number of lines consumed so far, header included.
func (r *Reader) Line() int {
	return r.line
}

// Read returns the next record, or io.EOF once the stream is exhausted.
// Lines with an empty gene field are skipped.
func (r *Reader) Read() (Record, error) {
	for {
		line, err := readLine(r.br, r.buf)
		r.buf = line
		if err == io.EOF {
			return Record{}, io.EOF
		}
		if err != nil {
			return Record{}, fmt.Errorf("failed to read line %d: %w", r.line+1, err)
		}
		r.line++

		rec, ok, err := r.parse(trimEOL(line))
		if err != nil {
			return Record{}, err
		}
		if ok {
			return rec, nil
		}
	}
}

func (r *Reader) parse(line []byte) (Record, bool, error) {
	gene, rest := cutField(line)
	if len(gene) == 0 {
		return Record{}, false, nil
	}

	var (
		rec   Record
		field []byte
		err   error
	)
	rec.Gene = r.intern(gene)

	if field, rest, err = r.next(rest, "x"); err != nil {
		return rec, false, err
	}
	if rec.X, err = r.parseInt32(field, "x"); err != nil {
		return rec, false, err
	}

	if field, rest, err = r.next(rest, "y"); err != nil {
		return rec, false, err
	}
	if rec.Y, err = r.parseInt32(field, "y"); err != nil {
		return rec, false, err
	}

	if field, rest, err = r.next(rest, "MIDCount"); err != nil {
		return rec, false, err
	}
	if rec.MIDCount, err = r.parseUint32(field, "MIDCount"); err != nil {
		return rec, false, err
	}

	if r.header.HasExon {
		if field, _, err = r.next(rest, "ExonCount"); err != nil {
			return rec, false, err
		}
		if rec.ExonCount, err = r.parseUint32(field, "ExonCount"); err != nil {
			return rec, false, err
		}
	}
	return rec, true, nil
}

func (r *Reader) next(rest []byte, name string) (field, tail []byte, err error) {
	if rest == nil {
		return nil, nil, &ParseError{Line: r.line, Field: name, Err: ErrMissingField}
	}
	field, tail = cutField(rest)
	return field, tail, nil
}

func (r *Reader) parseInt32(b []byte, name string) (int32, error) {
	v, err := strconv.ParseInt(string(b), 10, 32)
	if err != nil {
		return 0, &ParseError{Line: r.line, Field: name, Value: string(b), Err: ErrInvalidField, Cause: err}
	}
	return int32(v), nil
}

func (r *Reader) parseUint32(b []byte, name string) (uint32, error) {
	v, err := strconv.ParseUint(string(b), 10, 32)
	if err != nil {
		return 0, &ParseError{Line: r.line, Field: name, Value: string(b), Err: ErrInvalidField, Cause: err}
	}
	return uint32(v), nil
}

func (r *Reader) intern(b []byte) string {
	if s, ok := r.genes[string(b)]; ok {
		return s
	}
	s := string(b)
	r.genes[s] = s
	return s
}
