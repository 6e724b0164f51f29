// Package gem reads GEM spatial molecule-count matrices: a preamble of
// "#Key=Value" metadata lines, a column header starting with geneID, and
// tab-delimited data rows of gene, x, y, MIDCount and optional ExonCount.
package gem

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// GeneColumn is the first field of the column header line.
const GeneColumn = "geneID"

var (
	// ErrHeaderNotFound means the stream ended before the geneID header line.
	ErrHeaderNotFound = errors.New("gem: header line not found")
	// ErrMalformedMetadata means a recognised #Key=Value line had an unparsable value.
	ErrMalformedMetadata = errors.New("gem: malformed metadata")
	// ErrUnsupportedColumns means the header declared neither 4 nor 5 columns.
	ErrUnsupportedColumns = errors.New("gem: unsupported column count")
)

// Header holds the preamble metadata and column layout of a GEM stream.
type Header struct {
	BinType string
	BinSize uint32
	Omics   string
	ChipSN  string
	OffsetX int32
	OffsetY int32

	// Columns is the number of tab-separated columns declared by the header line.
	Columns int
	// HasExon is true when the header declares the ExonCount column.
	HasExon bool
	// HeaderIndex is the 0-based line position of the geneID header line.
	HeaderIndex int

	// Extra holds metadata keys that are not interpreted.
	Extra map[string]string
}

func defaultHeader() *Header {
	return &Header{
		BinSize: 1,
		Omics:   "Transcriptomics",
		Extra:   make(map[string]string),
	}
}

// ParseHeader consumes br up to and including the geneID header line.
func ParseHeader(br *bufio.Reader) (*Header, error) {
	h := defaultHeader()
	var buf []byte
	for idx := 0; ; idx++ {
		line, err := readLine(br, buf)
		buf = line
		if err == io.EOF {
			return nil, ErrHeaderNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read header line %d: %w", idx+1, err)
		}
		line = trimEOL(line)

		if first, _ := cutField(line); string(first) == GeneColumn {
			h.HeaderIndex = idx
			h.Columns = bytes.Count(line, []byte{'\t'}) + 1
			switch h.Columns {
			case 4:
			case 5:
				h.HasExon = true
			default:
				return nil, fmt.Errorf("%w: %d", ErrUnsupportedColumns, h.Columns)
			}
			return h, nil
		}

		if len(line) > 0 && line[0] == '#' {
			if err := h.setMetadata(string(line[1:])); err != nil {
				return nil, err
			}
		}
	}
}

func (h *Header) setMetadata(kv string) error {
	key, value, ok := strings.Cut(kv, "=")
	if !ok {
		return nil
	}
	value = strings.TrimSpace(value)

	switch key {
	case "BinType":
		h.BinType = value
	case "Omics":
		h.Omics = value
	case "Stereo-seqChip":
		h.ChipSN = value
	case "BinSize":
		v, err := strconv.ParseUint(value, 10, 32)
		if err != nil || v == 0 {
			return fmt.Errorf("%w: BinSize=%q", ErrMalformedMetadata, value)
		}
		h.BinSize = uint32(v)
	case "OffsetX":
		v, err := strconv.ParseInt(value, 10, 32)
		if err != nil {
			return fmt.Errorf("%w: OffsetX=%q", ErrMalformedMetadata, value)
		}
		h.OffsetX = int32(v)
	case "OffsetY":
		v, err := strconv.ParseInt(value, 10, 32)
		if err != nil {
			return fmt.Errorf("%w: OffsetY=%q", ErrMalformedMetadata, value)
		}
		h.OffsetY = int32(v)
	default:
		h.Extra[key] = value
	}
	return nil
}

// readLine returns the next line including its terminator, reusing buf.
// It returns io.EOF only when no bytes remain.
func readLine(br *bufio.Reader, buf []byte) ([]byte, error) {
	buf = buf[:0]
	for {
		chunk, err := br.ReadSlice('\n')
		buf = append(buf, chunk...)
		switch {
		case err == bufio.ErrBufferFull:
			continue
		case err == io.EOF && len(buf) > 0:
			return buf, nil
		default:
			return buf, err
		}
	}
}

func trimEOL(line []byte) []byte {
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	return line
}

// cutField splits off the first tab-delimited field. rest is nil when there
// are no further fields.
func cutField(line []byte) (field, rest []byte) {
	i := bytes.IndexByte(line, '\t')
	if i < 0 {
		return line, nil
	}
	return line[:i], line[i+1:]
}
