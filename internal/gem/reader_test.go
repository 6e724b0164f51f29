package gem

import (
	"errors"
	"io"
	"strconv"
	"strings"
	"testing"
)

func readAll(t *testing.T, input string) ([]Record, error) {
	t.Helper()
	r, err := NewReader(strings.NewReader(input))
	if err != nil {
		return nil, err
	}
	var out []Record
	for {
		rec, err := r.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}

func TestReader_FourColumns(t *testing.T) {
	input := "#OffsetX=0\n" +
		"geneID\tx\ty\tMIDCount\n" +
		"GENE1\t0\t0\t5\n" +
		"\n" +
		"\t1\t1\t1\n" +
		"GENE1\t-3\t7\t3\r\n"

	recs, err := readAll(t, input)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want := []Record{
		{Gene: "GENE1", X: 0, Y: 0, MIDCount: 5},
		{Gene: "GENE1", X: -3, Y: 7, MIDCount: 3},
	}
	if len(recs) != len(want) {
		t.Fatalf("expected %d records, got %d: %+v", len(want), len(recs), recs)
	}
	for i := range want {
		if recs[i] != want[i] {
			t.Errorf("record %d: got %+v want %+v", i, recs[i], want[i])
		}
	}
}

func TestReader_ExonColumn(t *testing.T) {
	input := "geneID\tx\ty\tMIDCount\tExonCount\n" +
		"GENE1\t0\t0\t1\t1\n" +
		"GENE2\t5\t5\t2\t0"

	recs, err := readAll(t, input)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].ExonCount != 1 || recs[1].ExonCount != 0 {
		t.Errorf("unexpected exon counts: %+v", recs)
	}
	if recs[1].Gene != "GENE2" || recs[1].X != 5 || recs[1].Y != 5 || recs[1].MIDCount != 2 {
		t.Errorf("unexpected last record (no trailing newline): %+v", recs[1])
	}
}

func TestReader_InternsGenes(t *testing.T) {
	r, err := NewReader(strings.NewReader("geneID\tx\ty\tMIDCount\nG\t0\t0\t1\nG\t1\t1\t1\n"))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	a, _ := r.Read()
	b, _ := r.Read()
	if a.Gene != b.Gene {
		t.Fatalf("gene mismatch")
	}
	if r.Line() != 3 {
		t.Errorf("expected 3 lines consumed, got %d", r.Line())
	}
}

func TestReader_FatalLines(t *testing.T) {
	tests := []struct {
		name  string
		line  string
		exon  bool
		want  error
		field string
	}{
		{"missingMIDCount", "GENE1\t0\t0", false, ErrMissingField, "MIDCount"},
		{"missingY", "GENE1\t0", false, ErrMissingField, "y"},
		{"missingExon", "GENE1\t0\t0\t1", true, ErrMissingField, "ExonCount"},
		{"badX", "GENE1\tx1\t0\t1", false, ErrInvalidField, "x"},
		{"emptyY", "GENE1\t0\t\t1", false, ErrInvalidField, "y"},
		{"negativeCount", "GENE1\t0\t0\t-1", false, ErrInvalidField, "MIDCount"},
		{"overflowX", "GENE1\t3000000000\t0\t1", false, ErrInvalidField, "x"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			header := "geneID\tx\ty\tMIDCount\n"
			if tc.exon {
				header = "geneID\tx\ty\tMIDCount\tExonCount\n"
			}
			recs, err := readAll(t, header+"OK\t1\t1\t1"+strings.Repeat("\t0", boolInt(tc.exon))+"\n"+tc.line+"\n")
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("expected *ParseError, got %T", err)
			}
			if pe.Line != 3 {
				t.Errorf("expected line 3, got %d", pe.Line)
			}
			if pe.Field != tc.field {
				t.Errorf("expected field %q, got %q", tc.field, pe.Field)
			}
			if len(recs) != 1 {
				t.Errorf("expected one good record before the failure, got %d", len(recs))
			}
		})
	}
}

func TestReader_RangeErrorUnwraps(t *testing.T) {
	_, err := readAll(t, "geneID\tx\ty\tMIDCount\nG\t0\t0\t99999999999\n")
	if !errors.Is(err, strconv.ErrRange) {
		t.Fatalf("expected strconv.ErrRange in chain, got %v", err)
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
