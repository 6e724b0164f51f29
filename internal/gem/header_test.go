package gem

import (
	"bufio"
	"errors"
	"strings"
	"testing"
)

func parseHeaderString(t *testing.T, s string) (*Header, error) {
	t.Helper()
	return ParseHeader(bufio.NewReader(strings.NewReader(s)))
}

func TestParseHeader_Metadata(t *testing.T) {
	input := "#FileFormat=GEMv0.1\n" +
		"#SortedBy=None\n" +
		"#BinType=Bin\n" +
		"#BinSize=1\n" +
		"#Omics=Transcriptomics\n" +
		"#Stereo-seqChip=Y00855N1\n" +
		"#OffsetX=-12\n" +
		"#OffsetY=34\n" +
		"geneID\tx\ty\tMIDCount\tExonCount\n" +
		"A\t1\t2\t3\t0\n"

	h, err := parseHeaderString(t, input)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if h.HeaderIndex != 8 {
		t.Errorf("expected header index 8, got %d", h.HeaderIndex)
	}
	if h.Columns != 5 || !h.HasExon {
		t.Errorf("expected 5 columns with exon, got %d/%v", h.Columns, h.HasExon)
	}
	if h.OffsetX != -12 || h.OffsetY != 34 {
		t.Errorf("unexpected offsets: %d,%d", h.OffsetX, h.OffsetY)
	}
	if h.ChipSN != "Y00855N1" {
		t.Errorf("unexpected chip: %q", h.ChipSN)
	}
	if h.Extra["FileFormat"] != "GEMv0.1" {
		t.Errorf("expected FileFormat kept in Extra, got %v", h.Extra)
	}
}

func TestParseHeader_Defaults(t *testing.T) {
	h, err := parseHeaderString(t, "geneID\tx\ty\tMIDCount\r\n")
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if h.HeaderIndex != 0 || h.Columns != 4 || h.HasExon {
		t.Errorf("unexpected layout: %+v", h)
	}
	if h.BinSize != 1 || h.Omics != "Transcriptomics" || h.BinType != "" {
		t.Errorf("unexpected defaults: %+v", h)
	}
}

func TestParseHeader_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  error
	}{
		{"empty", "", ErrHeaderNotFound},
		{"onlyComments", "#OffsetX=1\n#OffsetY=2\n", ErrHeaderNotFound},
		{"markerNotFirstField", "gene\tgeneID\tx\ty\n", ErrHeaderNotFound},
		{"badOffset", "#OffsetX=abc\ngeneID\tx\ty\tMIDCount\n", ErrMalformedMetadata},
		{"badBinSize", "#BinSize=0\ngeneID\tx\ty\tMIDCount\n", ErrMalformedMetadata},
		{"threeColumns", "geneID\tx\ty\n", ErrUnsupportedColumns},
		{"sixColumns", "geneID\tx\ty\tMIDCount\tExonCount\tExtra\n", ErrUnsupportedColumns},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parseHeaderString(t, tc.input)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestParseHeader_LongLine(t *testing.T) {
	long := "#Comment=" + strings.Repeat("x", 10000) + "\n"
	br := bufio.NewReaderSize(strings.NewReader(long+"geneID\tx\ty\tMIDCount\n"), 16)
	h, err := ParseHeader(br)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if h.HeaderIndex != 1 {
		t.Errorf("expected header index 1, got %d", h.HeaderIndex)
	}
	if len(h.Extra["Comment"]) != 10000 {
		t.Errorf("long metadata value truncated: %d", len(h.Extra["Comment"]))
	}
}
