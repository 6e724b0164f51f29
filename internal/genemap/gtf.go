package genemap

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/atlasmap-sc/geftools/internal/gem"
)

// Gene is one gene-level GTF annotation.
type Gene struct {
	ID   string
	Name string
}

var (
	geneIDAttr   = regexp.MustCompile(`gene_id\s+"([^"]+)"`)
	geneNameAttr = regexp.MustCompile(`gene_name\s+"([^"]+)"`)
)

// ReadGTF extracts gene_id/gene_name pairs from feature "gene" rows. Rows
// whose id does not start with prefix are skipped; an empty prefix keeps all.
func ReadGTF(r io.Reader, prefix string) ([]Gene, error) {
	var genes []Gene
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if line == "" || line[0] == '#' {
			continue
		}
		// seqname, source, feature, start, end, score, strand, frame, attributes
		cols := strings.SplitN(line, "\t", 9)
		if len(cols) < 9 || cols[2] != "gene" {
			continue
		}
		id := geneIDAttr.FindStringSubmatch(cols[8])
		name := geneNameAttr.FindStringSubmatch(cols[8])
		if id == nil || name == nil {
			continue
		}
		if prefix != "" && !strings.HasPrefix(id[1], prefix) {
			continue
		}
		genes = append(genes, Gene{ID: id[1], Name: name[1]})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read GTF: %w", err)
	}
	return genes, nil
}

// ReadGTFFile is ReadGTF over a plain, gzip or zstd file.
func ReadGTFFile(path, prefix string) ([]Gene, error) {
	rc, err := gem.Open(path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	genes, err := ReadGTF(rc, prefix)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return genes, nil
}
