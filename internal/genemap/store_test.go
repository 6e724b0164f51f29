package genemap

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleGTF = `#!genome-build GRCm39
1	ensembl	gene	3143476	3144545	.	+	.	gene_id "ENSMUSG00000102693"; gene_version "2"; gene_name "4933401J01Rik"; gene_source "havana";
1	ensembl	transcript	3143476	3144545	.	+	.	gene_id "ENSMUSG00000102693"; transcript_id "ENSMUST00000193812"; gene_name "4933401J01Rik";
3	ensembl	gene	59105087	59127179	.	+	.	gene_id "ENSMUSG00000036353"; gene_name "P2ry12"; gene_biotype "protein_coding";
3	ensembl	gene	1	2	.	+	.	gene_id "ENSMUSG00000099999"; gene_name "p2ry12";
X	custom	gene	1	2	.	+	.	gene_id "XLOC_000001"; gene_name "Novel1";
5	ensembl	gene	1	2	.	+	.	gene_id "ENSMUSG00000000001";
`

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "genes", "gene_map.db"), 8)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestReadGTF(t *testing.T) {
	genes, err := ReadGTF(strings.NewReader(sampleGTF), DefaultPrefix)
	require.NoError(t, err)
	assert.Equal(t, []Gene{
		{ID: "ENSMUSG00000102693", Name: "4933401J01Rik"},
		{ID: "ENSMUSG00000036353", Name: "P2ry12"},
		{ID: "ENSMUSG00000099999", Name: "p2ry12"},
	}, genes)

	all, err := ReadGTF(strings.NewReader(sampleGTF), "")
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestStore_ImportAndLookup(t *testing.T) {
	gtf := filepath.Join(t.TempDir(), "mouse.gtf")
	require.NoError(t, os.WriteFile(gtf, []byte(sampleGTF), 0o644))

	s := openTestStore(t)
	n, err := s.ImportGTF(context.Background(), gtf, DefaultPrefix)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "duplicate symbols collapse to the first id")

	count, err := s.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	for _, sym := range []string{"P2ry12", "P2RY12", "p2ry12"} {
		id, ok := s.Lookup(sym)
		assert.True(t, ok, sym)
		assert.Equal(t, "ENSMUSG00000036353", id, sym)
	}

	_, ok := s.Lookup("Novel1")
	assert.False(t, ok)
	_, ok = s.Lookup("Novel1")
	assert.False(t, ok, "cached miss stays a miss")

	id, ok, err := s.Query(context.Background(), "4933401j01rik")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "ENSMUSG00000102693", id)
}

func TestStore_ReplaceInvalidatesCache(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Replace(ctx, []Gene{{ID: "ENSG1", Name: "Actb"}})
	require.NoError(t, err)
	id, _ := s.Lookup("actb")
	assert.Equal(t, "ENSG1", id)

	_, err = s.Replace(ctx, []Gene{{ID: "ENSG2", Name: "Actb"}})
	require.NoError(t, err)
	id, _ = s.Lookup("actb")
	assert.Equal(t, "ENSG2", id)
}

func TestStore_MissingGTF(t *testing.T) {
	s := openTestStore(t)
	_, err := s.ImportGTF(context.Background(), filepath.Join(t.TempDir(), "nope.gtf.gz"), DefaultPrefix)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
