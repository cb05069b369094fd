package chunk

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/phasegrid/internal/faults"
	"github.com/vk/phasegrid/internal/genome"
)

func parse(t *testing.T, body string) ([]Chunk, error) {
	t.Helper()
	return Parse(strings.NewReader(body), "21")
}

func TestParse_Shapes(t *testing.T) {
	t.Run("plain regions", func(t *testing.T) {
		chunks, err := parse(t, "chr21:1-100\nchr21:101-200\n")
		require.NoError(t, err)
		require.Len(t, chunks, 2)
		assert.Equal(t, "chr21:1-100", chunks[0].Core.String())
		assert.Equal(t, chunks[0].Core, chunks[0].Buffer)
		assert.Equal(t, "chunk000", chunks[0].ID())
		assert.Equal(t, "chunk001", chunks[1].ID())
	})

	t.Run("bed style", func(t *testing.T) {
		chunks, err := parse(t, "# header\nchr21\t0\t100\nchr21\t100\t250\n")
		require.NoError(t, err)
		require.Len(t, chunks, 2)
		assert.Equal(t, "chr21:1-100", chunks[0].Core.String())
		assert.Equal(t, "chr21:101-250", chunks[1].Core.String())
	})

	t.Run("buffered layout", func(t *testing.T) {
		body := "0 chr21 chr21:1-150 chr21:1-100 1.2 345\n" +
			"1 chr21 chr21:50-300 chr21:101-300 1.1 300\n"
		chunks, err := parse(t, body)
		require.NoError(t, err)
		require.Len(t, chunks, 2)
		assert.Equal(t, "chr21:1-100", chunks[0].Core.String())
		assert.Equal(t, "chr21:1-150", chunks[0].Buffer.String())
		assert.Equal(t, "chr21:50-300", chunks[1].Buffer.String())
	})

	t.Run("contig without prefix", func(t *testing.T) {
		chunks, err := parse(t, "21:1-100\n")
		require.NoError(t, err)
		assert.Equal(t, "chr21", chunks[0].Core.Contig)
		assert.Equal(t, "chr21", chunks[0].Buffer.Contig)
	})

	t.Run("mixed contig spellings", func(t *testing.T) {
		chunks, err := parse(t, "chr21:1-100\n21:101-200\n0 21 21:150-300 chr21:201-300\n")
		require.NoError(t, err)
		require.Len(t, chunks, 3)
		for _, c := range chunks {
			assert.Equal(t, "chr21", c.Core.Contig)
			assert.Equal(t, "chr21", c.Buffer.Contig)
		}
		assert.Equal(t, "chr21:150-300", chunks[2].Buffer.String())
	})
}

func TestParse_MixedSpellingsStillOverlap(t *testing.T) {
	_, err := parse(t, "chr21:1-150\n21:100-200\n")
	require.Error(t, err)
	assert.ErrorIs(t, err, faults.ErrMalformedChunkFile)
	assert.Contains(t, err.Error(), "overlap")
}

func TestParse_SameRegionInBothSpellingsIsDeduplicated(t *testing.T) {
	chunks, err := parse(t, "chr21:1-100\n21:1-100\nchr21:101-200\n")
	require.NoError(t, err)
	assert.Len(t, chunks, 2)
}

func TestParse_OrdersByStartAndDeduplicates(t *testing.T) {
	chunks, err := parse(t, "chr21:201-300\nchr21:1-100\nchr21:101-200\nchr21:1-100\n")
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
	}
	assert.Equal(t, int64(1), chunks[0].Core.Start)
	assert.Equal(t, int64(101), chunks[1].Core.Start)
	assert.Equal(t, int64(201), chunks[2].Core.Start)
}

func TestParse_Rejects(t *testing.T) {
	cases := map[string]struct {
		body string
		kind error
	}{
		"overlap":          {"chr21:1-150\nchr21:100-200\n", faults.ErrMalformedChunkFile},
		"gap":              {"chr21:1-100\nchr21:150-200\n", faults.ErrMalformedChunkFile},
		"garbage":          {"hello\n", faults.ErrMalformedChunkFile},
		"bad interval":     {"chr21:200-100\n", faults.ErrMalformedChunkFile},
		"wrong contig":     {"chr22:1-100\n", faults.ErrMalformedChunkFile},
		"buffer elsewhere": {"0 chr21 chr22:1-150 chr21:1-100\n", faults.ErrMalformedChunkFile},
		"core not inside":  {"0 chr21 chr21:10-50 chr21:1-100\n", faults.ErrMalformedChunkFile},
		"empty":            {"# nothing\n\n", faults.ErrEmptyChunkSet},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := parse(t, tc.body)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.kind)
			assert.True(t, faults.IsFatal(err))
		})
	}
}

func TestCatalog_Load(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "chunks_chr21.txt"), []byte("chr21:1-100\nchr21:101-200\n"), 0o644))

	xRegion := genome.Region{Contig: "chrX", Start: 2781480, End: 155701382}
	cat := NewCatalog(func(c genome.Chromosome) (string, error) {
		return filepath.Join(dir, "chunks_"+c.Contig()+".txt"), nil
	}, xRegion)

	chunks, err := cat.Load("21")
	require.NoError(t, err)
	assert.Len(t, chunks, 2)

	_, err = cat.Load("22")
	assert.ErrorIs(t, err, faults.ErrFatalPreflight)

	x, err := cat.Load(genome.X)
	require.NoError(t, err)
	require.Len(t, x, 1)
	assert.Equal(t, xRegion, x[0].Core)

	path, err := cat.Path(genome.X)
	require.NoError(t, err)
	assert.Empty(t, path)
}
