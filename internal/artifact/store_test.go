package artifact

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/phasegrid/internal/genome"
)

func TestStore_Paths(t *testing.T) {
	s := NewStore("/out")

	assert.Equal(t, "/out/work/chr21/split/S1.chr21.vcf.gz", s.Split("S1", "21").Path)
	assert.Equal(t, "/out/work/chr21/qc/chr21.chunk002.qc.bcf", s.QC("21", "chunk002").Path)
	assert.Equal(t, "/out/work/chrX/qc/chrX.qc.bcf", s.QC(genome.X, "").Path)
	assert.Equal(t, "/out/work/chrX/nonpar/chrX.nonpar.bcf", s.NonPAR(genome.X).Path)
	assert.Equal(t, "/out/work/chr21/common/chr21.chunk000.common.bcf", s.Common("21", "chunk000").Path)
	assert.Equal(t, "/out/work/chr21/ligate/chr21.ligated.bcf", s.Ligated("21").Path)
	assert.Equal(t, "/out/work/chr21/rare/chr21.chunk001.rare.bcf", s.Rare("21", "chunk001").Path)

	final := s.Final("21")
	assert.Equal(t, "/out/phased/chr21.phased.bcf", final.Path)
	assert.Equal(t, "/out/phased/chr21.phased.bcf.csi", final.IndexPath())
	assert.True(t, final.Final)
	assert.True(t, final.Indexed)
	assert.False(t, s.QC("21", "chunk000").Final)
}

func TestTempPath(t *testing.T) {
	a := Artifact{Path: "/out/work/chr21/qc/chr21.chunk000.qc.bcf"}
	tmp := TempPath(a)

	assert.Equal(t, filepath.Dir(a.Path), filepath.Dir(tmp))
	assert.True(t, strings.HasSuffix(tmp, ".chr21.chunk000.qc.bcf"))
	assert.True(t, IsTemp(tmp))
	assert.False(t, IsTemp(a.Path))
	assert.NotEqual(t, tmp, TempPath(a))
}

func TestValid(t *testing.T) {
	dir := t.TempDir()
	a := Artifact{Path: filepath.Join(dir, "x.bcf"), Indexed: true}

	ok, err := Valid(a)
	require.NoError(t, err)
	assert.False(t, ok, "missing file")

	require.NoError(t, os.WriteFile(a.Path, []byte("truncated"), 0o644))
	ok, err = Valid(a)
	require.NoError(t, err)
	assert.False(t, ok, "no bgzf eof block")

	require.NoError(t, WriteBGZF(a.Path, []byte("BCF")))
	ok, err = Valid(a)
	require.NoError(t, err)
	assert.False(t, ok, "index missing")

	require.NoError(t, os.WriteFile(a.IndexPath(), nil, 0o644))
	ok, err = Valid(a)
	require.NoError(t, err)
	assert.False(t, ok, "empty index")

	require.NoError(t, os.WriteFile(a.IndexPath(), []byte("CSI"), 0o644))
	ok, err = Valid(a)
	require.NoError(t, err)
	assert.True(t, ok)

	plain := Artifact{Path: filepath.Join(dir, "list.txt")}
	require.NoError(t, os.WriteFile(plain.Path, []byte("a\n"), 0o644))
	ok, err = Valid(plain)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCommitAndDiscard(t *testing.T) {
	dir := t.TempDir()
	a := Artifact{Path: filepath.Join(dir, "qc", "chr21.qc.bcf"), Indexed: true}
	require.NoError(t, Prepare(a))

	tmp := TempPath(a)
	require.NoError(t, WriteBGZF(tmp, []byte("BCF")))
	require.NoError(t, os.WriteFile(tmp+IndexSuffix, []byte("CSI"), 0o644))
	require.NoError(t, Commit(tmp, a))

	ok, err := Valid(a)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoFileExists(t, tmp)

	t.Run("commit without index fails and leaves no final file", func(t *testing.T) {
		b := Artifact{Path: filepath.Join(dir, "qc", "other.bcf"), Indexed: true}
		tmp := TempPath(b)
		require.NoError(t, WriteBGZF(tmp, []byte("BCF")))
		assert.Error(t, Commit(tmp, b))
		assert.NoFileExists(t, b.Path)
		require.NoError(t, Discard(tmp))
		assert.NoFileExists(t, tmp)
	})

	t.Run("discard tolerates missing files", func(t *testing.T) {
		assert.NoError(t, Discard(filepath.Join(dir, ".tmp.nothing.bcf")))
	})
}

func TestSweepTempsAndCleanup(t *testing.T) {
	root := t.TempDir()
	s := NewStore(root)

	qc := s.QC("21", "chunk000")
	final := s.Final("21")
	require.NoError(t, Prepare(qc))
	require.NoError(t, Prepare(final))
	require.NoError(t, WriteBGZF(qc.Path, []byte("BCF")))
	require.NoError(t, WriteBGZF(final.Path, []byte("BCF")))

	orphan := TempPath(final)
	require.NoError(t, os.WriteFile(orphan, []byte("partial"), 0o644))
	require.NoError(t, os.WriteFile(orphan+IndexSuffix, []byte("partial"), 0o644))

	removed, err := s.SweepTemps()
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.NoFileExists(t, orphan)
	assert.FileExists(t, final.Path)

	require.NoError(t, s.Cleanup("21"))
	assert.NoDirExists(t, s.WorkDir("21"))
	assert.FileExists(t, final.Path)
}

func TestWriteList(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "lists", "ligate.txt")
	require.NoError(t, WriteList(dst, []string{"/a.bcf", "/b.bcf"}))

	body, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "/a.bcf\n/b.bcf\n", string(body))

	entries, err := os.ReadDir(filepath.Dir(dst))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
