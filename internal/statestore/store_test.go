package statestore

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_PutGetAll(t *testing.T) {
	dir := filepath.Join(t.TempDir(), ".phasegrid", "state")
	s, err := New(dir)
	require.NoError(t, err)

	_, ok, err := s.Get("chr21.ligate")
	require.NoError(t, err)
	assert.False(t, ok)

	started := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	rec := Record{
		RunID: "run-1", Task: "chr21.ligate", Chrom: "21", Stage: "ligate",
		State: Running, StartedAt: started,
	}
	require.NoError(t, s.Put(rec))

	rec.State = Failed
	rec.EndedAt = started.Add(time.Hour)
	rec.ExitCode = 1
	rec.Retries = 1
	rec.Cause = "ligate exited with code 1"
	require.NoError(t, s.Put(rec))

	got, ok, err := s.Get("chr21.ligate")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rec, got)

	require.NoError(t, s.Put(Record{RunID: "run-1", Task: "chr21.S1.split", Chrom: "21", Stage: "split", State: Succeeded}))
	// Orphaned temporaries are never read back as records.
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".tmp.123.chr21.qc.json"), []byte("{"), 0o644))

	all, err := s.All()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "chr21.S1.split", all[0].Task)
	assert.Equal(t, "chr21.ligate", all[1].Task)
}

func TestStore_ConcurrentPuts(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, s.Put(Record{Task: "chr1.concat", State: Running, Retries: i}))
		}(i)
	}
	wg.Wait()

	all, err := s.All()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestStore_Errors(t *testing.T) {
	_, err := New(" ")
	assert.Error(t, err)

	s, err := New(t.TempDir())
	require.NoError(t, err)
	assert.Error(t, s.Put(Record{}))
}

func TestStateTerminal(t *testing.T) {
	for _, st := range []State{Succeeded, Failed, Skipped, UpstreamFailed} {
		assert.True(t, st.Terminal(), st)
	}
	for _, st := range []State{Pending, Ready, Running} {
		assert.False(t, st.Terminal(), st)
	}
}
