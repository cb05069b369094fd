package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/phasegrid/internal/artifact"
	"github.com/vk/phasegrid/internal/dag"
	"github.com/vk/phasegrid/internal/statestore"
)

func TestRunLog_OneLinePerTransition(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "run.jsonl")
	runLog, err := OpenRunLog(path)
	require.NoError(t, err)

	store := artifact.NewStore(t.TempDir())
	g := buildGraph(t, store, chunkSource{"21": 1})
	rec := &recorder{}
	res, _ := run(t, g, newFakeExec(), Options{RunID: "run-1", Journal: Journals{runLog, rec}})
	require.NoError(t, runLog.Close())
	require.True(t, res.Complete())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var line map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &line))
		lines = append(lines, line)
	}
	require.NoError(t, sc.Err())

	require.Len(t, lines, len(rec.ts))
	first := lines[0]
	assert.Equal(t, "transition", first["msg"])
	assert.Equal(t, "run-1", first["run_id"])
	assert.Contains(t, first, "task")
	assert.Contains(t, first, "from")
	assert.Contains(t, first, "to")
	assert.NotContains(t, first, "cause")
}

func TestStateJournal_PersistsLatestState(t *testing.T) {
	ss, err := statestore.New(t.TempDir())
	require.NoError(t, err)
	j := NewStateJournal(ss)
	ctx := context.Background()
	id := dag.TaskID{Chrom: "21", Chunk: 2, Stage: dag.StagePhaseCommon}
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	j.Record(ctx, Transition{RunID: "r", Task: id, From: statestore.Ready, To: statestore.Running, StartedAt: start, Attempt: 1})
	rec, ok, err := ss.Get(id.Key())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, statestore.Running, rec.State)
	assert.True(t, rec.EndedAt.IsZero())

	end := start.Add(time.Minute)
	j.Record(ctx, Transition{
		RunID: "r", Task: id, From: statestore.Running, To: statestore.Failed,
		At: end, StartedAt: start, Attempt: 3, ExitCode: 1, Cause: "phase_common exited with code 1",
	})
	rec, ok, err = ss.Get(id.Key())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, statestore.Failed, rec.State)
	assert.Equal(t, "chr21.chunk002.phase-common", rec.Task)
	assert.Equal(t, "chunk002", rec.Chunk)
	assert.Equal(t, "phase-common", rec.Stage)
	assert.Equal(t, 2, rec.Retries)
	assert.Equal(t, 1, rec.ExitCode)
	assert.Equal(t, end, rec.EndedAt)
	assert.Equal(t, start, rec.StartedAt)
}

func TestJournals_FanOutInOrder(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	tr := Transition{Task: dag.TaskID{Chrom: "1", Chunk: dag.NoChunk, Stage: dag.StageConcat}, To: statestore.Succeeded}
	Journals{a, b}.Record(context.Background(), tr)
	assert.Len(t, a.ts, 1)
	assert.Len(t, b.ts, 1)
}
