package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/phasegrid/internal/dag"
	"github.com/vk/phasegrid/internal/engine"
	"github.com/vk/phasegrid/internal/statestore"
)

func TestPayload(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("chunk task failure", func(t *testing.T) {
		p := Payload(engine.Transition{
			RunID:    "r1",
			Task:     dag.TaskID{Chrom: "7", Chunk: 4, Stage: dag.StagePhaseCommon},
			From:     statestore.Running,
			To:       statestore.Failed,
			At:       at,
			Attempt:  2,
			ExitCode: 137,
			Cause:    "killed",
		})
		assert.Equal(t, map[string]any{
			"run_id":    "r1",
			"task":      "chr7.chunk004.phase-common",
			"chrom":     "7",
			"stage":     "phase-common",
			"chunk":     "chunk004",
			"from":      "running",
			"to":        "failed",
			"attempt":   2,
			"exit_code": 137,
			"cause":     "killed",
			"at":        "2026-03-01T12:00:00Z",
		}, p)
	})

	t.Run("sample task omits empty fields", func(t *testing.T) {
		p := Payload(engine.Transition{
			Task: dag.TaskID{Chrom: "X", Sample: "S1", Chunk: dag.NoChunk, Stage: dag.StageSplit},
			To:   statestore.Succeeded,
			At:   at,
		})
		assert.Equal(t, "S1", p["sample"])
		assert.NotContains(t, p, "chunk")
		assert.NotContains(t, p, "exit_code")
		assert.NotContains(t, p, "cause")
	})
}

func TestDial_Errors(t *testing.T) {
	t.Run("relative URL", func(t *testing.T) {
		_, err := Dial(context.Background(), "localhost:3000", "")
		require.Error(t, err)
	})

	t.Run("nothing listening", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, err := Dial(ctx, "http://127.0.0.1:1", "/")
		require.Error(t, err)
	})
}
