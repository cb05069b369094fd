package faults

import (
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Classification(t *testing.T) {
	cause := os.ErrNotExist
	err := Wrap(ErrFatalPreflight, cause, "pedigree %s", "/data/ped.txt")
	wrapped := fmt.Errorf("starting run: %w", err)

	assert.ErrorIs(t, wrapped, ErrFatalPreflight)
	assert.ErrorIs(t, wrapped, os.ErrNotExist)
	assert.True(t, IsFatal(wrapped))
	assert.False(t, IsTransient(wrapped))
	assert.Equal(t, "fatal pre-flight error: pedigree /data/ped.txt: file does not exist", err.Error())

	var fe *Error
	assert.True(t, errors.As(wrapped, &fe))
	assert.Equal(t, ErrFatalPreflight, fe.Kind)
}

func TestIsFatal(t *testing.T) {
	cases := []struct {
		err   error
		fatal bool
	}{
		{New(ErrMalformedChunkFile, "line 3"), true},
		{New(ErrEmptyChunkSet, "chr21"), true},
		{New(ErrCyclicGraph, "a -> b -> a"), true},
		{New(ErrTransientTool, "exit 1"), false},
		{New(ErrPermanentTool, "exit 1"), false},
		{errors.New("plain"), false},
	}
	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			assert.Equal(t, tc.fatal, IsFatal(tc.err))
		})
	}
}
