package tools

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/vk/phasegrid/internal/faults"
)

// Classifier decides whether a failed tool invocation is worth retrying.
type Classifier struct {
	Patterns  []string
	ExitCodes []int
}

// Transient reports whether a failure with this exit code and stderr tail
// matches a known transient signature.
func (c Classifier) Transient(res Result) bool {
	if slices.Contains(c.ExitCodes, res.ExitCode) {
		return true
	}
	for _, p := range c.Patterns {
		if p != "" && strings.Contains(res.Tail, p) {
			return true
		}
	}
	return false
}

// ToolError describes a failed invocation.
type ToolError struct {
	Tool     string
	ExitCode int
	Tail     string
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("%s exited with code %d", e.Tool, e.ExitCode)
	if line := lastLine(e.Tail); line != "" {
		msg += ": " + line
	}
	return msg
}

// classify wraps a failed invocation in the transient or permanent kind.
func (c Classifier) classify(tool string, res Result) error {
	te := &ToolError{Tool: tool, ExitCode: res.ExitCode, Tail: res.Tail}
	if c.Transient(res) {
		return faults.Wrap(faults.ErrTransientTool, te, "%s", tool)
	}
	return faults.Wrap(faults.ErrPermanentTool, te, "%s", tool)
}

// ExitCode extracts the tool exit code from err, or 0 when err carries none.
func ExitCode(err error) int {
	var te *ToolError
	if errors.As(err, &te) {
		return te.ExitCode
	}
	return 0
}

func lastLine(s string) string {
	s = strings.TrimRight(s, "\n")
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(s)
}
