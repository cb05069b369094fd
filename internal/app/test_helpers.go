package app

import (
	"bytes"
	"os"
	"sync"
	"testing"

	"github.com/vk/phasegrid/internal/tools"
)

// SafeBuffer is a thread-safe buffer for capturing log output in tests.
type SafeBuffer struct {
	b  bytes.Buffer
	mu sync.Mutex
}

func (b *SafeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

func (b *SafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

// SetupAppTest creates an app that runs tools through runner and logs at
// debug level into the returned buffer.
func SetupAppTest(t *testing.T, config *Config, runner tools.Runner) (*App, *SafeBuffer) {
	t.Helper()

	logBuffer := &SafeBuffer{}
	config.LogLevel = "debug"
	testApp := NewApp(logBuffer, config)
	if runner != nil {
		testApp.runner = runner
	}

	t.Cleanup(func() {
		if os.Getenv("PHASEGRID_TEST_LOGS") == "true" {
			t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), logBuffer.String())
		}
	})

	return testApp, logBuffer
}
