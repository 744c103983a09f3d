package app

import (
	"os"
	"testing"

	"github.com/vk/patchflow/internal/config"
	"github.com/vk/patchflow/internal/operator"
	"github.com/vk/patchflow/internal/testutil"
)

// SetupAppTest creates a new app instance for system testing. Logs are
// captured at debug level in text format, and dumped after the test when
// PATCHFLOW_TEST_LOGS=true.
func SetupAppTest(t *testing.T, cfg *config.Config, modules ...operator.Module) (*App, *testutil.SafeBuffer) {
	t.Helper()

	if cfg == nil {
		cfg = config.Default()
	}
	cfg.Log.Level = "debug"
	cfg.Log.Format = "text"
	logBuffer := &testutil.SafeBuffer{}
	testApp := NewApp(logBuffer, cfg, modules...)

	t.Cleanup(func() {
		if os.Getenv("PATCHFLOW_TEST_LOGS") == "true" {
			t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), logBuffer.String())
		}
	})

	return testApp, logBuffer
}
