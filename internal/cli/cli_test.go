package cli_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/patchflow/internal/cli"
)

const tone = `
patch "tone" {
  object "osc" {
    text = "sig~ 0.5"
  }
  object "out" {
    text = "dac~"
  }
  connect {
    from = "osc"
    to   = "out"
  }
}
`

func writeFile(t *testing.T, name, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	return path
}

func TestExecute_UsageErrors(t *testing.T) {
	t.Parallel()

	patch := writeFile(t, "tone.hcl", tone)
	badConfig := writeFile(t, "engine.yaml", "audio:\n  channels: 0\n")

	testCases := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "unknown flag", args: []string{"run", "--bogus", patch}, wantErr: "unknown flag: --bogus"},
		{name: "invalid log format", args: []string{"check", "--log-format", "xml", patch}, wantErr: "log.format"},
		{name: "invalid log level", args: []string{"check", "--log-level", "loud", patch}, wantErr: "log.level"},
		{name: "invalid config file", args: []string{"check", "-c", badConfig, patch}, wantErr: "audio.channels"},
		{name: "missing config file", args: []string{"check", "-c", badConfig + ".missing", patch}, wantErr: "read config"},
		{name: "flag override validated", args: []string{"run", "--block-size", "0", patch}, wantErr: "audio.block_size"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var out bytes.Buffer

			err := cli.Execute(context.Background(), &out, tc.args)

			var exitErr *cli.ExitError
			require.ErrorAs(t, err, &exitErr)
			assert.Equal(t, 2, exitErr.Code)
			assert.Contains(t, exitErr.Message, tc.wantErr)
		})
	}
}

func TestExecute_NoArgumentsPrintsHelp(t *testing.T) {
	t.Parallel()
	var out bytes.Buffer

	err := cli.Execute(context.Background(), &out, nil)

	require.NoError(t, err)
	assert.Contains(t, out.String(), "Available Commands:")
	assert.Contains(t, out.String(), "check")
	assert.Contains(t, out.String(), "telemetry")
}

func TestExecute_RequiresPatchPaths(t *testing.T) {
	t.Parallel()

	err := cli.Execute(context.Background(), &bytes.Buffer{}, []string{"run"})

	require.ErrorContains(t, err, "requires at least 1 arg")
}

func TestExecute_Check(t *testing.T) {
	t.Parallel()
	// --- Arrange ---
	patch := writeFile(t, "tone.hcl", tone)
	var out bytes.Buffer

	// --- Act ---
	err := cli.Execute(context.Background(), &out, []string{"check", "--log-level", "error", patch})

	// --- Assert ---
	require.NoError(t, err)
	assert.Contains(t, out.String(), "tone ("+patch+"): ok, 1 outputs")
}

func TestExecute_RunWritesAudio(t *testing.T) {
	t.Parallel()
	// --- Arrange ---
	patch := writeFile(t, "tone.hcl", tone)
	audio := filepath.Join(t.TempDir(), "out.f32")
	var out bytes.Buffer

	// --- Act ---
	err := cli.Execute(context.Background(), &out, []string{
		"run", "--duration", "100ms", "--channels", "1", "--block-size", "64", "--tempo", "90", "-o", audio, "--log-format", "json", patch,
	})

	// --- Assert ---
	require.NoError(t, err)
	info, err := os.Stat(audio)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
	assert.Zero(t, info.Size()%(64*4), "whole blocks only")
	assert.Contains(t, out.String(), `"msg":"🏁 Patch stopped."`)
	assert.Contains(t, out.String(), `"tempo":90`)
}
