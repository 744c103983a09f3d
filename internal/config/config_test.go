package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/patchflow/internal/config"
	"github.com/vk/patchflow/internal/telemetry"
)

func TestParse_OverridesDefaults(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	src := []byte(`
audio:
  sample_rate: 44100
  tempo: 96
  deadline: 2ms
telemetry:
  path: /tmp/patchflow.telemetry
uplink:
  url: http://localhost:3000
  namespace: /engine
log:
  level: debug
  format: json
healthcheck_port: 8080
`)

	// --- Act ---
	cfg, err := config.Parse(src)

	// --- Assert ---
	require.NoError(t, err)
	want := &config.Config{
		Audio: config.Audio{SampleRate: 44100, BlockSize: 128, Channels: 2, Tempo: 96, Deadline: 2 * time.Millisecond},
		Telemetry: config.Telemetry{
			Path:     "/tmp/patchflow.telemetry",
			Size:     telemetry.DefaultSize,
			Interval: time.Second,
		},
		Uplink:          config.Uplink{URL: "http://localhost:3000", Namespace: "/engine"},
		Log:             config.Log{Level: "debug", Format: "json"},
		HealthcheckPort: 8080,
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_EmptyDocumentIsDefault(t *testing.T) {
	t.Parallel()

	cfg, err := config.Parse(nil)

	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestParse_Rejects(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		src     string
		wantErr string
	}{
		{name: "unknown key", src: "audio:\n  rate: 1\n", wantErr: "field rate not found"},
		{name: "zero block size", src: "audio:\n  block_size: 0\n", wantErr: "audio.block_size must be positive"},
		{name: "zero tempo", src: "audio:\n  tempo: 0\n", wantErr: "audio.tempo must be positive"},
		{name: "negative deadline", src: "audio:\n  deadline: -1ms\n", wantErr: "audio.deadline"},
		{name: "small segment", src: "telemetry:\n  size: 16\n", wantErr: "telemetry.size"},
		{name: "namespace without url", src: "uplink:\n  namespace: /x\n", wantErr: "uplink.namespace requires uplink.url"},
		{name: "bad level", src: "log:\n  level: loud\n", wantErr: "log.level"},
		{name: "bad format", src: "log:\n  format: xml\n", wantErr: "log.format"},
		{name: "port", src: "healthcheck_port: 70000\n", wantErr: "healthcheck_port"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := config.Parse([]byte(tc.src))

			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestValidate_JoinsErrors(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	cfg := config.Default()
	cfg.Audio.SampleRate = 0
	cfg.Log.Level = "loud"

	// --- Act ---
	err := cfg.Validate()

	// --- Assert ---
	require.Error(t, err)
	assert.Contains(t, err.Error(), "audio.sample_rate")
	assert.Contains(t, err.Error(), "log.level")
}

func TestLoad(t *testing.T) {
	t.Parallel()

	t.Run("empty path", func(t *testing.T) {
		t.Parallel()
		cfg, err := config.Load("")
		require.NoError(t, err)
		assert.Equal(t, config.Default(), cfg)
	})

	t.Run("file", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "engine.yaml")
		require.NoError(t, os.WriteFile(path, []byte("audio:\n  channels: 1\n"), 0o644))

		cfg, err := config.Load(path)

		require.NoError(t, err)
		assert.Equal(t, 1, cfg.Audio.Channels)
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
		require.ErrorIs(t, err, os.ErrNotExist)
	})
}
