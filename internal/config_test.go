package internal_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/hbomb79/castid/internal"
	"github.com/hbomb79/castid/pkg/logger"
	"github.com/hbomb79/castid/pkg/queue"
	"github.com/mitchellh/go-homedir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gotest.tools/v3/fs"
)

func init() {
	logger.SetMinLoggingLevel(logger.VERBOSE.Level())
}

const configYaml = `
http:
  host_address: 127.0.0.1:9090
upload:
  size_limit: 512MB
  permitted_extensions: [".mp4"]
detection:
  lead_trim_seconds: 120
concurrency:
  detection_workers: 2
  queue:
    capacity: 8
    overflow: drop_oldest
imdb:
  api_key: file-key
`

func Test_LoadConfig_FileAndDefaults(t *testing.T) {
	dir := fs.NewDir(t, "castid-config", fs.WithFile("config.yaml", configYaml))

	config, err := internal.LoadConfig(dir.Join("config.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9090", config.RestConfig.HostAddr)
	assert.Equal(t, "512MB", config.Upload.SizeLimit)
	assert.Equal(t, []string{".mp4"}, config.Upload.PermittedExtensions)
	assert.Equal(t, 120.0, config.Detection.LeadTrimSeconds)
	assert.Equal(t, 2, config.Concurrency.DetectionWorkers)
	assert.Equal(t, queue.Config{Capacity: 8, Overflow: queue.DropOldest}, config.Concurrency.Queue)
	assert.Equal(t, "file-key", config.Imdb.ApiKey)

	// Defaults
	assert.Equal(t, 340.0, config.Detection.SearchWindowSeconds)
	assert.Equal(t, 5.0, config.Detection.StepSeconds)
	assert.Equal(t, 5, config.Detection.MaxCandidates)
	assert.Equal(t, "cast", config.Detection.Marker)
	assert.Equal(t, 16, config.Activity.ReplaySize)
	assert.Equal(t, 100, config.Runs.Retention)
	assert.Equal(t, 10*time.Second, config.Imdb.Timeout)
	assert.False(t, config.Ingest.Enabled)

	home, err := homedir.Dir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".cache/castid/uploads"), config.Upload.WorkingDir)
	assert.Equal(t, filepath.Join(home, ".cache/castid/frames"), config.Detection.ScratchDir)
}

func Test_LoadConfig_EnvironmentOverridesFile(t *testing.T) {
	dir := fs.NewDir(t, "castid-config", fs.WithFile("config.yaml", configYaml))
	t.Setenv("IMDB_API_KEY", "env-key")
	t.Setenv("DETECTION_STEP_SECONDS", "2.5")
	t.Setenv("QUEUE_OVERFLOW_POLICY", "block")

	config, err := internal.LoadConfig(dir.Join("config.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "env-key", config.Imdb.ApiKey)
	assert.Equal(t, 2.5, config.Detection.StepSeconds)
	assert.Equal(t, queue.Block, config.Concurrency.Queue.Overflow)
}

func Test_LoadConfig_EnvironmentOnly(t *testing.T) {
	t.Setenv("IMDB_API_KEY", "env-key")
	t.Setenv("UPLOAD_WORKING_DIR", "/tmp/castid-uploads")

	config, err := internal.LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "env-key", config.Imdb.ApiKey)
	assert.Equal(t, "/tmp/castid-uploads", config.Upload.WorkingDir)
	assert.Equal(t, "4GB", config.Upload.SizeLimit)
}

func Test_LoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		summary string
		yaml    string
	}{
		{"missing api key", "upload:\n  size_limit: 1GB\n"},
		{"negative step", "imdb:\n  api_key: k\ndetection:\n  step_seconds: -1\n"},
		{"no workers", "imdb:\n  api_key: k\nconcurrency:\n  detection_workers: -2\n"},
		{"no run retention", "imdb:\n  api_key: k\nruns:\n  retention: 0\n"},
		{"unknown overflow policy", "imdb:\n  api_key: k\nconcurrency:\n  queue:\n    overflow: explode\n"},
	}

	for _, tt := range tests {
		t.Run(tt.summary, func(t *testing.T) {
			dir := fs.NewDir(t, "castid-config", fs.WithFile("config.yaml", tt.yaml))
			_, err := internal.LoadConfig(dir.Join("config.yaml"))
			assert.Error(t, err)
		})
	}
}

func Test_ConfigUsage(t *testing.T) {
	usage, err := internal.ConfigUsage()
	require.NoError(t, err)
	assert.Contains(t, usage, "IMDB_API_KEY")
	assert.Contains(t, usage, "CONCURRENCY_DETECTION_WORKERS")
}
