package ingest

import "time"

// Config contains configuration options that allow customization
// of how castid detects files dropped in to the watch folder.
type Config struct {
	// Enabled controls whether the watch folder is monitored at all. Uploads
	// via the REST API work regardless of this setting.
	Enabled bool `yaml:"enabled" env:"INGEST_ENABLED" env-default:"false"`

	// The path to the directory the service should monitor
	// for new files
	Path string `yaml:"path" env:"INGEST_PATH" env-default:"~/castid/ingest"`

	// The service uses a directory watcher, but a 'force' sync is
	// performed on a regular interval in case the watcher misses an event.
	ForceSyncSeconds int `yaml:"force_sync_seconds" env:"INGEST_FORCE_SYNC_SECONDS" env-default:"60" validate:"gt=0"`

	// When a new file is detected, it's likely to be an in-progress
	// copy. As we cannot KNOW when the copy is complete, we instead wait for
	// the 'modtime' of the file to be at least this long in the past before
	// submitting it for detection.
	RequiredModTimeAgeSeconds int `yaml:"required_modtime_age_seconds" env:"INGEST_REQUIRED_MODTIME_AGE_SECONDS" env-default:"10" validate:"gte=0"`

	// Extensions of the files which should be picked up, all other files are ignored.
	Extensions []string `yaml:"extensions" env:"INGEST_EXTENSIONS" env-default:".mp4,.mkv" env-separator:","`

	// An array of regular expressions that can be used to RESTRICT
	// the files processed by this service. If any expression matches
	// the name of the file, it is ignored.
	Blacklist []string `yaml:"blacklist" env:"INGEST_BLACKLIST" env-separator:","`
}

func (config *Config) RequiredModTimeAgeDuration() time.Duration {
	return time.Duration(config.RequiredModTimeAgeSeconds) * time.Second
}

func (config *Config) ForceSyncDuration() time.Duration {
	return time.Duration(config.ForceSyncSeconds) * time.Second
}
