package internal

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/hbomb79/castid/internal/activity"
	"github.com/hbomb79/castid/internal/api"
	"github.com/hbomb79/castid/internal/cast"
	"github.com/hbomb79/castid/internal/detection"
	"github.com/hbomb79/castid/internal/ffmpeg"
	"github.com/hbomb79/castid/internal/http/imdb"
	"github.com/hbomb79/castid/internal/ingest"
	"github.com/hbomb79/castid/internal/ocr"
	"github.com/hbomb79/castid/internal/upload"
	"github.com/hbomb79/castid/pkg/queue"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/mitchellh/go-homedir"
)

// Config is the struct used to contain the
// various user config supplied by file, or
// by environment variables.
type Config struct {
	RestConfig  api.RestConfig    `yaml:"http"`
	Upload      upload.Config     `yaml:"upload"`
	Detection   cast.Config       `yaml:"detection"`
	Runs        detection.Config  `yaml:"runs"`
	Concurrency ConcurrencyConfig `yaml:"concurrency"`
	Ffmpeg      ffmpeg.Config     `yaml:"ffmpeg"`
	OCR         ocr.Config        `yaml:"ocr"`
	Imdb        imdb.Config       `yaml:"imdb"`
	Ingest      ingest.Config     `yaml:"ingest"`
	Activity    activity.Config   `yaml:"activity"`
}

// ConcurrencyConfig is a subset of the configuration that focuses
// only on the concurrency related configs (number of workers consuming
// detection runs, and the capacity of the queue feeding them)
type ConcurrencyConfig struct {
	DetectionWorkers int          `yaml:"detection_workers" env:"CONCURRENCY_DETECTION_WORKERS" env-default:"1" validate:"gte=1"`
	Queue            queue.Config `yaml:"queue"`
}

// LoadConfig reads the configuration from the YAML file at the path
// provided, with any environment variables taking precedence over the
// values in the file. If the path is empty, the configuration is read
// from the environment only.
//
// Paths in the configuration beginning with '~' are expanded to the
// users home directory, and the result is validated.
func LoadConfig(configPath string) (*Config, error) {
	config := &Config{}
	if configPath == "" {
		if err := cleanenv.ReadEnv(config); err != nil {
			return nil, fmt.Errorf("failed to load configuration from environment: %w", err)
		}
	} else if err := cleanenv.ReadConfig(configPath, config); err != nil {
		return nil, fmt.Errorf("failed to load configuration from %s: %w", configPath, err)
	}

	for _, path := range []*string{
		&config.Upload.WorkingDir,
		&config.Detection.ScratchDir,
		&config.Ingest.Path,
		&config.RestConfig.StaticDir,
	} {
		expanded, err := homedir.Expand(*path)
		if err != nil {
			return nil, fmt.Errorf("failed to expand path '%s': %w", *path, err)
		}
		*path = expanded
	}

	if err := validator.New().Struct(config); err != nil {
		return nil, fmt.Errorf("configuration is invalid: %w", err)
	}

	return config, nil
}

// ConfigUsage returns a description of the environment variables which
// can be used to configure castid.
func ConfigUsage() (string, error) {
	return cleanenv.GetDescription(&Config{}, nil)
}
