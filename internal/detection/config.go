package detection

// Config controls how long the service remembers detection runs.
type Config struct {
	// Retention is the number of finished runs which are kept for
	// inspection via the API. Once exceeded, the oldest finished runs are
	// forgotten. Queued and running runs are never forgotten.
	Retention int `yaml:"retention" env:"RUNS_RETENTION" env-default:"100" validate:"gte=1"`
}
