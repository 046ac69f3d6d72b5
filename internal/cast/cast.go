// Package cast implements detection of on-screen cast credits in a video. The
// Engine walks backwards through the tail of a video, sampling frames and reading
// their text until it finds a frame headed by the credits marker, after which
// the names found are resolved to portrait images via a MetadataLookup.
package cast

import (
	"context"

	"github.com/google/uuid"
)

type (
	// Video is the input to a single detection run.
	Video struct {
		ID          uuid.UUID
		Path        string
		DisplayName string
	}

	Metadata struct {
		DurationSeconds float64
	}

	// FrameExtractor is able to inspect a video and save individual
	// frames from it as images.
	FrameExtractor interface {
		Metadata(ctx context.Context, path string) (*Metadata, error)
		SaveFrame(ctx context.Context, path string, outputPath string, offsetSeconds float64) error
	}

	// TextRecognizer reads the text contained within an image.
	TextRecognizer interface {
		Read(ctx context.Context, imagePath string) (string, error)
	}

	// Match is a single result from a metadata lookup. An empty
	// ImageURL indicates the result has no portrait.
	Match struct {
		Label    string
		ImageURL string
	}

	// MetadataLookup searches for people by name. An empty slice
	// of matches is a valid, non-error, outcome.
	MetadataLookup interface {
		Lookup(ctx context.Context, name string) ([]Match, error)
	}

	// CandidateSelector chooses which of the lines following the marker
	// are the names of the cast members.
	CandidateSelector interface {
		Select(candidates []string) []string
	}

	// Notifier receives the messages and results produced by a run. Calls
	// are made synchronously from the goroutine executing the run.
	Notifier interface {
		Message(text string)
		CastResult(members []Member)
	}

	// Member is a resolved cast member. ImageURL is nil when no
	// lookup result matched the name.
	Member struct {
		Name         string  `json:"name"`
		ImageURL     *string `json:"imageUrl,omitempty"`
		LookupFailed bool    `json:"lookupFailed,omitempty"`
	}

	Outcome int

	// Result describes how a run which completed without error ended.
	Result struct {
		Outcome         Outcome
		DurationSeconds float64
		StartOffset     float64
		StopOffset      float64
		FoundAt         float64
		ProbedOffsets   []float64
		Members         []Member
	}

	Config struct {
		ScratchDir          string  `yaml:"scratch_dir" env:"DETECTION_SCRATCH_DIR" env-default:"~/.cache/castid/frames"`
		LeadTrimSeconds     float64 `yaml:"lead_trim_seconds" env:"DETECTION_LEAD_TRIM_SECONDS" env-default:"180" validate:"gte=0"`
		SearchWindowSeconds float64 `yaml:"search_window_seconds" env:"DETECTION_SEARCH_WINDOW_SECONDS" env-default:"340" validate:"gte=0"`
		StepSeconds         float64 `yaml:"step_seconds" env:"DETECTION_STEP_SECONDS" env-default:"5" validate:"gt=0"`
		MaxCandidates       int     `yaml:"max_candidates" env:"DETECTION_MAX_CANDIDATES" env-default:"5" validate:"gt=0"`
		Marker              string  `yaml:"marker" env:"DETECTION_MARKER" env-default:"cast" validate:"required"`
		ProgressEvery       int     `yaml:"progress_every" env:"DETECTION_PROGRESS_EVERY" env-default:"12" validate:"gte=0"`
	}
)

const (
	NotFound Outcome = iota
	Found
)

func (o Outcome) String() string {
	switch o {
	case Found:
		return "FOUND"
	case NotFound:
		return "NOT_FOUND"
	default:
		return "UNKNOWN"
	}
}
