package cast

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"
	"github.com/hbomb79/castid/pkg/logger"
)

var log = logger.Get("CastDetector")

const (
	notFoundMessage = "Couldn't find any cast in the movie."
	successMessage  = "Successfully fetched cast member images from IMDB!"

	// offsetTolerance absorbs floating point error when counting the
	// steps within the search window.
	offsetTolerance = 1e-9
)

type Engine struct {
	config     Config
	extractor  FrameExtractor
	recognizer TextRecognizer
	lookup     MetadataLookup
	selector   CandidateSelector
}

// NewEngine constructs an engine using the collaborators provided. If the
// selector is nil, a BackHalfSelector limited to the configured maximum
// number of candidates is used.
func NewEngine(config Config, extractor FrameExtractor, recognizer TextRecognizer, lookup MetadataLookup, selector CandidateSelector) *Engine {
	if selector == nil {
		selector = BackHalfSelector{Max: config.MaxCandidates}
	}

	return &Engine{
		config:     config,
		extractor:  extractor,
		recognizer: recognizer,
		lookup:     lookup,
		selector:   selector,
	}
}

// Execute runs the detection for the video provided, reporting progress and the
// final cast to the notifier. A run which searches the entire window without finding
// the credits is not an error, and is reported via the Outcome of the result.
//
// Errors while extracting or recognizing frames abort the run and are returned
// as an *ExtractionError or *RecognitionError. The context is checked before each
// frame is extracted, and the context's error is returned if it has been cancelled.
func (engine *Engine) Execute(ctx context.Context, video Video, notifier Notifier) (*Result, error) {
	started := time.Now()
	log.Emit(logger.NEW, "Starting cast detection for %s (%s)\n", video.DisplayName, video.ID)
	notifier.Message(fmt.Sprintf("Searching %q for cast credits...", video.DisplayName))

	meta, err := engine.extractor.Metadata(ctx, video.Path)
	if err != nil {
		return nil, &ExtractionError{Offset: -1, Err: err}
	}

	scratch, err := engine.resetScratch(video)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			log.Emit(logger.WARNING, "Failed to remove scratch directory %s: %v\n", scratch, err)
		}
	}()

	result := &Result{
		Outcome:         NotFound,
		DurationSeconds: meta.DurationSeconds,
		StartOffset:     meta.DurationSeconds - engine.config.LeadTrimSeconds,
	}
	result.StopOffset = max(0, result.StartOffset-engine.config.SearchWindowSeconds)

	notifier.Message(fmt.Sprintf("Video is %s long, searching from %s back to %s",
		formatOffset(meta.DurationSeconds), formatOffset(result.StartOffset), formatOffset(result.StopOffset)))
	log.Emit(logger.DEBUG, "Run %s: duration=%.2f start=%.2f stop=%.2f\n", video.ID, meta.DurationSeconds, result.StartOffset, result.StopOffset)

	frames := frameCount(result.StartOffset, result.StopOffset, engine.config.StepSeconds)
	for i := 0; i < frames; i++ {
		offset := max(result.StopOffset, result.StartOffset-float64(i)*engine.config.StepSeconds)
		if err := ctx.Err(); err != nil {
			log.Emit(logger.STOP, "Run %s cancelled at %.2fs\n", video.ID, offset)
			return nil, err
		}

		result.ProbedOffsets = append(result.ProbedOffsets, offset)
		if every := engine.config.ProgressEvery; every > 0 && len(result.ProbedOffsets)%every == 0 {
			notifier.Message(fmt.Sprintf("Still searching for cast, currently at %s", formatOffset(offset)))
		}

		text, err := engine.readFrame(ctx, video, scratch, offset)
		if err != nil {
			return nil, err
		}

		candidates, ok := engine.acceptFrame(text)
		if !ok {
			continue
		}

		log.Emit(logger.SUCCESS, "Run %s: credits found at %.2fs\n", video.ID, offset)
		result.Outcome = Found
		result.FoundAt = offset
		result.Members = engine.resolveMembers(ctx, engine.selector.Select(candidates))

		notifier.CastResult(result.Members)
		notifier.Message(successMessage)
		log.Emit(logger.INFO, "Run %s completed in %s, %d members found\n", video.ID, time.Since(started).Round(time.Millisecond), len(result.Members))
		return result, nil
	}

	log.Emit(logger.INFO, "Run %s: no cast found after probing %d frames\n", video.ID, len(result.ProbedOffsets))
	notifier.Message(notFoundMessage)
	return result, nil
}

// readFrame extracts the frame at the offset given and returns the text found within
// it. The frame is removed once it has been read.
func (engine *Engine) readFrame(ctx context.Context, video Video, scratch string, offset float64) (string, error) {
	framePath := filepath.Join(scratch, fmt.Sprintf("frame%d.jpeg", int(offset)))
	if err := engine.extractor.SaveFrame(ctx, video.Path, framePath, offset); err != nil {
		return "", &ExtractionError{Offset: offset, Err: err}
	}
	defer os.Remove(framePath)

	text, err := engine.recognizer.Read(ctx, framePath)
	if err != nil {
		return "", &RecognitionError{Offset: offset, Err: err}
	}

	return text, nil
}

// acceptFrame returns the candidate names found after the marker, and a boolean
// indicating whether the text provided is a credits frame. Text in which the
// marker only appears as part of a larger line (e.g. "broadcast") is rejected.
func (engine *Engine) acceptFrame(text string) ([]string, bool) {
	candidates, ok := parseCandidates(text, engine.config.Marker)
	if !ok || len(candidates) == 0 {
		return nil, false
	}

	if !strings.EqualFold(candidates[0], engine.config.Marker) {
		log.Emit(logger.VERBOSE, "Rejecting frame as marker line %q is not a heading\n", candidates[0])
		return nil, false
	}

	return trimMarker(candidates, engine.config.Marker), true
}

// resolveMembers looks up each name in order. A failure to lookup one name
// does not prevent the remaining names from being resolved.
func (engine *Engine) resolveMembers(ctx context.Context, names []string) []Member {
	members := make([]Member, 0, len(names))
	for _, name := range names {
		member := Member{Name: name}
		matches, err := engine.lookup.Lookup(ctx, name)
		if err != nil {
			log.Emit(logger.WARNING, "%v\n", &LookupError{Name: name, Err: err})
			member.LookupFailed = true
		} else if match := bestMatch(name, matches); match != nil {
			imageURL := match.ImageURL
			member.ImageURL = &imageURL
		}

		members = append(members, member)
	}

	return members
}

// bestMatch returns the match with a portrait whose label contains the name
// provided and is most similar to it. Nil is returned if no match qualifies.
func bestMatch(name string, matches []Match) *Match {
	var (
		best      *Match
		bestScore = -1.0
		lowerName = strings.ToLower(name)
	)
	for i, match := range matches {
		if match.ImageURL == "" || !strings.Contains(strings.ToLower(match.Label), lowerName) {
			continue
		}

		score := strutil.Similarity(name, match.Label, &metrics.Hamming{CaseSensitive: false})
		if score > bestScore {
			best = &matches[i]
			bestScore = score
		}
	}

	return best
}

// resetScratch ensures an empty scratch directory exists for this run.
func (engine *Engine) resetScratch(video Video) (string, error) {
	dir := filepath.Join(engine.config.ScratchDir, video.ID.String())
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("failed to reset scratch directory %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return "", fmt.Errorf("failed to create scratch directory %s: %w", dir, err)
	}

	return dir, nil
}

// frameCount returns the number of frames probed when stepping back from start
// to stop (inclusive). Zero is returned if start is before stop.
func frameCount(start float64, stop float64, step float64) int {
	if start < stop || step <= 0 {
		return 0
	}

	return int(math.Floor((start-stop)/step+offsetTolerance)) + 1
}

func formatOffset(seconds float64) string {
	return (time.Duration(seconds * float64(time.Second))).Round(time.Second).String()
}
