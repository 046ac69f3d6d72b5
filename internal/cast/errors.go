package cast

import (
	"context"
	"errors"
	"fmt"
)

type (
	// ExtractionError is returned when the metadata of a video, or
	// a frame from it, could not be extracted. Offset is negative
	// when the failure occurred while reading metadata.
	ExtractionError struct {
		Offset float64
		Err    error
	}

	RecognitionError struct {
		Offset float64
		Err    error
	}

	// LookupError describes a failed lookup for a single name. These
	// errors do not abort a run; the affected member is marked instead.
	LookupError struct {
		Name string
		Err  error
	}
)

func (e *ExtractionError) Error() string {
	if e.Offset < 0 {
		return fmt.Sprintf("failed to extract video metadata: %v", e.Err)
	}

	return fmt.Sprintf("failed to extract frame at %.2fs: %v", e.Offset, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

func (e *RecognitionError) Error() string {
	return fmt.Sprintf("failed to recognize text of frame at %.2fs: %v", e.Offset, e.Err)
}

func (e *RecognitionError) Unwrap() error { return e.Err }

func (e *LookupError) Error() string {
	return fmt.Sprintf("lookup for %q failed: %v", e.Name, e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }

// ErrorKind returns a short, stable, description of the kind of
// error provided, suitable for reporting to clients.
func ErrorKind(err error) string {
	var (
		extractionErr  *ExtractionError
		recognitionErr *RecognitionError
		lookupErr      *LookupError
	)

	switch {
	case err == nil:
		return ""
	case errors.As(err, &extractionErr):
		return "extraction"
	case errors.As(err, &recognitionErr):
		return "recognition"
	case errors.As(err, &lookupErr):
		return "lookup"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "internal"
	}
}
