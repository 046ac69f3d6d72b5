package uploads

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/hbomb79/castid/internal/cast"
	"github.com/hbomb79/castid/internal/detection"
	"github.com/hbomb79/castid/internal/upload"
	"github.com/hbomb79/castid/pkg/logger"
	"github.com/hbomb79/castid/pkg/queue"
	"github.com/labstack/echo/v4"
)

const (
	filePart  = "file"
	titlePart = "title"

	// titlePartLimit bounds how much of the title part is read, anything
	// beyond this fails validation anyway.
	titlePartLimit = 1024
)

type (
	UploadRequest struct {
		Title string `validate:"omitempty,max=200,printable"`
	}

	UploadResponse struct {
		RunID    uuid.UUID `json:"runId"`
		FileName string    `json:"fileName"`
	}

	Submitter interface {
		Submit(ctx context.Context, video cast.Video, source detection.Source, cleanup func()) (detection.RunRecord, error)
	}

	Store interface {
		Save(runID uuid.UUID, fileName string, src io.Reader) (*upload.StoredFile, error)
		Remove(runID uuid.UUID) error
	}

	// Controller is the struct which is responsible for defining the
	// routes for uploads. The uploaded file is streamed to the store and
	// a detection run for it is submitted.
	Controller struct {
		validate  *validator.Validate
		submitter Submitter
		store     Store
	}
)

var log = logger.Get("UploadsController")

func New(validate *validator.Validate, submitter Submitter, store Store) *Controller {
	return &Controller{validate: validate, submitter: submitter, store: store}
}

func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.POST("/", controller.create)
}

// create accepts a multipart form containing the video ('file') and an optional
// display name ('title'). The file part is streamed directly to the store rather than
// being buffered by the multipart parser. Once stored, a detection run is
// submitted and it's ID is returned to the caller, who should watch the activity
// socket for progress of the run.
func (controller *Controller) create(ec echo.Context) error {
	reader, err := ec.Request().MultipartReader()
	if err != nil {
		return ec.JSON(http.StatusBadRequest, &upload.ValidationError{Field: filePart, Message: "The request must be a multipart form."})
	}

	runID := uuid.New()
	var (
		request UploadRequest
		stored  *upload.StoredFile
	)
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			controller.discard(runID, stored)
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid body: %s", err.Error()))
		}

		if err := controller.readPart(runID, part, &request, &stored); err != nil {
			controller.discard(runID, stored)

			var validationErr *upload.ValidationError
			if errors.As(err, &validationErr) {
				return ec.JSON(http.StatusBadRequest, validationErr)
			}
			return err
		}
	}

	if stored == nil {
		return ec.JSON(http.StatusBadRequest, &upload.ValidationError{Field: filePart, Message: "No file was provided."})
	}

	if err := controller.validate.Struct(request); err != nil {
		controller.discard(runID, stored)
		return ec.JSON(http.StatusBadRequest, &upload.ValidationError{Field: titlePart, Message: "The title must be at most 200 printable characters."})
	}

	displayName := stored.DisplayName
	if request.Title != "" {
		displayName = request.Title
	}

	video := cast.Video{ID: runID, Path: stored.Path, DisplayName: displayName}
	if _, err := controller.submitter.Submit(ec.Request().Context(), video, detection.SourceUpload, func() { controller.discard(runID, stored) }); err != nil {
		controller.discard(runID, stored)
		if errors.Is(err, queue.ErrQueueFull) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "Too many videos are waiting to be processed, please try again later")
		}

		log.Emit(logger.ERROR, "Failed to submit upload %s: %v\n", runID, err)
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to submit upload for processing")
	}

	return ec.JSON(http.StatusAccepted, UploadResponse{RunID: runID, FileName: stored.DisplayName})
}

// readPart consumes a single part of the multipart form, storing the file or
// reading the title in to the request. The part is always closed before returning.
// Rejections of the upload are returned as an *upload.ValidationError.
func (controller *Controller) readPart(runID uuid.UUID, part *multipart.Part, request *UploadRequest, stored **upload.StoredFile) error {
	defer part.Close()

	switch part.FormName() {
	case filePart:
		if *stored != nil {
			return &upload.ValidationError{Field: filePart, Message: "Only one file may be uploaded."}
		}

		file, err := controller.store.Save(runID, part.FileName(), part)
		if err != nil {
			var validationErr *upload.ValidationError
			if errors.As(err, &validationErr) {
				return validationErr
			}

			log.Emit(logger.ERROR, "Failed to store upload: %v\n", err)
			return echo.NewHTTPError(http.StatusInternalServerError, "Failed to store upload")
		}
		*stored = file
	case titlePart:
		title, err := io.ReadAll(io.LimitReader(part, titlePartLimit))
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid body: %s", err.Error()))
		}
		request.Title = string(title)
	}

	return nil
}

// discard removes the stored upload for the run, if any.
func (controller *Controller) discard(runID uuid.UUID, stored *upload.StoredFile) {
	if stored == nil {
		return
	}

	if err := controller.store.Remove(runID); err != nil {
		log.Emit(logger.WARNING, "Failed to remove upload for run %s: %v\n", runID, err)
	}
}
