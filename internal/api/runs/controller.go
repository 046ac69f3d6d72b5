package runs

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/hbomb79/castid/internal/detection"
	"github.com/labstack/echo/v4"
)

type (
	Service interface {
		Run(uuid.UUID) (detection.RunRecord, error)
		Runs() []detection.RunRecord
	}

	Controller struct {
		service Service
	}
)

func New(service Service) *Controller {
	return &Controller{service: service}
}

func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.GET("/", controller.list)
	eg.GET("/:id/", controller.get)
}

// list returns all the runs known to castid, in the order they were queued.
func (controller *Controller) list(ec echo.Context) error {
	return ec.JSON(http.StatusOK, controller.service.Runs())
}

func (controller *Controller) get(ec echo.Context) error {
	id, err := uuid.Parse(ec.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Run ID is not a valid UUID")
	}

	run, err := controller.service.Run(id)
	if errors.Is(err, detection.ErrRunNotFound) {
		return echo.NewHTTPError(http.StatusNotFound)
	} else if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return ec.JSON(http.StatusOK, run)
}
