package api

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/hbomb79/castid/internal/api/runs"
	"github.com/hbomb79/castid/internal/api/uploads"
	"github.com/hbomb79/castid/internal/http/websocket"
	"github.com/hbomb79/castid/pkg/logger"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

var log = logger.Get("API")

const apiRoot = "/api/castid/v1"

type (
	RestConfig struct {
		HostAddr  string `yaml:"host_address" env:"API_HOST_ADDR" env-default:"0.0.0.0:8080" validate:"hostname_port"`
		StaticDir string `yaml:"static_dir" env:"API_STATIC_DIR"`
	}

	controller interface {
		SetRoutes(*echo.Group)
	}

	// detectionService represents a union of all the controller service requirements
	detectionService interface {
		uploads.Submitter
		runs.Service
	}

	// The RestGateway is a thin-wrapper around the Echo HTTP router. It's sole responsbility
	// is to create the routes castid exposes, and manage ongoing web socket connections.
	RestGateway struct {
		config           *RestConfig
		ec               *echo.Echo
		socket           *websocket.SocketHub
		uploadController controller
		runsController   controller
	}
)

// NewRestGateway constructs the Echo router and populates it with all the
// routes defined by the various controllers.
func NewRestGateway(
	config *RestConfig,
	socket *websocket.SocketHub,
	detection detectionService,
	store uploads.Store,
) *RestGateway {
	ec := echo.New()
	ec.OnAddRouteHandler = func(host string, route echo.Route, handler echo.HandlerFunc, middleware []echo.MiddlewareFunc) {
		log.Emit(logger.DEBUG, "Registered new route %s %s\n", route.Method, route.Path)
	}
	ec.HidePort = true
	ec.HideBanner = true

	validate := NewValidator()
	gateway := &RestGateway{
		config:           config,
		ec:               ec,
		socket:           socket,
		uploadController: uploads.New(validate, detection, store),
		runsController:   runs.New(detection),
	}

	ec.Use(middleware.Logger())
	ec.Use(middleware.Recover())
	ec.Pre(middleware.AddTrailingSlashWithConfig(middleware.TrailingSlashConfig{
		Skipper: func(c echo.Context) bool { return !strings.HasPrefix(c.Request().URL.Path, apiRoot) },
	}))

	ec.GET(apiRoot+"/activity/ws/", func(ec echo.Context) error {
		gateway.socket.UpgradeToSocket(ec.Response(), ec.Request())
		return nil
	})

	uploads := ec.Group(apiRoot + "/uploads")
	gateway.uploadController.SetRoutes(uploads)

	runs := ec.Group(apiRoot + "/runs")
	gateway.runsController.SetRoutes(runs)

	if config.StaticDir != "" {
		log.Emit(logger.INFO, "Serving static content from %s\n", config.StaticDir)
		ec.Static("/", config.StaticDir)
	}

	return gateway
}

// NewValidator constructs a validator with the custom
// validations used by the request structs of the API.
func NewValidator() *validator.Validate {
	validate := validator.New()
	if err := validate.RegisterValidation("printable", func(fl validator.FieldLevel) bool {
		return strings.IndexFunc(fl.Field().String(), func(r rune) bool { return !unicode.IsPrint(r) }) == -1
	}); err != nil {
		panic(err)
	}

	return validate
}

func (gateway *RestGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	gateway.ec.ServeHTTP(w, r)
}

func (gateway *RestGateway) Run(parentCtx context.Context) error {
	ctx, ctxCancel := context.WithCancelCause(parentCtx)
	wg := &sync.WaitGroup{}

	// Start echo router
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Emit(logger.NEW, "Listening on %s\n", gateway.config.HostAddr)
		if err := gateway.ec.Start(gateway.config.HostAddr); err != nil && err != http.ErrServerClosed {
			ctxCancel(err)
		}
	}()

	// Start thread to listen for context cancellation
	go func(ec *echo.Echo) {
		<-ctx.Done()
		ec.Close()
	}(gateway.ec)

	// Start websocket
	wg.Add(1)
	go func() {
		defer wg.Done()
		gateway.socket.Start(ctx)
	}()

	wg.Wait()

	// Return cancellation cause if any, otherwise nil as parent context
	// cancellation is not an error case we should report.
	if cause := context.Cause(ctx); cause != ctx.Err() {
		return cause
	}

	return nil
}
