package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bluesky-social/botdetect/detect"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	slogecho "github.com/samber/slog-echo"
	"github.com/urfave/cli/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var serveFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "bind",
		Usage:   "Specify the local IP/port to bind to",
		Value:   ":4100",
		EnvVars: []string{"BOTDETECT_BIND"},
	},
	&cli.StringFlag{
		Name:    "max-body",
		Usage:   "maximum size of request bodies (eg: 16M)",
		Value:   "16M",
		EnvVars: []string{"BOTDETECT_MAX_BODY"},
	},
}

type Server struct {
	echo   *echo.Echo
	httpd  *http.Server
	runner *detect.Runner
	logger *slog.Logger
}

type ServerConfig struct {
	Bind    string
	MaxBody string
	Logger  *slog.Logger
	// HTTP metrics are registered here; nil uses the prometheus default registry
	Registerer prometheus.Registerer
	// served on /metrics; nil uses the prometheus default registry
	Gatherer prometheus.Gatherer
}

func NewServer(runner *detect.Runner, config ServerConfig) *Server {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxBody := config.MaxBody
	if maxBody == "" {
		maxBody = "16M"
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:   e,
		runner: runner,
		logger: logger,
	}
	srv.httpd = &http.Server{
		Handler:        otelhttp.NewHandler(srv, "botdetect"),
		Addr:           config.Bind,
		WriteTimeout:   1 * time.Minute,
		ReadTimeout:    1 * time.Minute,
		MaxHeaderBytes: 1 * (1024 * 1024),
	}

	e.Use(slogecho.New(logger))
	e.Use(middleware.Recover())
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Subsystem:  "botdetect",
		Registerer: config.Registerer,
	}))
	e.Use(middleware.BodyLimit(maxBody))

	e.GET("/_health", srv.HandleHealthCheck)
	e.GET("/metrics", echoprometheus.NewHandlerWithConfig(echoprometheus.HandlerConfig{
		Gatherer: config.Gatherer,
	}))
	e.POST("/predict", srv.HandlePredict)

	return srv
}

func (srv *Server) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	srv.echo.ServeHTTP(rw, req)
}

func (srv *Server) Shutdown() error {
	srv.logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.httpd.Shutdown(ctx)
}

// Listens until ctx is cancelled, then shuts down gracefully.
func (srv *Server) Run(ctx context.Context) error {
	srv.logger.Info("starting server", "bind", srv.httpd.Addr)

	listenErr := make(chan error, 1)
	go func() {
		if err := srv.httpd.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErr <- err
		}
		close(listenErr)
	}()

	select {
	case err := <-listenErr:
		if err != nil {
			return fmt.Errorf("HTTP server shutting down unexpectedly: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	if err := srv.Shutdown(); err != nil {
		return fmt.Errorf("HTTP server shutdown error: %w", err)
	}
	srv.logger.Info("graceful shutdown complete")
	return nil
}

func runServe(cctx *cli.Context) error {
	logger := configJSONLogger(cctx, os.Stdout)
	shutdownOTEL := configOTEL(cctx.Context, "botdetect")
	defer shutdownOTEL()

	gw, err := loadGateway(cctx, logger)
	if err != nil {
		return err
	}
	defer gw.Close()

	srv := NewServer(newRunner(cctx, gw, logger), ServerConfig{
		Bind:    cctx.String("bind"),
		MaxBody: cctx.String("max-body"),
		Logger:  logger,
	})

	ctx, stop := signal.NotifyContext(cctx.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return srv.Run(ctx)
}
