package main

import (
	"errors"
	"io"
	"net/http"

	"github.com/bluesky-social/botdetect/classifier"
	"github.com/bluesky-social/botdetect/detect"

	"github.com/labstack/echo/v4"
)

type GenericError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type GenericStatus struct {
	Daemon  string `json:"daemon"`
	Status  string `json:"status"`
	Message string `json:"msg,omitempty"`
}

// GET /_health
func (srv *Server) HandleHealthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, GenericStatus{Status: "ok", Daemon: "botdetect"})
}

// POST /predict
//
// Body is a single account record or an array of records; the response has the same shape.
func (srv *Server) HandlePredict(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, GenericError{
			Error:   "BadRequest",
			Message: err.Error(),
		})
	}
	if len(body) == 0 {
		return c.JSON(http.StatusBadRequest, GenericError{
			Error:   "BadRequest",
			Message: "request body missing or empty",
		})
	}

	out, err := srv.runner.Run(c.Request().Context(), body)
	if err != nil && errors.Is(err, detect.ErrInput) {
		return c.JSON(http.StatusBadRequest, GenericError{
			Error:   "InvalidInput",
			Message: err.Error(),
		})
	} else if err != nil && errors.Is(err, classifier.ErrInference) {
		srv.logger.Error("batched inference failed", "err", err)
		return c.JSON(http.StatusInternalServerError, GenericError{
			Error:   "InferenceFailed",
			Message: err.Error(),
		})
	} else if err != nil {
		srv.logger.Error("prediction request failed", "err", err)
		return c.JSON(http.StatusInternalServerError, GenericError{
			Error:   "InternalServerError",
			Message: err.Error(),
		})
	}

	// same encoding as the CLI output, so identity strings aren't HTML-escaped
	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	resp.WriteHeader(http.StatusOK)
	return writeJSON(resp, out.Value())
}
