// Package utils holds helpers shared by the API handlers.
package utils

import (
	"errors"
	"net/http"

	errs "github.com/LambdaTest/janitor/pkg/errors"
	"github.com/LambdaTest/janitor/pkg/lumber"
	"github.com/gin-gonic/gin"
)

// ErrResponse writes the api error response for err returned by the lifecycle service.
func ErrResponse(c *gin.Context, err error, logger lumber.Logger) {
	switch {
	case errors.Is(err, errs.ErrNotFound):
		c.JSON(http.StatusNotFound, errs.ErrNotFound)
	case errors.Is(err, errs.ErrInvalidTransition),
		errors.Is(err, errs.ErrConflict),
		errors.Is(err, errs.ErrUnknownResourceKind):
		c.JSON(http.StatusBadRequest, err)
	default:
		logger.Errorf("request %s %s failed, error: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(http.StatusInternalServerError, errs.GenericErrorMessage)
	}
}
