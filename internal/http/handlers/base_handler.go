// README: Base handler utilities (JSON helpers, fault-to-status mapping).
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"droply/internal/faults"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

// writeFault maps core error kinds onto HTTP statuses so responses stay
// deterministic regardless of which module produced the error.
func writeFault(c *gin.Context, err error) {
	switch {
	case errors.Is(err, faults.ErrValidation):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, faults.ErrAuthorization):
		writeError(c, http.StatusForbidden, err.Error())
	case errors.Is(err, faults.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, faults.ErrStateConflict):
		writeError(c, http.StatusConflict, err.Error())
	case errors.Is(err, faults.ErrExternal):
		writeError(c, http.StatusBadGateway, err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}
