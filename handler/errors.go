package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AnTengye/escrowdash/model"
	"github.com/AnTengye/escrowdash/pkg/logger"
	"github.com/AnTengye/escrowdash/service"
)

// statusFor maps a domain error to its HTTP status.
func statusFor(err error) int {
	var (
		estErr  *model.EstimationError
		subErr  *model.SubmissionError
		toErr   *model.TimeoutError
		connErr *model.ConnectionError
		authErr *model.AuthorizationError
		qErr    *model.QueryError
	)
	switch {
	case errors.Is(err, model.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrWrongSecret):
		return http.StatusBadRequest
	case errors.As(err, &estErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &toErr):
		return http.StatusGatewayTimeout
	case errors.As(err, &subErr), errors.As(err, &connErr), errors.As(err, &qErr):
		return http.StatusBadGateway
	case errors.As(err, &authErr):
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error(c.Request.Context(), "request failed", "error", err)
	}
	_ = c.Error(err)

	body := gin.H{"error": err.Error()}
	var subErr *model.SubmissionError
	if errors.As(err, &subErr) && subErr.OpHash != "" {
		body["op_hash"] = subErr.OpHash
	}
	var toErr *model.TimeoutError
	if errors.As(err, &toErr) {
		body["op_hash"] = toErr.OpHash
	}
	c.JSON(status, body)
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}
