// Package response writes the JSON envelope every Throwlytics endpoint answers with.
//
// Success: {"success": true, "data": <payload>}. Failure: {"success": false, "error": "<message>"}.
// Upload failures carry the user-facing message of the failed step ("File must be a video",
// "Failed to generate thumbnail", ...); a degraded upload is a success whose data has "degraded": true.
package response

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Body is the response envelope.
type Body struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// OK sends 200 with data.
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Body{Success: true, Data: data})
}

// Created sends 201 with data.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Body{Success: true, Data: data})
}

// Fail sends a failure envelope with the given status.
func Fail(c *gin.Context, status int, msg string) {
	c.JSON(status, Body{Error: msg})
}

// BadRequest sends 400; used for every rejected upload.
func BadRequest(c *gin.Context, msg string) { Fail(c, http.StatusBadRequest, msg) }

// Unauthorized sends 401.
func Unauthorized(c *gin.Context, msg string) { Fail(c, http.StatusUnauthorized, msg) }

// NotFound sends 404.
func NotFound(c *gin.Context, msg string) { Fail(c, http.StatusNotFound, msg) }

// Conflict sends 409, e.g. a download URL requested before the media is mirrored.
func Conflict(c *gin.Context, msg string) { Fail(c, http.StatusConflict, msg) }

// TooManyRequests sends 429 with Retry-After in seconds.
func TooManyRequests(c *gin.Context, retryAfter int, msg string) {
	c.Header("Retry-After", strconv.Itoa(retryAfter))
	Fail(c, http.StatusTooManyRequests, msg)
}

// ServiceUnavailable sends 503 for features switched off by configuration.
func ServiceUnavailable(c *gin.Context, msg string) { Fail(c, http.StatusServiceUnavailable, msg) }

// Internal sends 500. msg is shown to clients, so it must not carry error details.
func Internal(c *gin.Context, msg string) { Fail(c, http.StatusInternalServerError, msg) }
