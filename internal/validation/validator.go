// Package validation rejects malformed, oversized or unsupported video uploads before any I/O happens.
package validation

import (
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
)

// DefaultMaxFileSize is used when the configured size string cannot be parsed.
const DefaultMaxFileSize int64 = 500 * 1024 * 1024

// ErrInvalidInput is matched by every validation failure.
var ErrInvalidInput = errors.New("invalid video file")

// Allowed video MIME types and extensions. Only the declared MIME type is trusted; content is never sniffed.
var (
	AllowedVideoTypes = []string{
		"video/mp4",
		"video/quicktime",  // MOV
		"video/x-msvideo",  // AVI
		"video/x-matroska", // MKV
		"video/webm",
	}
	AllowedVideoExtensions = []string{".mp4", ".mov", ".avi", ".mkv", ".webm"}
)

// Candidate is a single upload as received from the client. It lives only for the duration of one request.
type Candidate struct {
	Body        io.Reader
	ContentType string
	Filename    string
	Size        int64 // declared by the client
}

// Error carries the reason of the first failed check.
type Error struct {
	Reason string
}

func (e *Error) Error() string { return e.Reason }

// Unwrap lets callers match any validation failure with errors.Is(err, ErrInvalidInput).
func (e *Error) Unwrap() error { return ErrInvalidInput }

func invalid(format string, args ...interface{}) error {
	return &Error{Reason: fmt.Sprintf(format, args...)}
}

// Validator checks upload candidates against the size limit and the type allow-lists.
type Validator struct {
	maxSize    int64
	maxSizeRaw string
}

// NewValidator creates a validator from a size string such as "500MB".
func NewValidator(maxFileSize string) *Validator {
	return &Validator{maxSize: ParseSize(maxFileSize), maxSizeRaw: maxFileSize}
}

// MaxSize returns the effective limit in bytes.
func (v *Validator) MaxSize() int64 { return v.maxSize }

// Validate runs the checks in order and stops at the first failure.
func (v *Validator) Validate(c Candidate) error {
	if c.Body == nil {
		return invalid("File is required")
	}
	if c.Size <= 0 {
		return invalid("File is empty")
	}
	if c.Size > v.maxSize {
		limit := v.maxSizeRaw
		if limit == "" {
			limit = strconv.FormatInt(v.maxSize, 10) + " bytes"
		}
		return invalid("File size exceeds maximum allowed size of %s", limit)
	}

	contentType := normalizeContentType(c.ContentType)
	if contentType == "" || !strings.HasPrefix(contentType, "video/") {
		return invalid("File must be a video")
	}
	if !contains(AllowedVideoTypes, contentType) {
		return invalid("Video type '%s' is not supported. Allowed types: %s",
			contentType, strings.Join(AllowedVideoTypes, ", "))
	}

	if c.Filename != "" {
		if ext := strings.ToLower(path.Ext(c.Filename)); ext != "" && !contains(AllowedVideoExtensions, ext) {
			return invalid("File extension '%s' is not supported. Allowed extensions: %s",
				ext, strings.Join(AllowedVideoExtensions, ", "))
		}
	}
	return nil
}

// ParseSize converts strings like "500MB", "10 kb" or "2GB" to bytes. Plain numbers are bytes.
// Unparsable or empty input yields DefaultMaxFileSize.
func ParseSize(size string) int64 {
	s := strings.ToUpper(strings.TrimSpace(size))
	if s == "" {
		return DefaultMaxFileSize
	}

	var multiplier int64 = 1
	switch {
	case strings.HasSuffix(s, "KB"):
		multiplier = 1024
	case strings.HasSuffix(s, "MB"):
		multiplier = 1024 * 1024
	case strings.HasSuffix(s, "GB"):
		multiplier = 1024 * 1024 * 1024
	}
	if multiplier > 1 {
		s = s[:len(s)-2]
	}

	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n < 0 {
		return DefaultMaxFileSize
	}
	return n * multiplier
}

func normalizeContentType(ct string) string {
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
