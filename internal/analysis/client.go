// Package analysis talks to the external motion-analysis service.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrUnavailable is matched by every failure to get a usable response from the analyzer.
var ErrUnavailable = errors.New("analysis service unavailable")

// ServiceError is returned when the analyzer answered with a non-2xx status.
type ServiceError struct {
	StatusCode int
	Body       string
}

func (e *ServiceError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("analysis service returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("analysis service returned status %d: %s", e.StatusCode, e.Body)
}

// Is makes a ServiceError match ErrUnavailable.
func (e *ServiceError) Is(target error) bool { return target == ErrUnavailable }

// Result is the analyzer's response, decoded verbatim. Any field may be absent.
type Result struct {
	ReleaseFrame             *int     `json:"release_frame"`
	ReleaseConfirmed         *bool    `json:"release_confirmed"`
	TotalFrames              *int     `json:"total_frames"`
	VideoWidth               *int     `json:"video_width"`
	VideoHeight              *int     `json:"video_height"`
	FPS                      *int     `json:"fps"`
	ReleaseAngleDeg          *float64 `json:"release_angle_deg"`
	ReleaseLateralOffsetNorm *float64 `json:"release_lateral_offset_norm"`
	ElbowAngleDeg            *float64 `json:"elbow_angle_deg"`
	ShoulderAngleDeg         *float64 `json:"shoulder_angle_deg"`
	WristAngleDeg            *float64 `json:"wrist_angle_deg"`
	Message                  string   `json:"message"`
}

// Resolver maps a stored ref to a local path.
type Resolver interface {
	Resolve(ref string) string
}

// Options are the optional tunables forwarded with every request. Zero values are omitted.
type Options struct {
	DistanceThreshold int
	MinVisibleFrames  int
	FrameSkip         int
}

// DefaultHealthTimeout bounds one health probe regardless of the analysis timeout.
const DefaultHealthTimeout = 5 * time.Second

// Client calls the analyzer over HTTP.
type Client struct {
	baseURL       string
	resolver      Resolver
	opts          Options
	httpClient    *http.Client
	healthTimeout time.Duration
	log           *zap.Logger
}

// NewClient creates an analyzer client. timeout 0 means the request is bounded only by ctx.
func NewClient(baseURL string, resolver Resolver, opts Options, timeout time.Duration, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		resolver:      resolver,
		opts:          opts,
		httpClient:    &http.Client{Timeout: timeout},
		healthTimeout: DefaultHealthTimeout,
		log:           log,
	}
}

// Analyze uploads the stored video to the analyzer and returns its result.
func (c *Client) Analyze(ctx context.Context, ref string) (*Result, error) {
	path := c.resolver.Resolve(ref)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open video %s: %w", ref, err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(c.writeForm(writer, f, filepath.Base(path)))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/video/process", pr)
	if err != nil {
		pr.Close()
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		pr.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	c.log.Info("analysis response", zap.String("ref", ref), zap.Int("status", resp.StatusCode), zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &ServiceError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	return &result, nil
}

func (c *Client) writeForm(w *multipart.Writer, src io.Reader, filename string) error {
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, src); err != nil {
		return fmt.Errorf("write video data: %w", err)
	}
	fields := []struct {
		name  string
		value int
	}{
		{"distance_threshold", c.opts.DistanceThreshold},
		{"min_visible_frames", c.opts.MinVisibleFrames},
		{"frame_skip", c.opts.FrameSkip},
	}
	for _, f := range fields {
		if f.value == 0 {
			continue
		}
		if err := w.WriteField(f.name, strconv.Itoa(f.value)); err != nil {
			return fmt.Errorf("write %s field: %w", f.name, err)
		}
	}
	return w.Close()
}

// Health reports whether the analyzer answers its health endpoint with 200 within the health timeout.
func (c *Client) Health(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Debug("analysis health check failed", zap.Error(err))
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}
