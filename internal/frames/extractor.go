// Package frames pulls single still frames out of stored videos with an external ffmpeg process.
package frames

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // ffmpeg builds without mjpeg may fall back to png
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultTimeout bounds a single extraction when none is configured.
	DefaultTimeout = 60 * time.Second

	maxOutputBytes = 64 * 1024
	jpegQuality    = 90
	outputName     = "frame.jpg"
)

// ExtractionError is returned when ffmpeg fails or produces no usable image.
// ExitCode is -1 when the process was killed by the timeout and 0 when it exited cleanly without output.
type ExtractionError struct {
	Frame    int
	ExitCode int
	Output   string
	Err      error
}

func (e *ExtractionError) Error() string {
	msg := fmt.Sprintf("extract frame %d: exit code %d", e.Frame, e.ExitCode)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Output != "" {
		msg += ": " + e.Output
	}
	return msg
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// ErrTimeout is wrapped by an ExtractionError when the process exceeded its deadline.
var ErrTimeout = errors.New("frame extraction timed out")

// FFmpegExtractor runs ffmpeg once per requested frame.
type FFmpegExtractor struct {
	path    string
	timeout time.Duration
	log     *zap.Logger
}

// NewFFmpegExtractor creates an extractor. An empty path means "ffmpeg" on PATH; timeout 0 disables the deadline.
func NewFFmpegExtractor(path string, timeout time.Duration, log *zap.Logger) *FFmpegExtractor {
	if path == "" {
		path = "ffmpeg"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &FFmpegExtractor{path: path, timeout: timeout, log: log}
}

// ExtractFrame returns frame (zero-based) of the video at videoPath as JPEG bytes.
func (x *FFmpegExtractor) ExtractFrame(ctx context.Context, videoPath string, frame int) ([]byte, error) {
	if frame < 0 {
		return nil, &ExtractionError{Frame: frame, ExitCode: 0, Err: fmt.Errorf("negative frame index")}
	}
	tmp, err := os.MkdirTemp("", "frame-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	if x.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, x.timeout)
		defer cancel()
	}

	out := filepath.Join(tmp, outputName)
	args := []string{
		"-v", "error",
		"-i", videoPath,
		"-vf", "select=eq(n\\," + strconv.Itoa(frame) + ")",
		"-vframes", "1",
		"-q:v", "2",
		"-y", out,
	}
	cmd := exec.CommandContext(ctx, x.path, args...)
	output := &boundedBuffer{max: maxOutputBytes}
	cmd.Stdout = output
	cmd.Stderr = output
	cmd.WaitDelay = time.Second

	start := time.Now()
	runErr := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		x.log.Warn("ffmpeg killed", zap.Int("frame", frame), zap.Duration("elapsed", time.Since(start)), zap.Error(ctxErr))
		err := ctxErr
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", ErrTimeout, ctxErr)
		}
		return nil, &ExtractionError{Frame: frame, ExitCode: -1, Output: output.String(), Err: err}
	}
	if runErr != nil {
		code := -1
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			code = exitErr.ExitCode()
		}
		return nil, &ExtractionError{Frame: frame, ExitCode: code, Output: output.String(), Err: runErr}
	}

	data, err := reencode(out)
	if err != nil {
		return nil, &ExtractionError{Frame: frame, ExitCode: 0, Output: output.String(), Err: err}
	}
	x.log.Debug("frame extracted", zap.String("video", videoPath), zap.Int("frame", frame), zap.Int("bytes", len(data)))
	return data, nil
}

// reencode decodes whatever ffmpeg wrote and returns it as a JPEG.
func reencode(file string) ([]byte, error) {
	f, err := os.Open(file)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New("no frame written")
		}
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// boundedBuffer keeps the first max bytes written to it and drops the rest.
type boundedBuffer struct {
	buf bytes.Buffer
	max int
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	if room := b.max - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *boundedBuffer) String() string { return string(bytes.TrimSpace(b.buf.Bytes())) }
