package analysis

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dirResolver string

func (d dirResolver) Resolve(ref string) string { return filepath.Join(string(d), filepath.FromSlash(ref)) }

func writeVideo(t *testing.T, content string) (Resolver, string) {
	t.Helper()
	dir := t.TempDir()
	ref := "videos/owner/clip.mp4"
	path := filepath.Join(dir, filepath.FromSlash(ref))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0640))
	return dirResolver(dir), ref
}

func TestAnalyze_SendsMultipartAndDecodes(t *testing.T) {
	var gotFile, gotName, gotThreshold, gotSkip string
	var hasMinVisible bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/video/process", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		b, _ := io.ReadAll(f)
		gotFile, gotName = string(b), hdr.Filename
		gotThreshold = r.FormValue("distance_threshold")
		gotSkip = r.FormValue("frame_skip")
		_, hasMinVisible = r.MultipartForm.Value["min_visible_frames"]

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"release_frame":42,"release_confirmed":true,"total_frames":120,
			"video_width":1920,"video_height":1080,"fps":30,"release_angle_deg":38.5,"message":"Release detected"}`)
	}))
	defer srv.Close()

	resolver, ref := writeVideo(t, "video-bytes")
	c := NewClient(srv.URL+"/", resolver, Options{DistanceThreshold: 50, FrameSkip: 2}, 5*time.Second, nil)

	res, err := c.Analyze(context.Background(), ref)
	require.NoError(t, err)

	assert.Equal(t, "video-bytes", gotFile)
	assert.Equal(t, "clip.mp4", gotName)
	assert.Equal(t, "50", gotThreshold)
	assert.Equal(t, "2", gotSkip)
	assert.False(t, hasMinVisible)

	require.NotNil(t, res.ReleaseFrame)
	assert.Equal(t, 42, *res.ReleaseFrame)
	assert.True(t, *res.ReleaseConfirmed)
	assert.Equal(t, 30, *res.FPS)
	assert.InDelta(t, 38.5, *res.ReleaseAngleDeg, 1e-9)
	assert.Nil(t, res.ElbowAngleDeg)
	assert.Equal(t, "Release detected", res.Message)
}

func TestAnalyze_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		http.Error(w, "model crashed", http.StatusInternalServerError)
	}))
	defer srv.Close()

	resolver, ref := writeVideo(t, "x")
	c := NewClient(srv.URL, resolver, Options{}, 5*time.Second, nil)

	_, err := c.Analyze(context.Background(), ref)
	require.Error(t, err)

	var svcErr *ServiceError
	require.True(t, errors.As(err, &svcErr))
	assert.Equal(t, http.StatusInternalServerError, svcErr.StatusCode)
	assert.Contains(t, svcErr.Body, "model crashed")
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestAnalyze_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	resolver, ref := writeVideo(t, "x")
	c := NewClient(url, resolver, Options{}, 5*time.Second, nil)

	_, err := c.Analyze(context.Background(), ref)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestAnalyze_Timeout(t *testing.T) {
	done := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()
	defer close(done)

	resolver, ref := writeVideo(t, "x")
	c := NewClient(srv.URL, resolver, Options{}, 100*time.Millisecond, nil)

	_, err := c.Analyze(context.Background(), ref)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestAnalyze_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		_, _ = io.WriteString(w, "<html>")
	}))
	defer srv.Close()

	resolver, ref := writeVideo(t, "x")
	c := NewClient(srv.URL, resolver, Options{}, 5*time.Second, nil)

	_, err := c.Analyze(context.Background(), ref)
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestAnalyze_MissingFile(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", dirResolver(t.TempDir()), Options{}, time.Second, nil)

	_, err := c.Analyze(context.Background(), "videos/owner/missing.mp4")
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			_, _ = io.WriteString(w, `{"status":"ok"}`)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	c := NewClient(srv.URL, dirResolver(""), Options{}, time.Second, nil)
	assert.True(t, c.Health(context.Background()))

	srv.Close()
	assert.False(t, c.Health(context.Background()))
}

func TestHealth_HungAnalyzerReportsDown(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(srv.URL, dirResolver(""), Options{}, 10*time.Minute, nil)
	c.healthTimeout = 100 * time.Millisecond

	start := time.Now()
	assert.False(t, c.Health(context.Background()))
	assert.Less(t, time.Since(start), 5*time.Second)
}
