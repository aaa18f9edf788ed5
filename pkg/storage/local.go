package storage

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// FolderVideos is the root-relative prefix for stored videos.
	FolderVideos = "videos"
	// FolderThumbnails is the root-relative prefix for stored thumbnails.
	FolderThumbnails = "thumbnails"
	// DefaultVideoExtension is used when the upload has no filename extension.
	DefaultVideoExtension = ".mp4"

	copyBufferSize = 64 * 1024
)

// ErrStorage is matched by every failure to persist media.
var ErrStorage = errors.New("storage failure")

// Local stores uploaded media on the local filesystem under {root}/videos/{owner} and {root}/thumbnails/{owner}.
// Returned refs are root-relative, slash-separated paths.
type Local struct {
	root      string
	freeSpace func(dir string) (uint64, error)
	logger    *zap.Logger
}

// NewLocal creates a local media store rooted at root.
func NewLocal(root string, logger *zap.Logger) *Local {
	if logger == nil {
		logger = zap.NewNop()
	}
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	return &Local{root: root, freeSpace: availableBytes, logger: logger}
}

// Root returns the storage root.
func (s *Local) Root() string { return s.root }

// Initialize creates the videos and thumbnails roots. Safe to call repeatedly.
func (s *Local) Initialize() error {
	for _, dir := range []string{FolderVideos, FolderThumbnails} {
		if err := os.MkdirAll(filepath.Join(s.root, dir), 0750); err != nil {
			return fmt.Errorf("create %s directory: %w", dir, err)
		}
	}
	return nil
}

// Resolve maps a root-relative ref to its absolute location. It does no I/O.
func (s *Local) Resolve(ref string) string {
	return filepath.Join(s.root, filepath.FromSlash(ref))
}

// StoreVideo copies src into a new file under the owner's video directory and returns its ref.
// declaredSize is the client-reported size; a zero-byte result always fails and is removed.
func (s *Local) StoreVideo(src io.Reader, filename string, declaredSize int64, ownerID string) (ref string, err error) {
	if src == nil {
		return "", fmt.Errorf("%w: upload stream is missing", ErrStorage)
	}

	dir := filepath.Join(s.root, FolderVideos, ownerID)
	if err := ensureWritableDir(dir); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStorage, err)
	}

	name := uuid.New().String() + videoExtension(filename)
	target := filepath.Join(dir, name)

	// The upload handle may already be consumed or its transport closed; probe before creating the target.
	r := bufio.NewReaderSize(src, copyBufferSize)
	if _, err := r.Peek(1); err != nil {
		if errors.Is(err, io.EOF) {
			return "", fmt.Errorf("%w: upload stream has no data left to read", ErrStorage)
		}
		return "", fmt.Errorf("%w: upload stream is not readable: %v", ErrStorage, err)
	}

	if free, err := s.freeSpace(dir); err == nil && declaredSize > 0 && uint64(declaredSize) > free {
		return "", fmt.Errorf("%w: insufficient disk space: required %d bytes, available %d bytes", ErrStorage, declaredSize, free)
	} else if err != nil {
		s.logger.Warn("free space check unavailable", zap.String("dir", dir), zap.Error(err))
	}

	f, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0640)
	if err != nil {
		return "", fmt.Errorf("%w: create %s: %v", ErrStorage, target, err)
	}
	defer func() {
		if err != nil {
			if rmErr := os.Remove(target); rmErr != nil && !os.IsNotExist(rmErr) {
				s.logger.Debug("remove partial video failed", zap.String("path", target), zap.Error(rmErr))
			}
		}
	}()

	written, copyErr := copyChunked(f, r)
	if copyErr == nil {
		copyErr = f.Sync()
	}
	if closeErr := f.Close(); copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		return "", fmt.Errorf("%w: copy after %d of %d bytes: %v", ErrStorage, written, declaredSize, copyErr)
	}

	info, err := os.Stat(target)
	if err != nil {
		return "", fmt.Errorf("%w: stat %s: %v", ErrStorage, target, err)
	}
	if info.Size() == 0 {
		err = fmt.Errorf("%w: file was written but is empty (expected %d bytes)", ErrStorage, declaredSize)
		return "", err
	}
	if written != declaredSize || info.Size() != declaredSize {
		s.logger.Warn("stored video size differs from declared size",
			zap.String("path", target),
			zap.Int64("declared", declaredSize),
			zap.Int64("copied", written),
			zap.Int64("on_disk", info.Size()),
		)
	}

	ref = path.Join(FolderVideos, ownerID, name)
	s.logger.Info("video stored", zap.String("ref", ref), zap.Int64("bytes", written))
	return ref, nil
}

// StoreThumbnail writes an in-memory JPEG under the owner's thumbnail directory and returns its ref.
func (s *Local) StoreThumbnail(data []byte, ownerID string) (string, error) {
	dir := filepath.Join(s.root, FolderThumbnails, ownerID)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("%w: create thumbnail directory: %v", ErrStorage, err)
	}
	name := uuid.New().String() + ".jpg"
	if err := os.WriteFile(filepath.Join(dir, name), data, 0640); err != nil {
		return "", fmt.Errorf("%w: write thumbnail: %v", ErrStorage, err)
	}
	return path.Join(FolderThumbnails, ownerID, name), nil
}

// Delete removes a stored file. A missing file is not an error.
func (s *Local) Delete(ref string) error {
	if err := os.Remove(s.Resolve(ref)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete %s: %w", ref, err)
	}
	return nil
}

// Open returns a reader for a stored file along with its size. Caller must close the reader.
func (s *Local) Open(ref string) (*os.File, int64, error) {
	f, err := os.Open(s.Resolve(ref))
	if err != nil {
		return nil, 0, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, info.Size(), nil
}

func copyChunked(dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, copyBufferSize)
	var total int64
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			wn, werr := dst.Write(buf[:n])
			total += int64(wn)
			if werr != nil {
				return total, werr
			}
			if wn != n {
				return total, io.ErrShortWrite
			}
		}
		if rerr == io.EOF {
			return total, nil
		}
		if rerr != nil {
			return total, rerr
		}
	}
}

func ensureWritableDir(dir string) error {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("create video directory %s: %w", dir, err)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("video directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("video path %s is not a directory", dir)
	}
	return nil
}

func videoExtension(filename string) string {
	ext := strings.ToLower(path.Ext(filepath.Base(filename)))
	if ext == "" || ext == "." {
		return DefaultVideoExtension
	}
	return ext
}
