// Package ingest runs an upload through validation, storage, analysis, thumbnailing and persistence.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/throwlytics/backend/internal/analysis"
	"github.com/throwlytics/backend/internal/models"
	"github.com/throwlytics/backend/internal/validation"
	"github.com/throwlytics/backend/pkg/queue"
)

// MessageProcessed is returned when the analyzer succeeded without a message of its own.
const MessageProcessed = "Video processed successfully"

const degradedPrefix = "Video uploaded successfully, but processing failed. "

// Store persists uploaded media.
type Store interface {
	StoreVideo(src io.Reader, filename string, declaredSize int64, ownerID string) (string, error)
	StoreThumbnail(data []byte, ownerID string) (string, error)
	Resolve(ref string) string
	Delete(ref string) error
}

// Analyzer runs motion analysis on a stored video.
type Analyzer interface {
	Analyze(ctx context.Context, ref string) (*analysis.Result, error)
}

// FrameExtractor returns one frame of a video as JPEG bytes.
type FrameExtractor interface {
	ExtractFrame(ctx context.Context, videoPath string, frame int) ([]byte, error)
}

// Repository persists throw records.
type Repository interface {
	Create(ctx context.Context, t *models.Throw) error
}

// Notifier is told about every persisted throw.
type Notifier interface {
	NotifyThrowCreated(ctx context.Context, t *models.Throw) error
}

// MirrorQueue schedules copying a throw's media elsewhere.
type MirrorQueue interface {
	EnqueueMediaMirror(ctx context.Context, payload queue.MediaMirrorPayload) error
}

// Metrics receives pipeline observations.
type Metrics interface {
	IngestionOutcome(outcome string)
	ThumbnailFallback()
	AnalyzerCall(outcome string, elapsed time.Duration)
}

// Result is the outcome of a successful ingestion, degraded or not.
type Result struct {
	Throw             *models.Throw
	Message           string
	Degraded          bool
	DegradedReason    string
	ThumbnailFrame    int
	UsedFallbackFrame bool
}

// analysisOutcome is either completed (result set) or degraded (reason set).
type analysisOutcome struct {
	result *analysis.Result
	reason string
}

func completed(r *analysis.Result) analysisOutcome { return analysisOutcome{result: r} }
func degraded(reason string) analysisOutcome       { return analysisOutcome{reason: reason} }

func (o analysisOutcome) ok() bool { return o.result != nil }

// Service is the ingestion orchestrator.
type Service struct {
	validator      *validation.Validator
	store          Store
	analyzer       Analyzer
	extractor      FrameExtractor
	repo           Repository
	cleanupOrphans bool
	notifier       Notifier
	mirror         MirrorQueue
	metrics        Metrics
	now            func() time.Time
	log            *zap.Logger
}

// NewService creates the orchestrator. With cleanupOrphans set, media stored for an upload that
// fails later is deleted before the error is returned.
func NewService(v *validation.Validator, store Store, analyzer Analyzer, extractor FrameExtractor, repo Repository, cleanupOrphans bool, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		validator:      v,
		store:          store,
		analyzer:       analyzer,
		extractor:      extractor,
		repo:           repo,
		cleanupOrphans: cleanupOrphans,
		metrics:        nopMetrics{},
		now:            time.Now,
		log:            log,
	}
}

// SetNotifier sets the post-commit notifier.
func (s *Service) SetNotifier(n Notifier) { s.notifier = n }

// SetMirrorQueue sets the queue receiving media mirror jobs after commit.
func (s *Service) SetMirrorQueue(q MirrorQueue) { s.mirror = q }

// SetMetrics sets the metrics sink.
func (s *Service) SetMetrics(m Metrics) {
	if m != nil {
		s.metrics = m
	}
}

// Ingest runs one upload to a terminal state. Analysis failures degrade the result; every other
// failure is returned as *Error and leaves no record.
func (s *Service) Ingest(ctx context.Context, c validation.Candidate, ownerID uuid.UUID) (*Result, error) {
	res, err := s.ingest(ctx, c, ownerID)
	if err != nil {
		var ie *Error
		if errors.As(err, &ie) {
			s.metrics.IngestionOutcome("failed_" + ie.Kind.String())
		}
		return nil, err
	}
	if res.Degraded {
		s.metrics.IngestionOutcome("degraded")
	} else {
		s.metrics.IngestionOutcome("processed")
	}
	return res, nil
}

func (s *Service) ingest(ctx context.Context, c validation.Candidate, ownerID uuid.UUID) (*Result, error) {
	if err := s.validator.Validate(c); err != nil {
		return nil, fail(KindInvalidInput, err)
	}

	owner := ownerID.String()
	videoRef, err := s.store.StoreVideo(c.Body, c.Filename, c.Size, owner)
	if err != nil {
		return nil, fail(KindStorage, err)
	}

	outcome := s.analyze(ctx, videoRef)

	frame := 0
	if outcome.ok() && outcome.result.ReleaseFrame != nil && *outcome.result.ReleaseFrame >= 0 {
		frame = *outcome.result.ReleaseFrame
	}
	thumb, usedFrame, err := s.thumbnail(ctx, videoRef, frame)
	if err != nil {
		s.discard(videoRef)
		return nil, fail(KindThumbnail, err)
	}

	thumbRef, err := s.store.StoreThumbnail(thumb, owner)
	if err != nil {
		s.discard(videoRef)
		return nil, fail(KindStorage, err)
	}

	throw := &models.Throw{
		ID:           uuid.New(),
		OwnerID:      ownerID,
		VideoURL:     videoRef,
		ThumbnailURL: thumbRef,
		UploadedAt:   s.now().UTC(),
	}
	if outcome.ok() {
		applyAnalysis(throw, outcome.result)
	}
	if err := s.repo.Create(ctx, throw); err != nil {
		s.discard(videoRef, thumbRef)
		return nil, fail(KindPersistence, fmt.Errorf("save throw: %w", err))
	}

	s.afterCommit(ctx, throw)

	res := &Result{
		Throw:             throw,
		ThumbnailFrame:    usedFrame,
		UsedFallbackFrame: usedFrame != frame,
	}
	if outcome.ok() {
		res.Message = MessageProcessed
		if outcome.result.Message != "" {
			res.Message = outcome.result.Message
		}
	} else {
		res.Degraded = true
		res.DegradedReason = outcome.reason
		res.Message = degradedPrefix + outcome.reason
	}
	s.log.Info("throw ingested",
		zap.String("throw_id", throw.ID.String()),
		zap.String("owner_id", owner),
		zap.Bool("degraded", res.Degraded),
		zap.Int("thumbnail_frame", usedFrame),
	)
	return res, nil
}

func (s *Service) analyze(ctx context.Context, ref string) analysisOutcome {
	start := time.Now()
	r, err := s.analyzer.Analyze(ctx, ref)
	elapsed := time.Since(start)
	switch {
	case err == nil && r != nil:
		s.metrics.AnalyzerCall("ok", elapsed)
		return completed(r)
	case err == nil:
		s.metrics.AnalyzerCall("error", elapsed)
		return degraded("Error processing video: empty response")
	case errors.Is(err, analysis.ErrUnavailable):
		s.metrics.AnalyzerCall("unavailable", elapsed)
		s.log.Warn("analysis service unavailable", zap.String("ref", ref), zap.Error(err))
		return degraded("Video processing service unavailable: " + err.Error())
	default:
		s.metrics.AnalyzerCall("error", elapsed)
		s.log.Warn("analysis failed", zap.String("ref", ref), zap.Error(err))
		return degraded("Error processing video: " + err.Error())
	}
}

// thumbnail extracts frame, retrying once at frame 0 if that fails. It returns the frame actually used.
func (s *Service) thumbnail(ctx context.Context, videoRef string, frame int) ([]byte, int, error) {
	path := s.store.Resolve(videoRef)
	data, err := s.extractor.ExtractFrame(ctx, path, frame)
	if err == nil {
		return data, frame, nil
	}
	if frame == 0 {
		return nil, 0, fmt.Errorf("generate thumbnail: %w", err)
	}
	s.log.Warn("thumbnail extraction failed, retrying at first frame", zap.Int("frame", frame), zap.Error(err))
	s.metrics.ThumbnailFallback()
	data, fallbackErr := s.extractor.ExtractFrame(ctx, path, 0)
	if fallbackErr != nil {
		return nil, 0, fmt.Errorf("generate thumbnail at frame %d and at first frame: %w", frame, errors.Join(err, fallbackErr))
	}
	return data, 0, nil
}

// discard removes orphaned media when the cleanup policy is active.
func (s *Service) discard(refs ...string) {
	if !s.cleanupOrphans {
		for _, ref := range refs {
			s.log.Info("retaining orphaned media", zap.String("ref", ref))
		}
		return
	}
	for _, ref := range refs {
		if err := s.store.Delete(ref); err != nil {
			s.log.Warn("orphan cleanup failed", zap.String("ref", ref), zap.Error(err))
		}
	}
}

func (s *Service) afterCommit(ctx context.Context, t *models.Throw) {
	if s.notifier != nil {
		if err := s.notifier.NotifyThrowCreated(ctx, t); err != nil {
			s.log.Warn("throw notification failed", zap.String("throw_id", t.ID.String()), zap.Error(err))
		}
	}
	if s.mirror != nil {
		err := s.mirror.EnqueueMediaMirror(ctx, queue.MediaMirrorPayload{
			ThrowID:      t.ID,
			OwnerID:      t.OwnerID,
			VideoRef:     t.VideoURL,
			ThumbnailRef: t.ThumbnailURL,
		})
		if err != nil {
			s.log.Warn("enqueue media mirror failed", zap.String("throw_id", t.ID.String()), zap.Error(err))
		}
	}
}

func applyAnalysis(t *models.Throw, r *analysis.Result) {
	t.ReleaseFrame = r.ReleaseFrame
	t.ReleaseConfirmed = r.ReleaseConfirmed
	t.TotalFrames = r.TotalFrames
	t.VideoWidth = r.VideoWidth
	t.VideoHeight = r.VideoHeight
	t.FPS = r.FPS
	t.ReleaseAngleDeg = r.ReleaseAngleDeg
	t.ReleaseLateralOffsetNorm = r.ReleaseLateralOffsetNorm
	t.ElbowAngleDeg = r.ElbowAngleDeg
	t.ShoulderAngleDeg = r.ShoulderAngleDeg
	t.WristAngleDeg = r.WristAngleDeg
}

type nopMetrics struct{}

func (nopMetrics) IngestionOutcome(string)            {}
func (nopMetrics) ThumbnailFallback()                 {}
func (nopMetrics) AnalyzerCall(string, time.Duration) {}
