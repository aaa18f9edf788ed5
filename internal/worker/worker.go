package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/throwlytics/backend/internal/throws"
	"github.com/throwlytics/backend/pkg/queue"
	"github.com/throwlytics/backend/pkg/storage"
)

// dequeueTimeout bounds one blocking pop so the loop notices cancellation.
const dequeueTimeout = 5 * time.Second

// MediaSource opens locally stored media by ref.
type MediaSource interface {
	Open(ref string) (*os.File, int64, error)
}

// ObjectStore receives mirrored objects.
type ObjectStore interface {
	Upload(ctx context.Context, key, contentType string, body io.Reader, contentLength int64) (string, error)
	Exists(ctx context.Context, key string) bool
}

// ThrowMarker records that a throw's media has been mirrored.
type ThrowMarker interface {
	MarkMirrored(ctx context.Context, id uuid.UUID, at time.Time) error
}

// JobQueue is the consuming side of the job queue.
type JobQueue interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// Metrics counts processed jobs.
type Metrics interface {
	MirrorJob(result string)
}

// MirrorProcessor copies stored throw media to object storage and stamps the throw.
type MirrorProcessor struct {
	media   MediaSource
	objects ObjectStore
	throws  ThrowMarker
	queue   JobQueue
	metrics Metrics
	backoff time.Duration
	poll    time.Duration
	now     func() time.Time
	logger  *zap.Logger
}

// NewMirrorProcessor creates a media mirror processor. metrics may be nil.
func NewMirrorProcessor(media MediaSource, objects ObjectStore, marker ThrowMarker, q JobQueue, metrics Metrics, logger *zap.Logger) *MirrorProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MirrorProcessor{
		media:   media,
		objects: objects,
		throws:  marker,
		queue:   q,
		metrics: metrics,
		backoff: queue.RetryBackoff,
		poll:    dequeueTimeout,
		now:     time.Now,
		logger:  logger,
	}
}

// Process executes one media mirror job. Objects already present are not uploaded again.
func (p *MirrorProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeMediaMirror {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.MediaMirrorPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	for _, ref := range []string{payload.VideoRef, payload.ThumbnailRef} {
		if ref == "" {
			continue
		}
		if err := p.mirror(ctx, ref); err != nil {
			return err
		}
	}

	err := p.throws.MarkMirrored(ctx, payload.ThrowID, p.now().UTC())
	if errors.Is(err, throws.ErrNotFound) {
		p.logger.Warn("mirrored media for unknown throw", zap.String("throw_id", payload.ThrowID.String()))
		return nil
	}
	if err != nil {
		return fmt.Errorf("mark mirrored: %w", err)
	}

	p.logger.Info("throw media mirrored", zap.String("throw_id", payload.ThrowID.String()))
	return nil
}

func (p *MirrorProcessor) mirror(ctx context.Context, ref string) error {
	key := storage.MediaKey(ref)
	if p.objects.Exists(ctx, key) {
		p.logger.Debug("object already mirrored", zap.String("key", key))
		return nil
	}
	f, size, err := p.media.Open(ref)
	if err != nil {
		return fmt.Errorf("open %s: %w", ref, err)
	}
	defer f.Close()

	if _, err := p.objects.Upload(ctx, key, storage.ContentTypeForRef(ref), f, size); err != nil {
		return fmt.Errorf("s3 upload %s: %w", key, err)
	}
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *MirrorProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("mirror worker stopping")
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx, p.poll)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.record("error")
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.sleep(ctx)
			continue
		}
		p.record("ok")
	}
}

func (p *MirrorProcessor) record(result string) {
	if p.metrics != nil {
		p.metrics.MirrorJob(result)
	}
}

func (p *MirrorProcessor) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
