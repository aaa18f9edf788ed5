package throws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/throwlytics/backend/internal/ingest"
	"github.com/throwlytics/backend/internal/middleware"
	"github.com/throwlytics/backend/internal/models"
	"github.com/throwlytics/backend/internal/validation"
	"github.com/throwlytics/backend/pkg/response"
	"github.com/throwlytics/backend/pkg/storage"
)

// multipartOverhead is allowed on top of the file size limit for boundaries and headers.
const multipartOverhead = 1 << 20

// Ingester runs the upload pipeline.
type Ingester interface {
	Ingest(ctx context.Context, c validation.Candidate, ownerID uuid.UUID) (*ingest.Result, error)
}

// Store is the read side of the throw repository.
type Store interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Throw, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.Throw, error)
}

// Presigner issues download URLs for mirrored media.
type Presigner interface {
	GeneratePresignedDownloadURL(ctx context.Context, key string, expires time.Duration) (string, error)
	PresignExpire() time.Duration
}

// HealthChecker reports whether the analyzer is up.
type HealthChecker interface {
	Health(ctx context.Context) bool
}

// UploadResponse is returned by POST /api/video/upload.
type UploadResponse struct {
	models.Throw
	ThrowID           uuid.UUID `json:"throw_id"`
	Message           string    `json:"message"`
	Degraded          bool      `json:"degraded"`
	ThumbnailFrame    int       `json:"thumbnail_frame"`
	UsedFallbackFrame bool      `json:"used_fallback_frame"`
}

// Handler handles video HTTP endpoints.
type Handler struct {
	ingester  Ingester
	store     Store
	presigner Presigner // optional: nil when S3 mirroring is off
	health    HealthChecker
	maxUpload int64
	logger    *zap.Logger
}

// NewHandler creates a video handler. maxUpload is the largest accepted file in bytes.
func NewHandler(ingester Ingester, store Store, health HealthChecker, maxUpload int64, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{ingester: ingester, store: store, health: health, maxUpload: maxUpload, logger: logger}
}

// SetPresigner enables GET /api/video/throws/:id/download-url.
func (h *Handler) SetPresigner(p Presigner) { h.presigner = p }

// Upload handles POST /api/video/upload (multipart field "file").
func (h *Handler) Upload(c *gin.Context) {
	ownerID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	if h.maxUpload > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload+multipartOverhead)
	}

	candidate := validation.Candidate{}
	header, err := c.FormFile("file")
	if c.Request.MultipartForm != nil {
		defer c.Request.MultipartForm.RemoveAll()
	}
	switch {
	case err == nil:
		file, openErr := header.Open()
		if openErr != nil {
			h.logger.Error("open upload part failed", zap.String("owner_id", ownerID.String()), zap.Error(openErr))
			response.Internal(c, "Failed to store video file")
			return
		}
		defer file.Close()
		candidate = validation.Candidate{
			Body:        file,
			ContentType: header.Header.Get("Content-Type"),
			Filename:    header.Filename,
			Size:        header.Size,
		}
	case errors.Is(err, http.ErrMissingFile):
	default:
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.BadRequest(c, "File size exceeds maximum allowed size")
			return
		}
		response.BadRequest(c, "invalid multipart request: "+err.Error())
		return
	}

	// The pipeline runs to a terminal state even if the client goes away mid-request.
	res, err := h.ingester.Ingest(context.WithoutCancel(c.Request.Context()), candidate, ownerID)
	if err != nil {
		h.writeIngestError(c, err, ownerID)
		return
	}

	response.OK(c, UploadResponse{
		Throw:             *res.Throw,
		ThrowID:           res.Throw.ID,
		Message:           res.Message,
		Degraded:          res.Degraded,
		ThumbnailFrame:    res.ThumbnailFrame,
		UsedFallbackFrame: res.UsedFallbackFrame,
	})
}

func (h *Handler) writeIngestError(c *gin.Context, err error, ownerID uuid.UUID) {
	var ie *ingest.Error
	if !errors.As(err, &ie) {
		h.logger.Error("upload failed", zap.String("owner_id", ownerID.String()), zap.Error(err))
		response.Internal(c, "failed to process upload")
		return
	}
	switch ie.Kind {
	case ingest.KindInvalidInput:
		response.BadRequest(c, ie.Error())
		return
	case ingest.KindStorage:
		h.logger.Error("store upload failed", zap.String("owner_id", ownerID.String()), zap.Error(err))
		response.Internal(c, "Failed to store video file")
	case ingest.KindThumbnail:
		h.logger.Error("thumbnail generation failed", zap.String("owner_id", ownerID.String()), zap.Error(err))
		response.Internal(c, "Failed to generate thumbnail")
	default:
		h.logger.Error("save throw failed", zap.String("owner_id", ownerID.String()), zap.Error(err))
		response.Internal(c, "Failed to save throw")
	}
}

// History handles GET /api/video/history. Newest first.
func (h *Handler) History(c *gin.Context) {
	ownerID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	list, err := h.store.ListByOwner(c.Request.Context(), ownerID)
	if err != nil {
		h.logger.Error("list throws failed", zap.Error(err), zap.String("owner_id", ownerID.String()))
		response.Internal(c, "failed to list throws")
		return
	}
	response.OK(c, list)
}

// DownloadURL handles GET /api/video/throws/:id/download-url. Returns presigned URLs for the mirrored media.
func (h *Handler) DownloadURL(c *gin.Context) {
	if h.presigner == nil {
		response.ServiceUnavailable(c, "media mirror not configured")
		return
	}
	throwID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid throw id")
		return
	}
	ownerID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}

	t, err := h.store.GetByID(c.Request.Context(), throwID)
	if err != nil || t.OwnerID != ownerID {
		if err != nil && !errors.Is(err, ErrNotFound) {
			h.logger.Error("get throw failed", zap.Error(err), zap.String("throw_id", throwID.String()))
		}
		response.NotFound(c, "throw not found")
		return
	}
	if t.MirroredAt == nil {
		response.Conflict(c, "throw media not mirrored yet")
		return
	}

	expire := h.presigner.PresignExpire()
	videoURL, err := h.presigner.GeneratePresignedDownloadURL(c.Request.Context(), storage.MediaKey(t.VideoURL), expire)
	if err != nil {
		h.logger.Error("presign video download failed", zap.Error(err), zap.String("throw_id", throwID.String()))
		response.Internal(c, "failed to generate download URL")
		return
	}
	thumbURL, err := h.presigner.GeneratePresignedDownloadURL(c.Request.Context(), storage.MediaKey(t.ThumbnailURL), expire)
	if err != nil {
		h.logger.Error("presign thumbnail download failed", zap.Error(err), zap.String("throw_id", throwID.String()))
		response.Internal(c, "failed to generate download URL")
		return
	}
	response.OK(c, gin.H{"download_url": videoURL, "thumbnail_url": thumbURL, "expires_in": int(expire.Seconds())})
}

// Health handles GET /api/video/health.
func (h *Handler) Health(c *gin.Context) {
	analyzer := "DOWN"
	if h.health != nil && h.health.Health(c.Request.Context()) {
		analyzer = "UP"
	}
	response.OK(c, gin.H{"status": "UP", "service": "video", "analyzer": analyzer})
}
