package models

import (
	"time"

	"github.com/google/uuid"
)

// Throw is one analyzed upload. Analysis fields are nil together when the analyzer could not be reached.
type Throw struct {
	ID           uuid.UUID `json:"id"`
	OwnerID      uuid.UUID `json:"owner_id"`
	VideoURL     string    `json:"video_url"`
	ThumbnailURL string    `json:"thumbnail_url"`

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

	UploadedAt time.Time  `json:"uploaded_at"`
	MirroredAt *time.Time `json:"mirrored_at,omitempty"`
}
