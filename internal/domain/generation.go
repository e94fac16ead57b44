package domain

import "time"

// Mode enumerates supported generation modes.
type Mode string

const (
	ModeTextToImage  Mode = "text-to-image"
	ModeImageToImage Mode = "image-to-image"
)

// Status enumerates generation lifecycle states. Transitions are
// one-directional: pending -> running -> completed|failed.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transitions can occur.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Metadata holds derived per-generation data. It is persisted as a single
// JSONB column but carries named fields rather than a free-form map.
type Metadata struct {
	// Error is the bounded human-readable failure message. Non-empty iff
	// the generation failed.
	Error string `json:"error,omitempty"`
	// ReferenceImageCount is the number of reference images supplied at
	// submission time.
	ReferenceImageCount int `json:"reference_images_count,omitempty"`
	// ReferenceImageURLs lists the submitted reference images in order.
	// Entries are object-store URLs for references persisted at submission,
	// or the original inline encoding (data URI) when persistence failed.
	ReferenceImageURLs []string `json:"reference_image_urls,omitempty"`
}

// Generation is one image-generation request and its lifecycle record.
type Generation struct {
	ID             string
	UserID         string
	Prompt         string
	NegativePrompt string
	Mode           Mode
	Resolution     string
	AspectRatio    string
	GuidanceScale  float64
	Steps          int
	Seed           *int
	Status         Status
	ResultURL      string
	ResultPath     string
	Metadata       Metadata
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CompletedAt    *time.Time
}
