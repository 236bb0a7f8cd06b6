package imagepipeline

import (
	"time"
)

// Status is the domain type for a media record's lifecycle state.
type Status string

// Record status constants (typed). Transitions are monotonic forward until
// moderation, which forks into one of the four terminal-ish outcomes.
const (
	StatusPending     Status = "pending"
	StatusValidated   Status = "validated"
	StatusAnalyzed    Status = "analyzed"
	StatusApproved    Status = "approved"
	StatusRejected    Status = "rejected"
	StatusQuarantined Status = "quarantined"
	StatusFlagged     Status = "flagged"
)

// Rejecting reports whether the status ends the public life of the image.
func (s Status) Rejecting() bool {
	return s == StatusRejected || s == StatusQuarantined
}

// Severity is the ordinal classification assigned to a detected moderation
// category. Critical outranks high outranks medium outranks low.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityNone     Severity = "none"
)

// Action is the operational response dispatched for a resolved severity.
// The set is closed; dispatch happens through an exhaustive switch so a new
// variant cannot be added without the compiler pointing at every branch.
type Action int

const (
	ActionLog Action = iota
	ActionFlag
	ActionQuarantine
	ActionDelete
)

func (a Action) String() string {
	switch a {
	case ActionDelete:
		return "delete"
	case ActionQuarantine:
		return "quarantine"
	case ActionFlag:
		return "flag"
	default:
		return "log"
	}
}

// MediaRecord is the shared per-article state document. It is created by the
// upstream write path before any image lands in object storage; the pipeline
// only mutates it, one field group per stage.
type MediaRecord struct {
	ArticleID string `json:"article_id"`
	OwnerID   string `json:"owner_id"`
	Status    Status `json:"status"`

	// ImageKey is the primary object key. Cleared on delete, repointed on
	// quarantine, so downstream readers can never dereference a removed
	// object.
	ImageKey string `json:"image_key,omitempty"`

	Validation    *ValidationDetails `json:"validation_details,omitempty"`
	ImageMetadata *ImageMetadata     `json:"image_metadata,omitempty"`
	Moderation    *ModerationDetails `json:"moderation_details,omitempty"`

	// AutoTags is a case-insensitively deduplicated set ordered by
	// descending priority score. LabelDetails carries the parallel
	// structured detail per tag.
	AutoTags     []string      `json:"auto_tags,omitempty"`
	LabelDetails []LabelDetail `json:"label_details,omitempty"`

	// ThumbnailKeys maps size name ("small", "medium", "large") to the
	// derivative object key. A missing entry means that size is
	// unavailable, not that generation failed as a whole.
	ThumbnailKeys map[string]string `json:"thumbnail_keys,omitempty"`

	// Notified transitions false -> true exactly once; it guards the
	// status email against redelivered messages.
	Notified            bool                 `json:"notified"`
	PendingNotification *PendingNotification `json:"pending_notification,omitempty"`

	ValidatedAt   *time.Time `json:"validated_at,omitempty"`
	AnalyzedAt    *time.Time `json:"analyzed_at,omitempty"`
	ModeratedAt   *time.Time `json:"moderated_at,omitempty"`
	TaggedAt      *time.Time `json:"tagged_at,omitempty"`
	ThumbnailedAt *time.Time `json:"thumbnailed_at,omitempty"`
	NotifiedAt    *time.Time `json:"notified_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ValidationDetails records the outcome of every validator check.
type ValidationDetails struct {
	Valid       bool     `json:"valid"`
	FailedCheck string   `json:"failed_check,omitempty"`
	Error       string   `json:"error,omitempty"`
	Extension   string   `json:"extension,omitempty"`
	FileSize    int64    `json:"file_size,omitempty"`
	Format      string   `json:"format,omitempty"`
	Width       int      `json:"width,omitempty"`
	Height      int      `json:"height,omitempty"`
	AspectRatio float64  `json:"aspect_ratio,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
}

// ImageMetadata aggregates everything the analyzer extracts. Sub-blocks are
// pointers because each extraction is best-effort.
type ImageMetadata struct {
	HasEXIF bool            `json:"has_exif"`
	GPS     *GPSInfo        `json:"gps,omitempty"`
	Camera  *CameraInfo     `json:"camera,omitempty"`
	Colors  []DominantColor `json:"colors,omitempty"`
	Quality QualityMetrics  `json:"quality"`
	Editing *EditingInfo    `json:"editing,omitempty"`
}

// GPSInfo holds coordinates converted to decimal degrees (negative for
// southern/western hemispheres).
type GPSInfo struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude,omitempty"`
	Timestamp string  `json:"timestamp,omitempty"`
}

// CameraInfo holds the shooting parameters embedded by the camera.
type CameraInfo struct {
	Make         string `json:"make,omitempty"`
	Model        string `json:"model,omitempty"`
	Lens         string `json:"lens,omitempty"`
	Aperture     string `json:"aperture,omitempty"`
	ShutterSpeed string `json:"shutter_speed,omitempty"`
	ISO          int    `json:"iso,omitempty"`
	FocalLength  string `json:"focal_length,omitempty"`
	DateTaken    string `json:"date_taken,omitempty"`
}

// DominantColor is one entry of the pixel-frequency histogram.
type DominantColor struct {
	Hex        string  `json:"hex"`
	R          uint8   `json:"r"`
	G          uint8   `json:"g"`
	B          uint8   `json:"b"`
	Percentage float64 `json:"percentage"`
}

// QualityMetrics are derived from dimensions and file size.
type QualityMetrics struct {
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	Megapixels  float64 `json:"megapixels"`
	FileSize    int64   `json:"file_size"`
	AspectRatio float64 `json:"aspect_ratio"`
	Format      string  `json:"format,omitempty"`
	Rating      string  `json:"rating"`
}

// EditingInfo flags images that passed through known editing software.
type EditingInfo struct {
	Edited   bool   `json:"edited"`
	Software string `json:"software,omitempty"`
}

// ModerationIssue is one detected category/label pair with its resolved
// severity.
type ModerationIssue struct {
	Category   string   `json:"category"`
	Label      string   `json:"label"`
	Confidence float64  `json:"confidence"`
	Severity   Severity `json:"severity"`
}

// ModerationDetails is the persisted outcome of the moderation stage.
type ModerationDetails struct {
	Action      string            `json:"action"`
	MaxSeverity Severity          `json:"max_severity,omitempty"`
	Issues      []ModerationIssue `json:"issues,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

// LabelDetail is the scored form of one detected label.
type LabelDetail struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
	Priority   string  `json:"priority"`
	Score      float64 `json:"score"`
}

// PendingNotification is persisted when an email could not be delivered so an
// out-of-band sweep can retry it.
type PendingNotification struct {
	Email     string    `json:"email"`
	Kind      string    `json:"kind"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// TrendRecord is the denormalized per-tag aggregate backing "popular tags"
// reads. Count is the number of photos carrying the tag; CoverImage is the
// last photo to add it (eventually consistent, not authoritative).
type TrendRecord struct {
	TagName     string    `json:"tag_name"`
	Count       int64     `json:"count"`
	CoverImage  string    `json:"cover_image,omitempty"`
	LastUpdated time.Time `json:"last_updated"`
}

// PhotoEntry is one row of the secondary gallery read index. PhotoID is the
// object key so multiple images of one article never overwrite each other.
type PhotoEntry struct {
	PhotoID   string    `json:"photo_id"`
	ArticleID string    `json:"article_id,omitempty"`
	ImageKey  string    `json:"image_key"`
	Tags      []string  `json:"tags"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Item is the queue envelope every stage consumes and forwards: the object
// coordinates plus routing attributes.
type Item struct {
	Bucket    string `json:"bucket"`
	Key       string `json:"key"`
	ArticleID string `json:"articleId,omitempty"`

	// Terminal marks items whose policy outcome already ended processing;
	// later stages pass them through so the notifier still runs.
	Terminal bool   `json:"terminal,omitempty"`
	Source   string `json:"source,omitempty"`
}
