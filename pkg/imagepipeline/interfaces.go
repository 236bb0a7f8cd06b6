package imagepipeline

import (
	"context"
	"io"
)

// BlobStore defines the interface for object storage backends.
type BlobStore interface {
	// Download downloads an object directly.
	Download(ctx context.Context, objectKey string) (io.ReadCloser, error)

	// Upload uploads an object directly.
	Upload(ctx context.Context, objectKey string, reader io.Reader) error

	// UploadWithParams uploads an object with additional parameters
	// (content type, cache control, user metadata).
	UploadWithParams(ctx context.Context, reader io.Reader, params UploadParams) error

	// Delete deletes an object. Deleting a missing key is a no-op.
	Delete(ctx context.Context, objectKey string) error

	// Copy copies an object within the bucket, replacing its user
	// metadata with the given map when non-nil.
	Copy(ctx context.Context, sourceKey, destKey string, metadata map[string]string) error

	// GetObjectMeta retrieves metadata for an object.
	GetObjectMeta(ctx context.Context, objectKey string) (*ObjectMeta, error)
}

// UploadParams contains parameters for uploading an object.
type UploadParams struct {
	ObjectKey    string
	MimeType     string
	CacheControl string
	Metadata     map[string]string
}

// ObjectMeta contains metadata about an object in storage.
type ObjectMeta struct {
	Key         string
	Size        int64
	ContentType string
	Metadata    map[string]string
}

// MetadataStore defines the per-article record persistence. Each mutation is
// an idempotent overwrite of one field group; MarkNotified is the single
// conditional primitive.
type MetadataStore interface {
	GetArticle(ctx context.Context, articleID string) (*MediaRecord, error)

	SetValidation(ctx context.Context, articleID string, details ValidationDetails, status Status) error
	SetImageMetadata(ctx context.Context, articleID string, metadata ImageMetadata) error

	// SetModeration persists the moderation outcome. imageKey repoints
	// the primary key when non-nil; an empty value clears it.
	SetModeration(ctx context.Context, articleID string, details ModerationDetails, status Status, imageKey *string) error

	// ClearImageRefs removes every image reference (primary key and
	// thumbnail keys) from the record.
	ClearImageRefs(ctx context.Context, articleID string) error

	SetTags(ctx context.Context, articleID string, tags []string, details []LabelDetail) error
	SetThumbnailKeys(ctx context.Context, articleID string, keys map[string]string) error

	// MarkNotified atomically flips notified false -> true. It returns
	// false when the record was already marked, so a redelivered message
	// cannot claim the send twice.
	MarkNotified(ctx context.Context, articleID string) (bool, error)

	SavePendingNotification(ctx context.Context, articleID string, pending PendingNotification) error
}

// ProfileStore resolves an owner to a contact email from the user profile
// records.
type ProfileStore interface {
	OwnerEmail(ctx context.Context, ownerID string) (string, error)
}

// IdentityResolver is the external identity-service fallback for owner email
// resolution.
type IdentityResolver interface {
	Email(ctx context.Context, ownerID string) (string, error)
}

// TrendStore maintains the denormalized tag aggregate. Bump atomically
// increments the photo count and overwrites the cover image.
type TrendStore interface {
	Bump(ctx context.Context, tag, coverKey string) error
}

// PhotoIndex is the secondary gallery read index written by the tagger.
type PhotoIndex interface {
	SavePhoto(ctx context.Context, photo PhotoEntry) error
}

// Forwarder enqueues an item onto the next stage's queue.
type Forwarder interface {
	Forward(ctx context.Context, item Item) error
}

// Message is one delivered queue message.
type Message struct {
	ID            string
	ReceiptHandle string
	Item          Item
}

// Consumer is a stage's inbound queue. Delivery is at-least-once: an item
// that is neither acked nor nacked redelivers after the visibility timeout.
type Consumer interface {
	// Receive blocks for up to the transport's wait time and returns the
	// next batch (possibly empty).
	Receive(ctx context.Context) ([]Message, error)

	// Ack marks a message as successfully processed.
	Ack(ctx context.Context, msg Message) error

	// Nack returns a message for immediate redelivery.
	Nack(ctx context.Context, msg Message) error
}

// ModerationFinding is one category returned by the moderation service.
type ModerationFinding struct {
	Category   string
	Label      string
	Confidence float64
}

// ModerationClient is the narrow contract to the external moderation
// service.
type ModerationClient interface {
	DetectModeration(ctx context.Context, bucket, key string, minConfidence float64) ([]ModerationFinding, error)
}

// DetectedLabel is one label returned by the label-detection service.
type DetectedLabel struct {
	Name       string
	Confidence float64
	Parents    []string
}

// LabelClient is the narrow contract to the external label-detection
// service.
type LabelClient interface {
	DetectLabels(ctx context.Context, bucket, key string, minConfidence float64, maxLabels int) ([]DetectedLabel, error)
}

// Mailer sends user-facing plain-text email.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// AlertSink delivers fire-and-forget operator alerts.
type AlertSink interface {
	Alert(ctx context.Context, subject, message string) error
}

// Stage is one step of the pipeline. Process handles a single item; the
// returned error marks that item (and only that item) for redelivery.
type Stage interface {
	Name() string
	Process(ctx context.Context, item Item) error
}
