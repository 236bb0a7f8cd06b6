// Package memory provides an in-memory implementation of the
// imagepipeline metadata contracts (MetadataStore, ProfileStore,
// PhotoIndex), used in tests and local development.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/tripshare/image-pipeline/pkg/imagepipeline"
)

// Repository is an in-memory implementation of the metadata contracts.
type Repository struct {
	mu      sync.RWMutex
	records map[string]*imagepipeline.MediaRecord
	emails  map[string]string
	photos  map[string]imagepipeline.PhotoEntry
	now     func() time.Time
}

// New creates a new in-memory repository
func New() *Repository {
	return &Repository{
		records: make(map[string]*imagepipeline.MediaRecord),
		emails:  make(map[string]string),
		photos:  make(map[string]imagepipeline.PhotoEntry),
		now:     time.Now,
	}
}

// Put seeds or replaces a media record. Intended for tests and the upstream
// write path in local development.
func (r *Repository) Put(record imagepipeline.MediaRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = r.now().UTC()
	}
	record.UpdatedAt = r.now().UTC()
	r.records[record.ArticleID] = &record
}

// SetOwnerEmail seeds a profile email.
func (r *Repository) SetOwnerEmail(ownerID, email string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emails[ownerID] = email
}

func (r *Repository) GetArticle(ctx context.Context, articleID string) (*imagepipeline.MediaRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.records[articleID]
	if !ok {
		return nil, imagepipeline.ErrArticleNotFound
	}
	copied := *record
	return &copied, nil
}

func (r *Repository) SetValidation(ctx context.Context, articleID string, details imagepipeline.ValidationDetails, status imagepipeline.Status) error {
	return r.update(articleID, func(record *imagepipeline.MediaRecord) {
		now := r.now().UTC()
		record.Validation = &details
		record.Status = status
		record.ValidatedAt = &now
	})
}

func (r *Repository) SetImageMetadata(ctx context.Context, articleID string, metadata imagepipeline.ImageMetadata) error {
	return r.update(articleID, func(record *imagepipeline.MediaRecord) {
		now := r.now().UTC()
		record.ImageMetadata = &metadata
		record.Status = imagepipeline.StatusAnalyzed
		record.AnalyzedAt = &now
	})
}

func (r *Repository) SetModeration(ctx context.Context, articleID string, details imagepipeline.ModerationDetails, status imagepipeline.Status, imageKey *string) error {
	return r.update(articleID, func(record *imagepipeline.MediaRecord) {
		now := r.now().UTC()
		record.Moderation = &details
		record.Status = status
		record.ModeratedAt = &now
		if imageKey != nil {
			record.ImageKey = *imageKey
		}
	})
}

func (r *Repository) ClearImageRefs(ctx context.Context, articleID string) error {
	return r.update(articleID, func(record *imagepipeline.MediaRecord) {
		record.ImageKey = ""
		record.ThumbnailKeys = nil
	})
}

func (r *Repository) SetTags(ctx context.Context, articleID string, tags []string, details []imagepipeline.LabelDetail) error {
	return r.update(articleID, func(record *imagepipeline.MediaRecord) {
		now := r.now().UTC()
		record.AutoTags = tags
		record.LabelDetails = details
		record.TaggedAt = &now
	})
}

func (r *Repository) SetThumbnailKeys(ctx context.Context, articleID string, keys map[string]string) error {
	return r.update(articleID, func(record *imagepipeline.MediaRecord) {
		now := r.now().UTC()
		record.ThumbnailKeys = keys
		record.ThumbnailedAt = &now
	})
}

func (r *Repository) MarkNotified(ctx context.Context, articleID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[articleID]
	if !ok {
		return false, imagepipeline.ErrArticleNotFound
	}
	if record.Notified {
		return false, nil
	}
	now := r.now().UTC()
	record.Notified = true
	record.NotifiedAt = &now
	record.UpdatedAt = now
	return true, nil
}

func (r *Repository) SavePendingNotification(ctx context.Context, articleID string, pending imagepipeline.PendingNotification) error {
	return r.update(articleID, func(record *imagepipeline.MediaRecord) {
		record.PendingNotification = &pending
	})
}

func (r *Repository) OwnerEmail(ctx context.Context, ownerID string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	email, ok := r.emails[ownerID]
	if !ok {
		return "", imagepipeline.ErrOwnerNotFound
	}
	return email, nil
}

func (r *Repository) SavePhoto(ctx context.Context, photo imagepipeline.PhotoEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.photos[photo.PhotoID] = photo
	return nil
}

// Photos returns a snapshot of the gallery index.
func (r *Repository) Photos() []imagepipeline.PhotoEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]imagepipeline.PhotoEntry, 0, len(r.photos))
	for _, photo := range r.photos {
		entries = append(entries, photo)
	}
	return entries
}

func (r *Repository) update(articleID string, mutate func(*imagepipeline.MediaRecord)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[articleID]
	if !ok {
		return imagepipeline.ErrArticleNotFound
	}
	mutate(record)
	record.UpdatedAt = r.now().UTC()
	return nil
}
