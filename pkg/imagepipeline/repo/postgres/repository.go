// Package postgres implements the imagepipeline metadata contracts on
// PostgreSQL. Structured field groups are stored as jsonb so each stage's
// write stays a single idempotent column update.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tripshare/image-pipeline/pkg/imagepipeline"
)

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Repository implements the imagepipeline metadata contracts using PostgreSQL
type Repository struct {
	db DBTX
}

// New creates a new PostgreSQL repository
func New(db DBTX) *Repository {
	return &Repository{db: db}
}

// NewWithPool creates a new PostgreSQL repository with connection pool
func NewWithPool(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

// Schema is the DDL for the tables this repository uses.
const Schema = `
CREATE TABLE IF NOT EXISTS media_records (
    article_id           TEXT PRIMARY KEY,
    owner_id             TEXT NOT NULL DEFAULT '',
    status               TEXT NOT NULL DEFAULT 'pending',
    image_key            TEXT NOT NULL DEFAULT '',
    validation_details   JSONB,
    image_metadata       JSONB,
    moderation_details   JSONB,
    auto_tags            JSONB,
    label_details        JSONB,
    thumbnail_keys       JSONB,
    notified             BOOLEAN NOT NULL DEFAULT FALSE,
    pending_notification JSONB,
    validated_at         TIMESTAMPTZ,
    analyzed_at          TIMESTAMPTZ,
    moderated_at         TIMESTAMPTZ,
    tagged_at            TIMESTAMPTZ,
    thumbnailed_at       TIMESTAMPTZ,
    notified_at          TIMESTAMPTZ,
    created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS user_profiles (
    owner_id   TEXT PRIMARY KEY,
    email      TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS gallery_photos (
    photo_id   TEXT PRIMARY KEY,
    article_id TEXT NOT NULL DEFAULT '',
    image_key  TEXT NOT NULL,
    tags       JSONB,
    status     TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_gallery_photos_article ON gallery_photos (article_id);
`

// EnsureSchema creates the tables if they do not exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

func (r *Repository) GetArticle(ctx context.Context, articleID string) (*imagepipeline.MediaRecord, error) {
	query := `
		SELECT article_id, owner_id, status, image_key,
		       validation_details, image_metadata, moderation_details,
		       auto_tags, label_details, thumbnail_keys,
		       notified, pending_notification,
		       validated_at, analyzed_at, moderated_at, tagged_at,
		       thumbnailed_at, notified_at, created_at, updated_at
		FROM media_records
		WHERE article_id = $1`

	var (
		record       imagepipeline.MediaRecord
		validation   []byte
		metadata     []byte
		moderation   []byte
		autoTags     []byte
		labelDetails []byte
		thumbKeys    []byte
		pending      []byte
	)

	err := r.db.QueryRow(ctx, query, articleID).Scan(
		&record.ArticleID, &record.OwnerID, &record.Status, &record.ImageKey,
		&validation, &metadata, &moderation,
		&autoTags, &labelDetails, &thumbKeys,
		&record.Notified, &pending,
		&record.ValidatedAt, &record.AnalyzedAt, &record.ModeratedAt, &record.TaggedAt,
		&record.ThumbnailedAt, &record.NotifiedAt, &record.CreatedAt, &record.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, imagepipeline.ErrArticleNotFound
		}
		return nil, fmt.Errorf("failed to load media record: %w", err)
	}

	if err := decodeInto(validation, &record.Validation); err != nil {
		return nil, err
	}
	if err := decodeInto(metadata, &record.ImageMetadata); err != nil {
		return nil, err
	}
	if err := decodeInto(moderation, &record.Moderation); err != nil {
		return nil, err
	}
	if err := decodeInto(autoTags, &record.AutoTags); err != nil {
		return nil, err
	}
	if err := decodeInto(labelDetails, &record.LabelDetails); err != nil {
		return nil, err
	}
	if err := decodeInto(thumbKeys, &record.ThumbnailKeys); err != nil {
		return nil, err
	}
	if err := decodeInto(pending, &record.PendingNotification); err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *Repository) SetValidation(ctx context.Context, articleID string, details imagepipeline.ValidationDetails, status imagepipeline.Status) error {
	payload, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("failed to encode validation details: %w", err)
	}
	query := `
		UPDATE media_records
		SET validation_details = $2, status = $3, validated_at = $4, updated_at = $4
		WHERE article_id = $1`
	return r.exec(ctx, "set validation", query, articleID, payload, status, time.Now().UTC())
}

func (r *Repository) SetImageMetadata(ctx context.Context, articleID string, metadata imagepipeline.ImageMetadata) error {
	payload, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to encode image metadata: %w", err)
	}
	query := `
		UPDATE media_records
		SET image_metadata = $2, status = $3, analyzed_at = $4, updated_at = $4
		WHERE article_id = $1`
	return r.exec(ctx, "set image metadata", query, articleID, payload, imagepipeline.StatusAnalyzed, time.Now().UTC())
}

func (r *Repository) SetModeration(ctx context.Context, articleID string, details imagepipeline.ModerationDetails, status imagepipeline.Status, imageKey *string) error {
	payload, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("failed to encode moderation details: %w", err)
	}

	if imageKey != nil {
		query := `
			UPDATE media_records
			SET moderation_details = $2, status = $3, image_key = $4, moderated_at = $5, updated_at = $5
			WHERE article_id = $1`
		return r.exec(ctx, "set moderation", query, articleID, payload, status, *imageKey, time.Now().UTC())
	}
	query := `
		UPDATE media_records
		SET moderation_details = $2, status = $3, moderated_at = $4, updated_at = $4
		WHERE article_id = $1`
	return r.exec(ctx, "set moderation", query, articleID, payload, status, time.Now().UTC())
}

func (r *Repository) ClearImageRefs(ctx context.Context, articleID string) error {
	query := `
		UPDATE media_records
		SET image_key = '', thumbnail_keys = NULL, updated_at = $2
		WHERE article_id = $1`
	return r.exec(ctx, "clear image refs", query, articleID, time.Now().UTC())
}

func (r *Repository) SetTags(ctx context.Context, articleID string, tags []string, details []imagepipeline.LabelDetail) error {
	tagsPayload, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("failed to encode tags: %w", err)
	}
	detailsPayload, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("failed to encode label details: %w", err)
	}
	query := `
		UPDATE media_records
		SET auto_tags = $2, label_details = $3, tagged_at = $4, updated_at = $4
		WHERE article_id = $1`
	return r.exec(ctx, "set tags", query, articleID, tagsPayload, detailsPayload, time.Now().UTC())
}

func (r *Repository) SetThumbnailKeys(ctx context.Context, articleID string, keys map[string]string) error {
	payload, err := json.Marshal(keys)
	if err != nil {
		return fmt.Errorf("failed to encode thumbnail keys: %w", err)
	}
	query := `
		UPDATE media_records
		SET thumbnail_keys = $2, thumbnailed_at = $3, updated_at = $3
		WHERE article_id = $1`
	return r.exec(ctx, "set thumbnail keys", query, articleID, payload, time.Now().UTC())
}

// MarkNotified flips notified false -> true in one conditional statement.
// The row count tells redelivered messages apart from the first claim.
func (r *Repository) MarkNotified(ctx context.Context, articleID string) (bool, error) {
	query := `
		UPDATE media_records
		SET notified = TRUE, notified_at = $2, updated_at = $2
		WHERE article_id = $1 AND notified = FALSE`

	tag, err := r.db.Exec(ctx, query, articleID, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to mark notified: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	// Distinguish "already notified" from "no such record".
	var exists bool
	err = r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM media_records WHERE article_id = $1)`, articleID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check media record: %w", err)
	}
	if !exists {
		return false, imagepipeline.ErrArticleNotFound
	}
	return false, nil
}

func (r *Repository) SavePendingNotification(ctx context.Context, articleID string, pending imagepipeline.PendingNotification) error {
	payload, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("failed to encode pending notification: %w", err)
	}
	query := `
		UPDATE media_records
		SET pending_notification = $2, updated_at = $3
		WHERE article_id = $1`
	return r.exec(ctx, "save pending notification", query, articleID, payload, time.Now().UTC())
}

func (r *Repository) OwnerEmail(ctx context.Context, ownerID string) (string, error) {
	var email string
	err := r.db.QueryRow(ctx, `SELECT email FROM user_profiles WHERE owner_id = $1`, ownerID).Scan(&email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", imagepipeline.ErrOwnerNotFound
		}
		return "", fmt.Errorf("failed to load owner email: %w", err)
	}
	return email, nil
}

func (r *Repository) SavePhoto(ctx context.Context, photo imagepipeline.PhotoEntry) error {
	tags, err := json.Marshal(photo.Tags)
	if err != nil {
		return fmt.Errorf("failed to encode photo tags: %w", err)
	}
	query := `
		INSERT INTO gallery_photos (photo_id, article_id, image_key, tags, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (photo_id) DO UPDATE
		SET tags = EXCLUDED.tags, status = EXCLUDED.status`

	createdAt := photo.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = r.db.Exec(ctx, query, photo.PhotoID, photo.ArticleID, photo.ImageKey, tags, photo.Status, createdAt)
	if err != nil {
		return fmt.Errorf("failed to save photo: %w", err)
	}
	return nil
}

func (r *Repository) exec(ctx context.Context, operation, query string, args ...interface{}) error {
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", operation, err)
	}
	if tag.RowsAffected() == 0 {
		return imagepipeline.ErrArticleNotFound
	}
	return nil
}

func decodeInto(data []byte, target interface{}) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("failed to decode stored json: %w", err)
	}
	return nil
}
