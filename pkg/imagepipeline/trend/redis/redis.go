// Package redis implements the imagepipeline.TrendStore contract on Redis.
// Each tag is a hash holding its photo count and current cover image, plus a
// sorted-set index for ranked reads.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tripshare/image-pipeline/pkg/imagepipeline"
)

const (
	keyPrefix = "trend:"
	rankKey   = "trends:by_count"
)

// Config options for the redis trend store
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Store is a Redis implementation of the imagepipeline.TrendStore interface
type Store struct {
	client *redis.Client
	now    func() time.Time
}

// New creates a store with its own client.
func New(config Config) *Store {
	return NewWithClient(redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	}))
}

// NewWithClient wraps an existing client. Used by tests running against
// miniredis.
func NewWithClient(client *redis.Client) *Store {
	return &Store{client: client, now: time.Now}
}

// Bump atomically increments the tag's photo count and overwrites its cover
// image. The count is the source of truth; the cover is last-writer-wins.
func (s *Store) Bump(ctx context.Context, tag, coverKey string) error {
	key := keyPrefix + tag

	pipe := s.client.TxPipeline()
	pipe.HIncrBy(ctx, key, "count", 1)
	pipe.HSet(ctx, key,
		"tag_name", tag,
		"cover_image", coverKey,
		"last_updated", s.now().UTC().Format(time.RFC3339),
	)
	pipe.ZIncrBy(ctx, rankKey, 1, tag)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to bump trend %q: %w", tag, err)
	}
	return nil
}

// Record loads one tag's aggregate. A tag never bumped returns a zero
// record, not an error.
func (s *Store) Record(ctx context.Context, tag string) (imagepipeline.TrendRecord, error) {
	fields, err := s.client.HGetAll(ctx, keyPrefix+tag).Result()
	if err != nil {
		return imagepipeline.TrendRecord{}, fmt.Errorf("failed to load trend %q: %w", tag, err)
	}
	record := imagepipeline.TrendRecord{TagName: tag}
	if len(fields) == 0 {
		return record, nil
	}

	record.CoverImage = fields["cover_image"]
	fmt.Sscanf(fields["count"], "%d", &record.Count)
	if ts, err := time.Parse(time.RFC3339, fields["last_updated"]); err == nil {
		record.LastUpdated = ts
	}
	return record, nil
}

// Top returns the n most-used tags, highest count first.
func (s *Store) Top(ctx context.Context, n int64) ([]string, error) {
	tags, err := s.client.ZRevRange(ctx, rankKey, 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load top trends: %w", err)
	}
	return tags, nil
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}
