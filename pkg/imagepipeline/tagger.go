package imagepipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/tripshare/image-pipeline/pkg/imagepipeline/objectkey"
)

// TaggerConfig tunes label detection and tag retention.
type TaggerConfig struct {
	// MinConfidence is the detection floor sent to the label service.
	MinConfidence float64

	// RequestLabels is how many labels to ask the service for before
	// scoring; MaxTags is how many survive ranking and merging.
	RequestLabels int
	MaxTags       int
}

func DefaultTaggerConfig() TaggerConfig {
	return TaggerConfig{
		MinConfidence: 70,
		RequestLabels: 20,
		MaxTags:       5,
	}
}

// Tagger assigns searchable tags from detected labels, ranked by the tag
// policy. Terminal items pass straight through so the notifier still runs.
type Tagger struct {
	vision LabelClient
	meta   MetadataStore
	photos PhotoIndex
	trends TrendStore
	policy *PolicyCache
	next   Forwarder
	config TaggerConfig
	logger *slog.Logger
	now    func() time.Time
}

func NewTagger(vision LabelClient, meta MetadataStore, photos PhotoIndex, trends TrendStore,
	policy *PolicyCache, next Forwarder, config TaggerConfig, logger *slog.Logger) *Tagger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tagger{
		vision: vision,
		meta:   meta,
		photos: photos,
		trends: trends,
		policy: policy,
		next:   next,
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

func (t *Tagger) Name() string { return "tagger" }

func (t *Tagger) Process(ctx context.Context, item Item) error {
	log := t.logger.With("stage", t.Name(), "key", item.Key, "article_id", item.ArticleID)
	item.Source = t.Name()

	if item.Terminal {
		log.Info("terminal item, passing through")
		if err := t.next.Forward(ctx, item); err != nil {
			return &StageError{Stage: t.Name(), Key: item.Key, Err: err}
		}
		return nil
	}

	if item.ArticleID == "" {
		parsed, err := objectkey.Parse(item.Key)
		if err != nil {
			log.Warn("skipping object with unrecognized key", "error", err)
			return nil
		}
		item.ArticleID = parsed.ArticleID
	}

	ranked, err := t.detect(ctx, item)
	if err != nil {
		return &StageError{Stage: t.Name(), Key: item.Key, Err: err}
	}

	record, err := t.meta.GetArticle(ctx, item.ArticleID)
	if err != nil && !errors.Is(err, ErrArticleNotFound) {
		return &StageError{Stage: t.Name(), Key: item.Key, Err: err}
	}

	tags, details := t.merge(ranked, record)
	if err := t.meta.SetTags(ctx, item.ArticleID, tags, details); err != nil && !errors.Is(err, ErrArticleNotFound) {
		return &StageError{Stage: t.Name(), Key: item.Key, Err: err}
	}

	t.indexPhoto(ctx, item, tags, log)
	t.bumpTrends(ctx, item, tags, log)

	if err := t.next.Forward(ctx, item); err != nil {
		return &StageError{Stage: t.Name(), Key: item.Key, Err: err}
	}
	log.Info("image tagged", "tags", tags)
	return nil
}

func (t *Tagger) detect(ctx context.Context, item Item) ([]LabelDetail, error) {
	labels, err := t.vision.DetectLabels(ctx, item.Bucket, item.Key, t.config.MinConfidence, t.config.RequestLabels)
	if err != nil {
		if errors.Is(err, ErrUnsupportedImage) {
			// An image the service cannot label simply goes untagged.
			return nil, nil
		}
		return nil, err
	}
	policy := t.policy.Policy(ctx)
	return policy.Rank(labels, t.config.MaxTags), nil
}

// merge combines freshly ranked labels with the record's existing tags.
// Fresh labels come first in rank order; existing tags not re-detected keep
// their relative order after them. Comparison is case-insensitive and the
// result is capped at MaxTags, so redelivery converges on the same set.
func (t *Tagger) merge(ranked []LabelDetail, record *MediaRecord) ([]string, []LabelDetail) {
	tags := make([]string, 0, t.config.MaxTags)
	details := make([]LabelDetail, 0, t.config.MaxTags)
	seen := map[string]bool{}

	for _, detail := range ranked {
		name := strings.ToLower(detail.Name)
		if seen[name] || len(tags) >= t.config.MaxTags {
			continue
		}
		seen[name] = true
		tags = append(tags, name)
		details = append(details, detail)
	}

	if record != nil {
		existingDetails := map[string]LabelDetail{}
		for _, detail := range record.LabelDetails {
			existingDetails[strings.ToLower(detail.Name)] = detail
		}
		for _, tag := range record.AutoTags {
			name := strings.ToLower(tag)
			if seen[name] || len(tags) >= t.config.MaxTags {
				continue
			}
			seen[name] = true
			tags = append(tags, name)
			if detail, ok := existingDetails[name]; ok {
				details = append(details, detail)
			} else {
				details = append(details, LabelDetail{Name: name, Priority: "none"})
			}
		}
	}
	return tags, details
}

// indexPhoto writes the gallery read index. The entry is keyed by object
// key, not article id, so multi-image articles keep one row per image.
func (t *Tagger) indexPhoto(ctx context.Context, item Item, tags []string, log *slog.Logger) {
	if t.photos == nil {
		return
	}
	entry := PhotoEntry{
		PhotoID:   item.Key,
		ArticleID: item.ArticleID,
		ImageKey:  item.Key,
		Tags:      tags,
		Status:    string(StatusApproved),
		CreatedAt: t.now().UTC(),
	}
	if err := t.photos.SavePhoto(ctx, entry); err != nil {
		log.Warn("photo index write failed", "error", err)
	}
}

func (t *Tagger) bumpTrends(ctx context.Context, item Item, tags []string, log *slog.Logger) {
	if t.trends == nil {
		return
	}
	for _, tag := range tags {
		if err := t.trends.Bump(ctx, tag, item.Key); err != nil {
			log.Warn("trend update failed", "tag", tag, "error", err)
		}
	}
}
