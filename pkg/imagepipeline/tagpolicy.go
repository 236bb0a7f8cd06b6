package imagepipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// Priority tier names in evaluation order. The first tier whose keyword
// matches wins, so a label never collects two boosts.
var tierOrder = []string{"critical", "high_priority", "medium_priority", "low_priority"}

// TagPolicy drives label scoring. The JSON shape matches the hosted policy
// document so operators can tune boosts without a deploy.
type TagPolicy struct {
	LabelPriorities map[string]PriorityTier `json:"label_priorities"`
	GenericPenalty  GenericPenalty          `json:"generic_penalties"`
	ExcludedLabels  KeywordSet              `json:"excluded_labels"`
	MinConfidence   ConfidenceOverrides     `json:"min_confidence_overrides"`
}

type PriorityTier struct {
	ScoreBoost float64  `json:"score_boost"`
	Keywords   []string `json:"keywords"`
}

type GenericPenalty struct {
	PenaltyScore float64  `json:"penalty_score"`
	Keywords     []string `json:"keywords"`
}

type KeywordSet struct {
	Keywords []string `json:"keywords"`
}

type ConfidenceOverrides struct {
	Rules []ConfidenceRule `json:"rules"`
}

type ConfidenceRule struct {
	Keyword       string  `json:"keyword"`
	MinConfidence float64 `json:"min_confidence"`
}

// DefaultTagPolicy is the compiled-in fallback used when the hosted policy
// cannot be loaded.
func DefaultTagPolicy() TagPolicy {
	return TagPolicy{
		LabelPriorities: map[string]PriorityTier{
			"critical": {
				ScoreBoost: 150,
				Keywords:   []string{"temple", "pagoda", "beach", "mountain", "waterfall", "monument", "landmark"},
			},
			"high_priority": {
				ScoreBoost: 100,
				Keywords:   []string{"lake", "ocean", "forest", "sunset", "architecture", "palace", "ruins"},
			},
			"medium_priority": {
				ScoreBoost: 50,
				Keywords:   []string{"city", "park", "garden", "animal", "boat", "food", "restaurant"},
			},
			"low_priority": {
				ScoreBoost: 0,
				Keywords:   []string{"person", "people", "clothing"},
			},
		},
		GenericPenalty: GenericPenalty{
			PenaltyScore: -30,
			Keywords:     []string{"outdoor", "nature", "indoors", "daylight"},
		},
		ExcludedLabels: KeywordSet{
			Keywords: []string{"mammal", "vertebrate", "adult"},
		},
	}
}

// Score computes a label's ranking score and the tier it matched. Keyword
// matching is substring, over a lowercased name supplied by the caller.
// ok=false means the label is excluded from tagging entirely.
func (p TagPolicy) Score(name string, confidence float64) (detail LabelDetail, ok bool) {
	for _, excluded := range p.ExcludedLabels.Keywords {
		if strings.Contains(name, excluded) {
			return LabelDetail{}, false
		}
	}

	score := confidence
	priority := "none"
	for _, tierName := range tierOrder {
		tier, exists := p.LabelPriorities[tierName]
		if !exists {
			continue
		}
		if containsAny(name, tier.Keywords) {
			score += tier.ScoreBoost
			priority = tierName
			break
		}
	}

	if containsAny(name, p.GenericPenalty.Keywords) {
		score += p.GenericPenalty.PenaltyScore
	}

	for _, rule := range p.MinConfidence.Rules {
		if strings.Contains(name, rule.Keyword) && confidence < rule.MinConfidence {
			return LabelDetail{}, false
		}
	}
	if score < 0 {
		return LabelDetail{}, false
	}

	return LabelDetail{Name: name, Confidence: confidence, Priority: priority, Score: score}, true
}

// Rank scores, filters, and orders detected labels, keeping the top max.
// Ordering is fully deterministic: score descending, name ascending on ties.
func (p TagPolicy) Rank(labels []DetectedLabel, max int) []LabelDetail {
	details := make([]LabelDetail, 0, len(labels))
	for _, label := range labels {
		detail, ok := p.Score(strings.ToLower(label.Name), label.Confidence)
		if !ok {
			continue
		}
		details = append(details, detail)
	}
	sort.SliceStable(details, func(i, j int) bool {
		if details[i].Score != details[j].Score {
			return details[i].Score > details[j].Score
		}
		return details[i].Name < details[j].Name
	})
	if len(details) > max {
		details = details[:max]
	}
	return details
}

func containsAny(name string, keywords []string) bool {
	for _, keyword := range keywords {
		if strings.Contains(name, keyword) {
			return true
		}
	}
	return false
}

// PolicyCache loads the hosted policy document once per process. A load
// failure falls back to the compiled-in default; it is not retried, matching
// the process-lifetime cache semantics of the stage runtime.
type PolicyCache struct {
	blobs  BlobStore
	key    string
	logger *slog.Logger

	once   sync.Once
	policy TagPolicy
}

// NewPolicyCache creates a cache reading the policy document at key. A nil
// blobs or empty key skips straight to the default policy.
func NewPolicyCache(blobs BlobStore, key string, logger *slog.Logger) *PolicyCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &PolicyCache{blobs: blobs, key: key, logger: logger}
}

// Policy returns the cached policy, loading it on first use.
func (c *PolicyCache) Policy(ctx context.Context) TagPolicy {
	c.once.Do(func() {
		policy, err := c.load(ctx)
		if err != nil {
			c.logger.Warn("tag policy unavailable, using default", "key", c.key, "error", err)
			policy = DefaultTagPolicy()
		}
		c.policy = policy
	})
	return c.policy
}

func (c *PolicyCache) load(ctx context.Context) (TagPolicy, error) {
	if c.blobs == nil || c.key == "" {
		return TagPolicy{}, ErrPolicyUnavailable
	}
	rc, err := c.blobs.Download(ctx, c.key)
	if err != nil {
		return TagPolicy{}, fmt.Errorf("%w: %v", ErrPolicyUnavailable, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return TagPolicy{}, fmt.Errorf("%w: %v", ErrPolicyUnavailable, err)
	}
	var policy TagPolicy
	if err := json.Unmarshal(data, &policy); err != nil {
		return TagPolicy{}, fmt.Errorf("%w: %v", ErrPolicyUnavailable, err)
	}
	if len(policy.LabelPriorities) == 0 {
		return TagPolicy{}, fmt.Errorf("%w: empty label_priorities", ErrPolicyUnavailable)
	}
	return policy, nil
}
