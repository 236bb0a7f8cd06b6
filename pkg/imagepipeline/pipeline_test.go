package imagepipeline_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tripshare/image-pipeline/pkg/imagepipeline"
	queuememory "github.com/tripshare/image-pipeline/pkg/imagepipeline/queue/memory"
	repomemory "github.com/tripshare/image-pipeline/pkg/imagepipeline/repo/memory"
	blobmemory "github.com/tripshare/image-pipeline/pkg/imagepipeline/storage/memory"
	trendmemory "github.com/tripshare/image-pipeline/pkg/imagepipeline/trend/memory"
)

// pipelineFixture chains all six stages through in-memory queues, the same
// topology the worker binaries form in production.
type pipelineFixture struct {
	blobs      *blobmemory.Backend
	repo       *repomemory.Repository
	trends     *trendmemory.Store
	mailer     *fakeMailer
	alerts     *fakeAlerts
	moderation *fakeModeration
	labels     *fakeLabels

	stages []imagepipeline.Stage
	queues []*queuememory.Queue
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	f := &pipelineFixture{
		blobs:      blobmemory.New(),
		repo:       repomemory.New(),
		trends:     trendmemory.New(),
		mailer:     &fakeMailer{},
		alerts:     &fakeAlerts{},
		moderation: &fakeModeration{},
		labels:     &fakeLabels{},
	}

	f.queues = make([]*queuememory.Queue, 6)
	for i := range f.queues {
		f.queues[i] = queuememory.New(10)
	}

	policy := imagepipeline.NewPolicyCache(f.blobs, "config/label_priority_config.json", nil)
	f.stages = []imagepipeline.Stage{
		imagepipeline.NewValidator(f.blobs, f.repo, f.queues[1], imagepipeline.DefaultValidatorConfig(), nil),
		imagepipeline.NewAnalyzer(f.blobs, f.repo, f.queues[2], nil),
		imagepipeline.NewModerator(f.blobs, f.repo, f.repo, nil, f.moderation, f.mailer, f.alerts, f.queues[3],
			imagepipeline.ModeratorConfig{MinConfidence: 75, ThumbnailSizes: []int{256, 512, 1024}}, nil),
		imagepipeline.NewTagger(f.labels, f.repo, f.repo, f.trends, policy, f.queues[4],
			imagepipeline.TaggerConfig{MinConfidence: 70, RequestLabels: 20, MaxTags: 5}, nil),
		imagepipeline.NewThumbnailer(f.blobs, f.repo, f.queues[5], nil, nil),
		imagepipeline.NewNotifier(f.repo, f.repo, nil, f.mailer,
			imagepipeline.NotifierConfig{PublicBaseURL: "https://cdn.tripshare.example"}, nil),
	}
	return f
}

// run pushes the item into the first queue and drains every stage in order.
// The flow is linear, so one ordered pass empties the whole chain.
func (f *pipelineFixture) run(t *testing.T, item imagepipeline.Item) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.queues[0].Forward(ctx, item))

	for i, stage := range f.stages {
		for {
			msgs, err := f.queues[i].Receive(ctx)
			require.NoError(t, err)
			if len(msgs) == 0 {
				break
			}
			for _, msg := range msgs {
				require.NoError(t, stage.Process(ctx, msg.Item), "stage %s", stage.Name())
				require.NoError(t, f.queues[i].Ack(ctx, msg))
			}
		}
	}
}

func TestPipelineApprovalFlow(t *testing.T) {
	f := newPipelineFixture(t)
	const key = "articles/art1_photo.jpg"

	seedBlob(t, f.blobs, key, noiseJPEG(t, 1200, 900))
	seedRecord(f.repo, "art1", "owner-1", key)
	f.repo.SetOwnerEmail("owner-1", "owner@example.com")
	f.labels.labels = []imagepipeline.DetectedLabel{
		{Name: "Temple", Confidence: 92},
		{Name: "Sunset", Confidence: 88},
		{Name: "Outdoor", Confidence: 70},
	}

	f.run(t, imagepipeline.Item{Key: key})

	record, err := f.repo.GetArticle(context.Background(), "art1")
	require.NoError(t, err)

	assert.Equal(t, imagepipeline.StatusApproved, record.Status)
	assert.Equal(t, key, record.ImageKey)
	require.NotNil(t, record.Validation)
	assert.True(t, record.Validation.Valid)
	require.NotNil(t, record.ImageMetadata)
	assert.Equal(t, 1200, record.ImageMetadata.Quality.Width)
	assert.Equal(t, []string{"temple", "sunset", "outdoor"}, record.AutoTags)

	require.Len(t, record.ThumbnailKeys, 3)
	for _, thumbKey := range record.ThumbnailKeys {
		assert.True(t, f.blobs.Exists(thumbKey), "missing derivative %s", thumbKey)
	}
	assert.True(t, f.blobs.Exists(key), "approved original must survive")

	assert.EqualValues(t, 1, f.trends.Record("temple").Count)
	assert.Equal(t, key, f.trends.Record("temple").CoverImage)

	assert.True(t, record.Notified)
	require.Equal(t, 1, f.mailer.sentCount())
	assert.Equal(t, "owner@example.com", f.mailer.sent[0].to)
	assert.Equal(t, "Your photo is live", f.mailer.sent[0].subject)
	assert.Zero(t, f.alerts.count())
}

func TestPipelineModerationRejection(t *testing.T) {
	f := newPipelineFixture(t)
	const key = "articles/art2.jpg"

	seedBlob(t, f.blobs, key, noiseJPEG(t, 1200, 900))
	seedRecord(f.repo, "art2", "owner-2", key)
	f.repo.SetOwnerEmail("owner-2", "owner2@example.com")
	f.moderation.findings = []imagepipeline.ModerationFinding{
		{Category: "Explicit Nudity", Label: "Nudity", Confidence: 96},
	}

	f.run(t, imagepipeline.Item{Key: key})

	record, err := f.repo.GetArticle(context.Background(), "art2")
	require.NoError(t, err)

	assert.Equal(t, imagepipeline.StatusRejected, record.Status)
	assert.Empty(t, record.ImageKey)
	assert.False(t, f.blobs.Exists(key), "rejected original must be deleted")
	assert.Empty(t, record.AutoTags)
	assert.Empty(t, record.ThumbnailKeys)

	// Terminal items skip tagging and thumbnailing entirely.
	assert.Zero(t, f.labels.calls)
	for _, k := range f.blobs.Keys() {
		assert.NotContains(t, k, "thumbnails/")
	}

	assert.True(t, record.Notified)
	require.Equal(t, 1, f.mailer.sentCount(), "exactly one rejection email across the whole run")
	assert.Equal(t, "owner2@example.com", f.mailer.sent[0].to)
	assert.Contains(t, f.mailer.sent[0].subject, "could not be published")
	assert.Equal(t, 1, f.alerts.count())
}

func TestPipelineValidationRejection(t *testing.T) {
	f := newPipelineFixture(t)
	const key = "articles/art3.jpg"

	seedBlob(t, f.blobs, key, noiseJPEG(t, 50, 50))
	seedRecord(f.repo, "art3", "owner-3", key)
	f.repo.SetOwnerEmail("owner-3", "owner3@example.com")

	f.run(t, imagepipeline.Item{Key: key})

	record, err := f.repo.GetArticle(context.Background(), "art3")
	require.NoError(t, err)

	assert.Equal(t, imagepipeline.StatusRejected, record.Status)
	require.NotNil(t, record.Validation)
	assert.False(t, record.Validation.Valid)
	assert.Empty(t, record.ImageKey)
	assert.False(t, f.blobs.Exists(key))

	// Nothing moves past the validator.
	assert.Zero(t, f.moderation.calls)
	assert.Zero(t, f.labels.calls)
	assert.Zero(t, f.mailer.sentCount())
	assert.Zero(t, f.alerts.count())
	assert.Empty(t, f.blobs.Keys())
}
