package imagepipeline_test

import (
	"context"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tripshare/image-pipeline/pkg/imagepipeline"
	repomemory "github.com/tripshare/image-pipeline/pkg/imagepipeline/repo/memory"
	blobmemory "github.com/tripshare/image-pipeline/pkg/imagepipeline/storage/memory"
)

func TestAnalyzerExtractsMetadata(t *testing.T) {
	blobs := blobmemory.New()
	repo := repomemory.New()
	next := &captureForwarder{}
	a := imagepipeline.NewAnalyzer(blobs, repo, next, nil)

	key := "articles/art1.jpg"
	seedRecord(repo, "art1", "owner1", key)
	seedBlob(t, blobs, key, noiseJPEG(t, 1200, 900))

	err := a.Process(context.Background(), imagepipeline.Item{Bucket: "media", Key: key, ArticleID: "art1"})
	require.NoError(t, err)

	record, err := repo.GetArticle(context.Background(), "art1")
	require.NoError(t, err)
	assert.Equal(t, imagepipeline.StatusAnalyzed, record.Status)
	require.NotNil(t, record.ImageMetadata)

	meta := record.ImageMetadata
	assert.False(t, meta.HasEXIF)
	assert.Nil(t, meta.GPS)
	assert.Equal(t, 1200, meta.Quality.Width)
	assert.Equal(t, 900, meta.Quality.Height)
	assert.InDelta(t, 1.08, meta.Quality.Megapixels, 0.01)
	assert.Equal(t, "low", meta.Quality.Rating)
	assert.NotEmpty(t, meta.Colors)
	assert.LessOrEqual(t, len(meta.Colors), 5)

	require.Equal(t, 1, next.count())
	assert.Equal(t, "analyzer", next.last().Source)
}

func TestAnalyzerDominantColorOfSolidImage(t *testing.T) {
	blobs := blobmemory.New()
	repo := repomemory.New()
	next := &captureForwarder{}
	a := imagepipeline.NewAnalyzer(blobs, repo, next, nil)

	key := "articles/art1.png"
	seedRecord(repo, "art1", "owner1", key)
	seedBlob(t, blobs, key, solidPNG(t, 400, 400, color.NRGBA{R: 224, G: 32, B: 64, A: 255}))

	require.NoError(t, a.Process(context.Background(), imagepipeline.Item{Bucket: "media", Key: key, ArticleID: "art1"}))

	record, err := repo.GetArticle(context.Background(), "art1")
	require.NoError(t, err)
	require.NotEmpty(t, record.ImageMetadata.Colors)

	top := record.ImageMetadata.Colors[0]
	assert.InDelta(t, 100, top.Percentage, 0.5, "a solid image has one bucket covering everything")
	// 32-step quantization floors each channel.
	assert.Equal(t, "#e02040", top.Hex)
}

func TestAnalyzerQualityRatings(t *testing.T) {
	tests := []struct {
		width, height int
		rating        string
	}{
		{4200, 3000, "excellent"}, // 12.6 MP
		{3500, 2500, "good"},      // 8.75 MP
		{2200, 1500, "medium"},    // 3.3 MP
		{800, 600, "low"},
	}
	for _, tt := range tests {
		t.Run(tt.rating, func(t *testing.T) {
			blobs := blobmemory.New()
			repo := repomemory.New()
			a := imagepipeline.NewAnalyzer(blobs, repo, &captureForwarder{}, nil)

			key := "articles/art1.png"
			seedRecord(repo, "art1", "owner1", key)
			seedBlob(t, blobs, key, solidPNG(t, tt.width, tt.height, color.NRGBA{R: 100, G: 150, B: 200, A: 255}))

			require.NoError(t, a.Process(context.Background(), imagepipeline.Item{Bucket: "media", Key: key, ArticleID: "art1"}))

			record, err := repo.GetArticle(context.Background(), "art1")
			require.NoError(t, err)
			assert.Equal(t, tt.rating, record.ImageMetadata.Quality.Rating)
		})
	}
}

// An unreadable object is a hard failure so the item redelivers.
func TestAnalyzerFailsOnCorruptImage(t *testing.T) {
	blobs := blobmemory.New()
	repo := repomemory.New()
	next := &captureForwarder{}
	a := imagepipeline.NewAnalyzer(blobs, repo, next, nil)

	key := "articles/art1.jpg"
	seedRecord(repo, "art1", "owner1", key)
	seedBlob(t, blobs, key, []byte("corrupt bytes"))

	err := a.Process(context.Background(), imagepipeline.Item{Bucket: "media", Key: key, ArticleID: "art1"})
	require.Error(t, err)

	var stageErr *imagepipeline.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, "analyzer", stageErr.Stage)
	assert.Equal(t, 0, next.count())
}

func TestAnalyzerSkipsMissingObject(t *testing.T) {
	a := imagepipeline.NewAnalyzer(blobmemory.New(), repomemory.New(), &captureForwarder{}, nil)
	err := a.Process(context.Background(), imagepipeline.Item{Bucket: "media", Key: "articles/gone.jpg", ArticleID: "gone"})
	require.NoError(t, err)
}
