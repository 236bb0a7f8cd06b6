package memory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tripshare/image-pipeline/pkg/imagepipeline"
	"github.com/tripshare/image-pipeline/pkg/imagepipeline/repo/memory"
)

func seed(repo *memory.Repository, articleID string) {
	repo.Put(imagepipeline.MediaRecord{
		ArticleID: articleID,
		OwnerID:   "owner-1",
		Status:    imagepipeline.StatusPending,
		ImageKey:  "articles/" + articleID + ".jpg",
	})
}

func TestMarkNotifiedClaimsOnce(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	seed(repo, "art1")

	claimed, err := repo.MarkNotified(ctx, "art1")
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = repo.MarkNotified(ctx, "art1")
	require.NoError(t, err)
	assert.False(t, claimed, "second claim must lose")

	record, err := repo.GetArticle(ctx, "art1")
	require.NoError(t, err)
	assert.True(t, record.Notified)
	assert.NotNil(t, record.NotifiedAt)
}

func TestMarkNotifiedMissingArticle(t *testing.T) {
	repo := memory.New()
	_, err := repo.MarkNotified(context.Background(), "nope")
	assert.ErrorIs(t, err, imagepipeline.ErrArticleNotFound)
}

func TestClearImageRefs(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	seed(repo, "art1")
	require.NoError(t, repo.SetThumbnailKeys(ctx, "art1", map[string]string{"small": "thumbnails/art1_256.jpg"}))

	require.NoError(t, repo.ClearImageRefs(ctx, "art1"))

	record, err := repo.GetArticle(ctx, "art1")
	require.NoError(t, err)
	assert.Empty(t, record.ImageKey)
	assert.Empty(t, record.ThumbnailKeys)
}

func TestSetModerationRepointsImageKey(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	seed(repo, "art1")

	quarantineKey := "quarantine/20260831/art1.jpg"
	require.NoError(t, repo.SetModeration(ctx, "art1",
		imagepipeline.ModerationDetails{Action: "quarantine", MaxSeverity: imagepipeline.SeverityHigh},
		imagepipeline.StatusQuarantined, &quarantineKey))

	record, err := repo.GetArticle(ctx, "art1")
	require.NoError(t, err)
	assert.Equal(t, imagepipeline.StatusQuarantined, record.Status)
	assert.Equal(t, quarantineKey, record.ImageKey)
	assert.NotNil(t, record.ModeratedAt)
}

func TestGetArticleReturnsCopy(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	seed(repo, "art1")

	record, err := repo.GetArticle(ctx, "art1")
	require.NoError(t, err)
	record.Status = imagepipeline.StatusRejected

	fresh, err := repo.GetArticle(ctx, "art1")
	require.NoError(t, err)
	assert.Equal(t, imagepipeline.StatusPending, fresh.Status, "caller mutations must not leak back")
}

func TestUpdatesRejectUnknownArticle(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()

	err := repo.SetTags(ctx, "nope", []string{"temple"}, nil)
	assert.ErrorIs(t, err, imagepipeline.ErrArticleNotFound)
}

func TestSavePhotoKeyedByPhotoID(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()

	require.NoError(t, repo.SavePhoto(ctx, imagepipeline.PhotoEntry{PhotoID: "articles/a_1.jpg", ArticleID: "a"}))
	require.NoError(t, repo.SavePhoto(ctx, imagepipeline.PhotoEntry{PhotoID: "articles/a_2.jpg", ArticleID: "a"}))
	require.NoError(t, repo.SavePhoto(ctx, imagepipeline.PhotoEntry{PhotoID: "articles/a_1.jpg", ArticleID: "a"}))

	assert.Len(t, repo.Photos(), 2, "same photo id upserts, distinct ids accumulate")
}
