package imagepipeline_test

import (
	"bytes"
	"context"
	"image"
	"image/color"
	_ "image/jpeg"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tripshare/image-pipeline/pkg/imagepipeline"
	repomemory "github.com/tripshare/image-pipeline/pkg/imagepipeline/repo/memory"
	blobmemory "github.com/tripshare/image-pipeline/pkg/imagepipeline/storage/memory"
)

func newThumbnailerFixture(t *testing.T) (*imagepipeline.Thumbnailer, *blobmemory.Backend, *repomemory.Repository, *captureForwarder) {
	t.Helper()
	blobs := blobmemory.New()
	repo := repomemory.New()
	next := &captureForwarder{}
	th := imagepipeline.NewThumbnailer(blobs, repo, next, imagepipeline.DefaultThumbnailSizes(), nil)
	return th, blobs, repo, next
}

func TestThumbnailerGeneratesAllSizes(t *testing.T) {
	th, blobs, repo, next := newThumbnailerFixture(t)

	key := "articles/art1.jpg"
	seedRecord(repo, "art1", "owner1", key)
	seedBlob(t, blobs, key, noiseJPEG(t, 1200, 900))

	err := th.Process(context.Background(), imagepipeline.Item{Bucket: "media", Key: key, ArticleID: "art1"})
	require.NoError(t, err)

	record, err := repo.GetArticle(context.Background(), "art1")
	require.NoError(t, err)
	require.Len(t, record.ThumbnailKeys, 3)
	assert.Equal(t, "thumbnails/art1_256.jpg", record.ThumbnailKeys["small"])
	assert.Equal(t, "thumbnails/art1_512.jpg", record.ThumbnailKeys["medium"])
	assert.Equal(t, "thumbnails/art1_1024.jpg", record.ThumbnailKeys["large"])

	// Derivatives decode as JPEG, fit the bounding box, and preserve the
	// 4:3 aspect ratio.
	rc, err := blobs.Download(context.Background(), "thumbnails/art1_256.jpg")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	rc.Close()

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 256, cfg.Width)
	assert.Equal(t, 192, cfg.Height)

	meta, err := blobs.GetObjectMeta(context.Background(), "thumbnails/art1_256.jpg")
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", meta.ContentType)
	assert.Equal(t, "public, max-age=31536000", meta.Metadata["cache-control"])
	assert.Equal(t, key, meta.Metadata["generated-from"])

	require.Equal(t, 1, next.count())
}

func TestThumbnailerMultiImageKeyScheme(t *testing.T) {
	th, blobs, repo, _ := newThumbnailerFixture(t)

	key := "articles/art1_img2.jpg"
	seedRecord(repo, "art1", "owner1", key)
	seedBlob(t, blobs, key, noiseJPEG(t, 600, 600))

	require.NoError(t, th.Process(context.Background(), imagepipeline.Item{Bucket: "media", Key: key, ArticleID: "art1"}))

	assert.True(t, blobs.Exists("thumbnails/art1_img2_256.jpg"))
	assert.True(t, blobs.Exists("thumbnails/art1_img2_512.jpg"))
}

func TestThumbnailerFlattensTransparencyOntoWhite(t *testing.T) {
	th, blobs, repo, _ := newThumbnailerFixture(t)

	key := "articles/art1.png"
	seedRecord(repo, "art1", "owner1", key)
	seedBlob(t, blobs, key, solidPNG(t, 512, 512, color.NRGBA{A: 0}))

	require.NoError(t, th.Process(context.Background(), imagepipeline.Item{Bucket: "media", Key: key, ArticleID: "art1"}))

	rc, err := blobs.Download(context.Background(), "thumbnails/art1_256.jpg")
	require.NoError(t, err)
	img, _, err := image.Decode(rc)
	rc.Close()
	require.NoError(t, err)

	r, g, b, _ := img.At(img.Bounds().Dx()/2, img.Bounds().Dy()/2).RGBA()
	assert.Greater(t, r>>8, uint32(240), "fully transparent pixels flatten to white")
	assert.Greater(t, g>>8, uint32(240))
	assert.Greater(t, b>>8, uint32(240))
}

// Terminal items produce no storage work at all.
func TestThumbnailerPassesTerminalThrough(t *testing.T) {
	th, blobs, _, next := newThumbnailerFixture(t)

	item := imagepipeline.Item{Bucket: "media", Key: "articles/art1.jpg", ArticleID: "art1", Terminal: true}
	require.NoError(t, th.Process(context.Background(), item))

	assert.Empty(t, blobs.Keys())
	require.Equal(t, 1, next.count())
	assert.True(t, next.last().Terminal)
	assert.Equal(t, "thumbnailer", next.last().Source)
}

func TestThumbnailerSkipsMissingObject(t *testing.T) {
	th, _, _, next := newThumbnailerFixture(t)
	require.NoError(t, th.Process(context.Background(), imagepipeline.Item{Bucket: "media", Key: "articles/gone.jpg", ArticleID: "gone"}))
	assert.Equal(t, 0, next.count())
}
