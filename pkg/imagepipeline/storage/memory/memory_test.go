package memory_test

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tripshare/image-pipeline/pkg/imagepipeline"
	"github.com/tripshare/image-pipeline/pkg/imagepipeline/storage/memory"
)

func TestUploadDownloadRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := memory.New()

	require.NoError(t, b.Upload(ctx, "articles/a.jpg", bytes.NewReader([]byte("payload"))))

	rc, err := b.Download(ctx, "articles/a.jpg")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)
}

func TestDownloadMissing(t *testing.T) {
	b := memory.New()
	_, err := b.Download(context.Background(), "nope")
	assert.ErrorIs(t, err, imagepipeline.ErrObjectNotFound)
}

func TestUploadWithParamsStoresMeta(t *testing.T) {
	ctx := context.Background()
	b := memory.New()

	require.NoError(t, b.UploadWithParams(ctx, bytes.NewReader([]byte("jpeg bytes")), imagepipeline.UploadParams{
		ObjectKey:    "thumbnails/a_256.jpg",
		MimeType:     "image/jpeg",
		CacheControl: "public, max-age=31536000",
		Metadata:     map[string]string{"generated-from": "articles/a.jpg"},
	}))

	meta, err := b.GetObjectMeta(ctx, "thumbnails/a_256.jpg")
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", meta.ContentType)
	assert.EqualValues(t, 10, meta.Size)
	assert.Equal(t, "articles/a.jpg", meta.Metadata["generated-from"])
	assert.Equal(t, "public, max-age=31536000", meta.Metadata["cache-control"])
}

func TestCopyReplacesMetadataWhenGiven(t *testing.T) {
	ctx := context.Background()
	b := memory.New()

	require.NoError(t, b.UploadWithParams(ctx, bytes.NewReader([]byte("img")), imagepipeline.UploadParams{
		ObjectKey: "articles/a.jpg",
		MimeType:  "image/jpeg",
		Metadata:  map[string]string{"owner-email": "owner@example.com"},
	}))

	require.NoError(t, b.Copy(ctx, "articles/a.jpg", "quarantine/20260831/a.jpg",
		map[string]string{"reason": "explicit-content"}))

	meta, err := b.GetObjectMeta(ctx, "quarantine/20260831/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, "explicit-content", meta.Metadata["reason"])
	assert.NotContains(t, meta.Metadata, "owner-email", "replace directive drops source metadata")
	assert.Equal(t, "image/jpeg", meta.ContentType, "content type is carried over")
}

func TestCopyCarriesMetadataWhenNil(t *testing.T) {
	ctx := context.Background()
	b := memory.New()

	require.NoError(t, b.UploadWithParams(ctx, bytes.NewReader([]byte("img")), imagepipeline.UploadParams{
		ObjectKey: "articles/a.jpg",
		Metadata:  map[string]string{"owner-email": "owner@example.com"},
	}))

	require.NoError(t, b.Copy(ctx, "articles/a.jpg", "articles/b.jpg", nil))

	meta, err := b.GetObjectMeta(ctx, "articles/b.jpg")
	require.NoError(t, err)
	assert.Equal(t, "owner@example.com", meta.Metadata["owner-email"])
}

func TestCopyMissingSource(t *testing.T) {
	b := memory.New()
	err := b.Copy(context.Background(), "nope", "dest", nil)
	assert.ErrorIs(t, err, imagepipeline.ErrObjectNotFound)
}

func TestDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	b := memory.New()

	require.NoError(t, b.Upload(ctx, "articles/a.jpg", bytes.NewReader([]byte("x"))))
	require.NoError(t, b.Delete(ctx, "articles/a.jpg"))
	require.NoError(t, b.Delete(ctx, "articles/a.jpg"))
	assert.False(t, b.Exists("articles/a.jpg"))
}
