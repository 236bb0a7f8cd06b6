package imagepipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"io"
	"log/slog"

	"github.com/nfnt/resize"

	"github.com/tripshare/image-pipeline/pkg/imagepipeline/objectkey"
)

// ThumbnailSize is one derivative configuration: the bounding-box edge in
// pixels and the JPEG quality it is encoded at.
type ThumbnailSize struct {
	Name    string
	Pixels  int
	Quality int
}

// DefaultThumbnailSizes returns the production derivative set.
func DefaultThumbnailSizes() []ThumbnailSize {
	return []ThumbnailSize{
		{Name: "small", Pixels: 256, Quality: 85},
		{Name: "medium", Pixels: 512, Quality: 85},
		{Name: "large", Pixels: 1024, Quality: 90},
	}
}

// Thumbnailer generates JPEG derivatives. A size that fails is skipped, not
// fatal: readers treat a missing size key as "unavailable".
type Thumbnailer struct {
	blobs  BlobStore
	meta   MetadataStore
	next   Forwarder
	sizes  []ThumbnailSize
	logger *slog.Logger
}

func NewThumbnailer(blobs BlobStore, meta MetadataStore, next Forwarder, sizes []ThumbnailSize, logger *slog.Logger) *Thumbnailer {
	if logger == nil {
		logger = slog.Default()
	}
	if len(sizes) == 0 {
		sizes = DefaultThumbnailSizes()
	}
	return &Thumbnailer{blobs: blobs, meta: meta, next: next, sizes: sizes, logger: logger}
}

func (t *Thumbnailer) Name() string { return "thumbnailer" }

func (t *Thumbnailer) Process(ctx context.Context, item Item) error {
	log := t.logger.With("stage", t.Name(), "key", item.Key, "article_id", item.ArticleID)
	item.Source = t.Name()

	if item.Terminal {
		log.Info("terminal item, passing through")
		if err := t.next.Forward(ctx, item); err != nil {
			return &StageError{Stage: t.Name(), Key: item.Key, Err: err}
		}
		return nil
	}

	parsed, err := objectkey.Parse(item.Key)
	if err != nil {
		log.Warn("skipping object with unrecognized key", "error", err)
		return nil
	}
	if item.ArticleID == "" {
		item.ArticleID = parsed.ArticleID
	}

	rc, err := t.blobs.Download(ctx, item.Key)
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			log.Warn("object vanished before thumbnail generation")
			return nil
		}
		return &StageError{Stage: t.Name(), Key: item.Key, Err: err}
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return &StageError{Stage: t.Name(), Key: item.Key, Err: err}
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return &StageError{Stage: t.Name(), Key: item.Key, Err: fmt.Errorf("decode: %w", err)}
	}

	keys := map[string]string{}
	var derivativeBytes int64
	for _, size := range t.sizes {
		encoded, err := renderThumbnail(img, size)
		if err != nil {
			log.Warn("thumbnail render failed", "size", size.Name, "error", err)
			continue
		}
		key := objectkey.Thumbnail(parsed.Stem, size.Pixels)
		params := UploadParams{
			ObjectKey:    key,
			MimeType:     "image/jpeg",
			CacheControl: "public, max-age=31536000",
			Metadata: map[string]string{
				"generated-from": item.Key,
				"size":           size.Name,
			},
		}
		if err := t.blobs.UploadWithParams(ctx, bytes.NewReader(encoded), params); err != nil {
			log.Warn("thumbnail upload failed", "size", size.Name, "error", err)
			continue
		}
		keys[size.Name] = key
		derivativeBytes += int64(len(encoded))
	}

	if len(keys) > 0 {
		if err := t.meta.SetThumbnailKeys(ctx, item.ArticleID, keys); err != nil && !errors.Is(err, ErrArticleNotFound) {
			return &StageError{Stage: t.Name(), Key: item.Key, Err: err}
		}
	}
	if err := t.next.Forward(ctx, item); err != nil {
		return &StageError{Stage: t.Name(), Key: item.Key, Err: err}
	}

	ratio := 0.0
	if len(data) > 0 {
		ratio = float64(derivativeBytes) / float64(len(data))
	}
	log.Info("thumbnails generated",
		"sizes", len(keys),
		"original_bytes", len(data),
		"derivative_bytes", derivativeBytes,
		"compression_ratio", fmt.Sprintf("%.2f", ratio))
	return nil
}

// renderThumbnail produces a contain-fit JPEG. Transparency is flattened
// onto white because JPEG has no alpha channel.
func renderThumbnail(img image.Image, size ThumbnailSize) ([]byte, error) {
	scaled := resize.Thumbnail(uint(size.Pixels), uint(size.Pixels), img, resize.Lanczos3)

	bounds := scaled.Bounds()
	flattened := image.NewRGBA(bounds)
	draw.Draw(flattened, bounds, image.White, image.Point{}, draw.Src)
	draw.Draw(flattened, bounds, scaled, bounds.Min, draw.Over)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, flattened, &jpeg.Options{Quality: size.Quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
