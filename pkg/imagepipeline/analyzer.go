package imagepipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/nfnt/resize"
	"github.com/rwcarlsen/goexif/exif"

	"github.com/tripshare/image-pipeline/pkg/imagepipeline/objectkey"
)

// knownEditors are Software-tag substrings that mark an image as edited.
var knownEditors = []string{
	"photoshop",
	"lightroom",
	"gimp",
	"snapseed",
	"vsco",
	"affinity",
	"pixelmator",
	"luminar",
	"capture one",
	"darktable",
}

const (
	// colorSampleSize bounds the downsample used for the color histogram.
	colorSampleSize   = 150
	maxDominantColors = 5
)

// Analyzer enriches the media record with intrinsic image data. Every
// extraction is best-effort except the download and decode themselves: an
// image that cannot be read redelivers, an image without EXIF does not.
type Analyzer struct {
	blobs  BlobStore
	meta   MetadataStore
	next   Forwarder
	logger *slog.Logger
}

func NewAnalyzer(blobs BlobStore, meta MetadataStore, next Forwarder, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{blobs: blobs, meta: meta, next: next, logger: logger}
}

func (a *Analyzer) Name() string { return "analyzer" }

func (a *Analyzer) Process(ctx context.Context, item Item) error {
	log := a.logger.With("stage", a.Name(), "key", item.Key, "article_id", item.ArticleID)

	if item.ArticleID == "" {
		parsed, err := objectkey.Parse(item.Key)
		if err != nil {
			log.Warn("skipping object with unrecognized key", "error", err)
			return nil
		}
		item.ArticleID = parsed.ArticleID
	}

	rc, err := a.blobs.Download(ctx, item.Key)
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			log.Warn("object vanished before analysis")
			return nil
		}
		return &StageError{Stage: a.Name(), Key: item.Key, Err: err}
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return &StageError{Stage: a.Name(), Key: item.Key, Err: err}
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return &StageError{Stage: a.Name(), Key: item.Key, Err: fmt.Errorf("decode: %w", err)}
	}

	metadata := ImageMetadata{
		Colors:  dominantColors(img),
		Quality: qualityMetrics(img, format, int64(len(data))),
	}
	a.extractEXIF(data, &metadata, log)

	if err := a.meta.SetImageMetadata(ctx, item.ArticleID, metadata); err != nil {
		return &StageError{Stage: a.Name(), Key: item.Key, Err: err}
	}
	item.Source = a.Name()
	if err := a.next.Forward(ctx, item); err != nil {
		return &StageError{Stage: a.Name(), Key: item.Key, Err: err}
	}
	log.Info("image analyzed",
		"has_exif", metadata.HasEXIF,
		"has_gps", metadata.GPS != nil,
		"colors", len(metadata.Colors),
		"quality", metadata.Quality.Rating)
	return nil
}

// extractEXIF fills the EXIF-derived blocks. Broken or absent EXIF leaves
// the blocks nil; only the decode of the image itself is load-bearing.
func (a *Analyzer) extractEXIF(data []byte, metadata *ImageMetadata, log *slog.Logger) {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return
	}
	metadata.HasEXIF = true
	metadata.Camera = cameraInfo(x)
	metadata.GPS = gpsInfo(x)
	metadata.Editing = editingInfo(x)
	if metadata.Editing != nil && metadata.Editing.Edited {
		log.Debug("editing software detected", "software", metadata.Editing.Software)
	}
}

func cameraInfo(x *exif.Exif) *CameraInfo {
	info := &CameraInfo{
		Make:      exifString(x, exif.Make),
		Model:     exifString(x, exif.Model),
		Lens:      exifString(x, exif.LensModel),
		DateTaken: exifString(x, exif.DateTimeOriginal),
	}
	if num, den, ok := exifRat(x, exif.FNumber); ok && den != 0 {
		info.Aperture = fmt.Sprintf("f/%.1f", float64(num)/float64(den))
	}
	if num, den, ok := exifRat(x, exif.ExposureTime); ok && den != 0 {
		if num == 1 {
			info.ShutterSpeed = fmt.Sprintf("1/%ds", den)
		} else {
			info.ShutterSpeed = fmt.Sprintf("%.2fs", float64(num)/float64(den))
		}
	}
	if num, den, ok := exifRat(x, exif.FocalLength); ok && den != 0 {
		info.FocalLength = fmt.Sprintf("%.0fmm", float64(num)/float64(den))
	}
	if tag, err := x.Get(exif.ISOSpeedRatings); err == nil {
		if iso, err := tag.Int(0); err == nil {
			info.ISO = iso
		}
	}
	if *info == (CameraInfo{}) {
		return nil
	}
	return info
}

func gpsInfo(x *exif.Exif) *GPSInfo {
	lat, lon, err := x.LatLong()
	if err != nil {
		return nil
	}
	info := &GPSInfo{Latitude: lat, Longitude: lon}
	if num, den, ok := exifRat(x, exif.GPSAltitude); ok && den != 0 {
		info.Altitude = float64(num) / float64(den)
	}
	info.Timestamp = exifString(x, exif.GPSDateStamp)
	return info
}

func editingInfo(x *exif.Exif) *EditingInfo {
	software := exifString(x, exif.Software)
	if software == "" {
		return nil
	}
	lowered := strings.ToLower(software)
	for _, editor := range knownEditors {
		if strings.Contains(lowered, editor) {
			return &EditingInfo{Edited: true, Software: software}
		}
	}
	return &EditingInfo{Edited: false, Software: software}
}

func exifString(x *exif.Exif, field exif.FieldName) string {
	tag, err := x.Get(field)
	if err != nil {
		return ""
	}
	s, err := tag.StringVal()
	if err != nil {
		return strings.Trim(tag.String(), `"`)
	}
	return strings.TrimSpace(s)
}

func exifRat(x *exif.Exif, field exif.FieldName) (num, den int64, ok bool) {
	tag, err := x.Get(field)
	if err != nil {
		return 0, 0, false
	}
	num, den, err = tag.Rat2(0)
	if err != nil {
		return 0, 0, false
	}
	return num, den, true
}

// dominantColors builds a quantized histogram over a small downsample and
// returns the top buckets by pixel share.
func dominantColors(img image.Image) []DominantColor {
	small := resize.Thumbnail(colorSampleSize, colorSampleSize, img, resize.NearestNeighbor)
	bounds := small.Bounds()
	total := bounds.Dx() * bounds.Dy()
	if total == 0 {
		return nil
	}

	// 32-step quantization per channel keeps perceptually close pixels in
	// one bucket.
	const step = 32
	counts := make(map[[3]uint8]int)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := small.At(x, y).RGBA()
			q := [3]uint8{
				uint8(r>>8) / step * step,
				uint8(g>>8) / step * step,
				uint8(b>>8) / step * step,
			}
			counts[q]++
		}
	}

	buckets := make([][3]uint8, 0, len(counts))
	for q := range counts {
		buckets = append(buckets, q)
	}
	sort.Slice(buckets, func(i, j int) bool {
		ci, cj := counts[buckets[i]], counts[buckets[j]]
		if ci != cj {
			return ci > cj
		}
		return buckets[i][0] < buckets[j][0] // stable order for equal counts
	})

	n := len(buckets)
	if n > maxDominantColors {
		n = maxDominantColors
	}
	colors := make([]DominantColor, 0, n)
	for _, q := range buckets[:n] {
		colors = append(colors, DominantColor{
			Hex:        fmt.Sprintf("#%02x%02x%02x", q[0], q[1], q[2]),
			R:          q[0],
			G:          q[1],
			B:          q[2],
			Percentage: float64(counts[q]) / float64(total) * 100,
		})
	}
	return colors
}

func qualityMetrics(img image.Image, format string, fileSize int64) QualityMetrics {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	megapixels := float64(width) * float64(height) / 1e6

	rating := "low"
	switch {
	case megapixels >= 12:
		rating = "excellent"
	case megapixels >= 8:
		rating = "good"
	case megapixels >= 3:
		rating = "medium"
	}

	var aspect float64
	if height > 0 {
		aspect = float64(width) / float64(height)
	}
	return QualityMetrics{
		Width:       width,
		Height:      height,
		Megapixels:  megapixels,
		FileSize:    fileSize,
		AspectRatio: aspect,
		Format:      format,
		Rating:      rating,
	}
}
