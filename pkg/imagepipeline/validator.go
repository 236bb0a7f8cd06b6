package imagepipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"log/slog"

	"github.com/tripshare/image-pipeline/pkg/imagepipeline/objectkey"

	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// ValidatorConfig bounds what the validator accepts. Zero values are filled
// in by DefaultValidatorConfig.
type ValidatorConfig struct {
	AllowedExtensions []string
	MinFileSize       int64
	MaxFileSize       int64
	MinWidth          int
	MinHeight         int
	MaxWidth          int
	MaxHeight         int
	MinAspectRatio    float64
	MaxAspectRatio    float64

	// LowResolutionPixels is the total-pixel threshold below which a
	// passing image gets a warning attached.
	LowResolutionPixels int
}

// DefaultValidatorConfig returns the production bounds.
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		AllowedExtensions:   []string{".jpg", ".jpeg", ".png", ".webp"},
		MinFileSize:         10 * 1024,
		MaxFileSize:         10 * 1024 * 1024,
		MinWidth:            200,
		MinHeight:           200,
		MaxWidth:            8192,
		MaxHeight:           8192,
		MinAspectRatio:      0.33,
		MaxAspectRatio:      3.0,
		LowResolutionPixels: 100_000,
	}
}

// Validator gates uploads before any downstream work or spend. A rejected
// object is deleted immediately and never forwarded.
type Validator struct {
	blobs  BlobStore
	meta   MetadataStore
	next   Forwarder
	config ValidatorConfig
	logger *slog.Logger
}

func NewValidator(blobs BlobStore, meta MetadataStore, next Forwarder, config ValidatorConfig, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{blobs: blobs, meta: meta, next: next, config: config, logger: logger}
}

func (v *Validator) Name() string { return "validator" }

func (v *Validator) Process(ctx context.Context, item Item) error {
	log := v.logger.With("stage", v.Name(), "key", item.Key)

	parsed, err := objectkey.Parse(item.Key)
	if err != nil {
		// Not a pipeline object; retrying cannot change the key.
		log.Warn("skipping object with unrecognized key", "error", err)
		return nil
	}
	item.ArticleID = parsed.ArticleID
	log = log.With("article_id", parsed.ArticleID)

	details := ValidationDetails{Extension: parsed.Ext}

	data, err := v.download(ctx, item.Key)
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			log.Warn("object vanished before validation")
			return nil
		}
		return &StageError{Stage: v.Name(), Key: item.Key, Err: err}
	}
	details.FileSize = int64(len(data))

	if reason, check := v.check(parsed, data, &details); check != "" {
		return v.reject(ctx, log, item, details, check, reason)
	}

	details.Valid = true
	if err := v.meta.SetValidation(ctx, item.ArticleID, details, StatusValidated); err != nil {
		return &StageError{Stage: v.Name(), Key: item.Key, Err: err}
	}
	item.Source = v.Name()
	if err := v.next.Forward(ctx, item); err != nil {
		return &StageError{Stage: v.Name(), Key: item.Key, Err: err}
	}
	log.Info("image validated",
		"format", details.Format,
		"width", details.Width,
		"height", details.Height,
		"file_size", details.FileSize,
		"warnings", len(details.Warnings))
	return nil
}

// check runs the validation chain in order and returns the name of the first
// failing check plus a human-readable reason. It fills details as it goes so
// a rejection still records everything measured up to that point.
func (v *Validator) check(parsed objectkey.Parsed, data []byte, details *ValidationDetails) (reason, check string) {
	if !v.extensionAllowed(parsed.Ext) {
		return fmt.Sprintf("extension %s is not allowed", parsed.Ext), "extension"
	}

	size := int64(len(data))
	if size < v.config.MinFileSize {
		return fmt.Sprintf("file size %d below minimum %d", size, v.config.MinFileSize), "file_size"
	}
	if size > v.config.MaxFileSize {
		return fmt.Sprintf("file size %d above maximum %d", size, v.config.MaxFileSize), "file_size"
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return fmt.Sprintf("undecodable image: %v", err), "decode"
	}
	details.Format = format
	details.Width = cfg.Width
	details.Height = cfg.Height

	if cfg.Width < v.config.MinWidth || cfg.Height < v.config.MinHeight {
		return fmt.Sprintf("dimensions %dx%d below minimum %dx%d",
			cfg.Width, cfg.Height, v.config.MinWidth, v.config.MinHeight), "dimensions"
	}
	if cfg.Width > v.config.MaxWidth || cfg.Height > v.config.MaxHeight {
		return fmt.Sprintf("dimensions %dx%d above maximum %dx%d",
			cfg.Width, cfg.Height, v.config.MaxWidth, v.config.MaxHeight), "dimensions"
	}

	ratio := float64(cfg.Width) / float64(cfg.Height)
	details.AspectRatio = ratio
	if ratio < v.config.MinAspectRatio || ratio > v.config.MaxAspectRatio {
		return fmt.Sprintf("aspect ratio %.2f outside [%.2f, %.2f]",
			ratio, v.config.MinAspectRatio, v.config.MaxAspectRatio), "aspect_ratio"
	}

	if cfg.Width*cfg.Height < v.config.LowResolutionPixels {
		details.Warnings = append(details.Warnings, "low resolution")
	}
	switch cfg.ColorModel {
	case color.GrayModel, color.Gray16Model:
		details.Warnings = append(details.Warnings, "grayscale image")
	case color.NRGBAModel, color.NRGBA64Model, color.RGBAModel, color.RGBA64Model:
		if format == "png" || format == "webp" {
			details.Warnings = append(details.Warnings, "image may contain transparency")
		}
	}
	return "", ""
}

func (v *Validator) reject(ctx context.Context, log *slog.Logger, item Item, details ValidationDetails, check, reason string) error {
	details.Valid = false
	details.FailedCheck = check
	details.Error = reason

	if err := v.blobs.Delete(ctx, item.Key); err != nil {
		return &StageError{Stage: v.Name(), Key: item.Key, Err: err}
	}
	if err := v.meta.SetValidation(ctx, item.ArticleID, details, StatusRejected); err != nil && !errors.Is(err, ErrArticleNotFound) {
		return &StageError{Stage: v.Name(), Key: item.Key, Err: err}
	}
	// The object is gone; a rejected record must not keep pointing at it.
	if err := v.meta.ClearImageRefs(ctx, item.ArticleID); err != nil && !errors.Is(err, ErrArticleNotFound) {
		return &StageError{Stage: v.Name(), Key: item.Key, Err: err}
	}
	log.Info("image rejected", "failed_check", check, "reason", reason)
	return nil
}

func (v *Validator) extensionAllowed(ext string) bool {
	for _, allowed := range v.config.AllowedExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

func (v *Validator) download(ctx context.Context, key string) ([]byte, error) {
	rc, err := v.blobs.Download(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
