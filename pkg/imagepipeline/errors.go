package imagepipeline

import (
	"errors"
	"fmt"

	"github.com/tripshare/image-pipeline/pkg/imagepipeline/objectkey"
)

// Error types
var (
	// ErrArticleNotFound indicates the media record is missing from the
	// metadata store. Stages treat this as a soft failure: retrying
	// cannot repair permanently missing data.
	ErrArticleNotFound = errors.New("article not found")

	// ErrObjectNotFound indicates the object is missing from storage.
	ErrObjectNotFound = errors.New("object not found")

	// ErrOwnerNotFound indicates the owner could not be resolved to an
	// email address through any configured lookup.
	ErrOwnerNotFound = errors.New("owner email not found")

	// ErrUnsupportedKeyScheme re-exports the objectkey sentinel so callers
	// holding only this package can still match parse failures.
	ErrUnsupportedKeyScheme = objectkey.ErrUnsupportedKeyScheme

	// ErrUnsupportedImage indicates the external vision service rejected
	// the image format or size.
	ErrUnsupportedImage = errors.New("unsupported image for detection")

	// ErrPolicyUnavailable indicates the hosted tag-priority policy could
	// not be loaded; callers fall back to the compiled-in default.
	ErrPolicyUnavailable = errors.New("tag policy unavailable")
)

// StageError wraps a failure of one pipeline stage for one item.
type StageError struct {
	Stage string
	Key   string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed for %s: %v", e.Stage, e.Key, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// StorageError wraps a failure of an object storage operation.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation %s failed for key %s: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
