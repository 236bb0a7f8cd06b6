// Package fs provides a filesystem implementation of the
// imagepipeline.BlobStore interface, used for local development.
package fs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/tripshare/image-pipeline/pkg/imagepipeline"
)

// metaSuffix is appended to the object path for the sidecar file holding
// user metadata. The suffix contains a character object keys never do.
const metaSuffix = ".meta.json"

// Config options for the filesystem backend
type Config struct {
	BaseDir string // Base directory for storing files
}

// Backend is a filesystem implementation of the imagepipeline.BlobStore interface
type Backend struct {
	mu      sync.RWMutex
	baseDir string
}

// New creates a new filesystem storage backend
func New(config Config) (*Backend, error) {
	if config.BaseDir == "" {
		return nil, errors.New("base directory is required")
	}

	if err := os.MkdirAll(config.BaseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &Backend{baseDir: config.BaseDir}, nil
}

// Download retrieves an object from the filesystem
func (b *Backend) Download(ctx context.Context, objectKey string) (io.ReadCloser, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	file, err := os.Open(filepath.Join(b.baseDir, objectKey))
	if os.IsNotExist(err) {
		return nil, imagepipeline.ErrObjectNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return file, nil
}

// Upload uploads content directly to the filesystem
func (b *Backend) Upload(ctx context.Context, objectKey string, reader io.Reader) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.write(objectKey, reader)
}

// UploadWithParams uploads content and stores the user metadata in a sidecar
// file next to the object.
func (b *Backend) UploadWithParams(ctx context.Context, reader io.Reader, params imagepipeline.UploadParams) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.write(params.ObjectKey, reader); err != nil {
		return err
	}
	if len(params.Metadata) > 0 {
		if err := b.writeMeta(params.ObjectKey, params.Metadata); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes an object and its metadata sidecar. Deleting a missing key
// is a no-op.
func (b *Backend) Delete(ctx context.Context, objectKey string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	filePath := filepath.Join(b.baseDir, objectKey)
	if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	if err := os.Remove(filePath + metaSuffix); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete metadata: %w", err)
	}
	return nil
}

// Copy copies an object within the base directory, replacing the copy's
// metadata when a map is given.
func (b *Backend) Copy(ctx context.Context, sourceKey, destKey string, metadata map[string]string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	src, err := os.Open(filepath.Join(b.baseDir, sourceKey))
	if os.IsNotExist(err) {
		return imagepipeline.ErrObjectNotFound
	} else if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer src.Close()

	if err := b.write(destKey, src); err != nil {
		return err
	}
	if metadata != nil {
		return b.writeMeta(destKey, metadata)
	}
	if meta, err := b.readMeta(sourceKey); err == nil && len(meta) > 0 {
		return b.writeMeta(destKey, meta)
	}
	return nil
}

// GetObjectMeta retrieves metadata for an object in the filesystem
func (b *Backend) GetObjectMeta(ctx context.Context, objectKey string) (*imagepipeline.ObjectMeta, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	filePath := filepath.Join(b.baseDir, objectKey)

	info, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		return nil, imagepipeline.ErrObjectNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to get file info: %w", err)
	}

	// Detect content type from the leading bytes
	contentType := "application/octet-stream"
	if file, err := os.Open(filePath); err == nil {
		defer file.Close()
		buffer := make([]byte, 512)
		if n, err := file.Read(buffer); err == nil {
			contentType = http.DetectContentType(buffer[:n])
		}
	}

	metadata, err := b.readMeta(objectKey)
	if err != nil {
		metadata = map[string]string{}
	}

	return &imagepipeline.ObjectMeta{
		Key:         objectKey,
		Size:        info.Size(),
		ContentType: contentType,
		Metadata:    metadata,
	}, nil
}

func (b *Backend) write(objectKey string, reader io.Reader) error {
	filePath := filepath.Join(b.baseDir, objectKey)

	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, reader); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

func (b *Backend) writeMeta(objectKey string, metadata map[string]string) error {
	data, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(b.baseDir, objectKey)+metaSuffix, data, 0644); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	return nil
}

func (b *Backend) readMeta(objectKey string) (map[string]string, error) {
	data, err := os.ReadFile(filepath.Join(b.baseDir, objectKey) + metaSuffix)
	if err != nil {
		return nil, err
	}
	var metadata map[string]string
	if err := json.Unmarshal(data, &metadata); err != nil {
		return nil, err
	}
	return metadata, nil
}
