// Package memory provides an in-memory implementation of the
// imagepipeline.BlobStore interface, used in tests and local development.
package memory

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/tripshare/image-pipeline/pkg/imagepipeline"
)

type object struct {
	data        []byte
	contentType string
	metadata    map[string]string
}

// Backend is an in-memory implementation of the imagepipeline.BlobStore interface
type Backend struct {
	mu      sync.RWMutex
	objects map[string]object
}

// New creates a new in-memory storage backend
func New() *Backend {
	return &Backend{objects: make(map[string]object)}
}

func (b *Backend) Download(ctx context.Context, objectKey string) (io.ReadCloser, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	obj, ok := b.objects[objectKey]
	if !ok {
		return nil, imagepipeline.ErrObjectNotFound
	}
	// Copy so a caller cannot mutate the stored bytes through the reader.
	data := make([]byte, len(obj.data))
	copy(data, obj.data)
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *Backend) Upload(ctx context.Context, objectKey string, reader io.Reader) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[objectKey] = object{data: data}
	return nil
}

func (b *Backend) UploadWithParams(ctx context.Context, reader io.Reader, params imagepipeline.UploadParams) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}

	metadata := make(map[string]string, len(params.Metadata))
	for k, v := range params.Metadata {
		metadata[k] = v
	}
	if params.CacheControl != "" {
		metadata["cache-control"] = params.CacheControl
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[params.ObjectKey] = object{
		data:        data,
		contentType: params.MimeType,
		metadata:    metadata,
	}
	return nil
}

// Delete removes an object. Deleting a missing key is a no-op.
func (b *Backend) Delete(ctx context.Context, objectKey string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, objectKey)
	return nil
}

func (b *Backend) Copy(ctx context.Context, sourceKey, destKey string, metadata map[string]string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	src, ok := b.objects[sourceKey]
	if !ok {
		return imagepipeline.ErrObjectNotFound
	}
	data := make([]byte, len(src.data))
	copy(data, src.data)

	dst := object{data: data, contentType: src.contentType}
	if metadata != nil {
		dst.metadata = make(map[string]string, len(metadata))
		for k, v := range metadata {
			dst.metadata[k] = v
		}
	} else {
		dst.metadata = make(map[string]string, len(src.metadata))
		for k, v := range src.metadata {
			dst.metadata[k] = v
		}
	}
	b.objects[destKey] = dst
	return nil
}

func (b *Backend) GetObjectMeta(ctx context.Context, objectKey string) (*imagepipeline.ObjectMeta, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	obj, ok := b.objects[objectKey]
	if !ok {
		return nil, imagepipeline.ErrObjectNotFound
	}

	contentType := obj.contentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	metadata := make(map[string]string, len(obj.metadata))
	for k, v := range obj.metadata {
		metadata[k] = v
	}

	return &imagepipeline.ObjectMeta{
		Key:         objectKey,
		Size:        int64(len(obj.data)),
		ContentType: contentType,
		Metadata:    metadata,
	}, nil
}

// SetObjectMetadata replaces the user metadata of an existing object. Test
// helper for exercising metadata-dependent paths.
func (b *Backend) SetObjectMetadata(objectKey string, metadata map[string]string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	obj, ok := b.objects[objectKey]
	if !ok {
		return imagepipeline.ErrObjectNotFound
	}
	obj.metadata = metadata
	b.objects[objectKey] = obj
	return nil
}

// Exists reports whether an object is present.
func (b *Backend) Exists(objectKey string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.objects[objectKey]
	return ok
}

// Keys returns all stored object keys.
func (b *Backend) Keys() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	keys := make([]string, 0, len(b.objects))
	for k := range b.objects {
		keys = append(keys, k)
	}
	return keys
}
