package imagepipeline_test

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tripshare/image-pipeline/pkg/imagepipeline"
	repomemory "github.com/tripshare/image-pipeline/pkg/imagepipeline/repo/memory"
	blobmemory "github.com/tripshare/image-pipeline/pkg/imagepipeline/storage/memory"
)

// noiseJPEG renders a deterministic noisy JPEG. Noise keeps the encoded size
// well above the validator's minimum.
func noiseJPEG(t *testing.T, width, height int) []byte {
	t.Helper()
	rng := rand.New(rand.NewSource(42))
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8(rng.Intn(256)),
				G: uint8(rng.Intn(256)),
				B: uint8(rng.Intn(256)),
				A: 255,
			})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

// solidPNG renders a single-color PNG, optionally with transparency.
func solidPNG(t *testing.T, width, height int, c color.Color) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func seedBlob(t *testing.T, blobs *blobmemory.Backend, key string, data []byte) {
	t.Helper()
	require.NoError(t, blobs.Upload(context.Background(), key, bytes.NewReader(data)))
}

func seedRecord(repo *repomemory.Repository, articleID, ownerID, imageKey string) {
	repo.Put(imagepipeline.MediaRecord{
		ArticleID: articleID,
		OwnerID:   ownerID,
		Status:    imagepipeline.StatusPending,
		ImageKey:  imageKey,
	})
}

type sentMail struct {
	to      string
	subject string
	body    string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (m *fakeMailer) Send(ctx context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{to: to, subject: subject, body: body})
	return nil
}

func (m *fakeMailer) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type fakeAlerts struct {
	mu       sync.Mutex
	subjects []string
}

func (a *fakeAlerts) Alert(ctx context.Context, subject, message string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.subjects = append(a.subjects, subject)
	return nil
}

func (a *fakeAlerts) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.subjects)
}

type fakeModeration struct {
	findings []imagepipeline.ModerationFinding
	err      error
	calls    int
}

func (f *fakeModeration) DetectModeration(ctx context.Context, bucket, key string, minConfidence float64) ([]imagepipeline.ModerationFinding, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.findings, nil
}

type fakeLabels struct {
	labels []imagepipeline.DetectedLabel
	err    error
	calls  int
}

func (f *fakeLabels) DetectLabels(ctx context.Context, bucket, key string, minConfidence float64, maxLabels int) ([]imagepipeline.DetectedLabel, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.labels, nil
}

type fakeIdentity struct {
	emails map[string]string
}

func (f *fakeIdentity) Email(ctx context.Context, ownerID string) (string, error) {
	if email, ok := f.emails[ownerID]; ok {
		return email, nil
	}
	return "", imagepipeline.ErrOwnerNotFound
}

// captureForwarder records forwarded items.
type captureForwarder struct {
	mu    sync.Mutex
	items []imagepipeline.Item
}

func (c *captureForwarder) Forward(ctx context.Context, item imagepipeline.Item) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append(c.items, item)
	return nil
}

func (c *captureForwarder) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *captureForwarder) last() imagepipeline.Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.items[len(c.items)-1]
}
