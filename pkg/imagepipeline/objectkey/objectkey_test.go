package objectkey_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tripshare/image-pipeline/pkg/imagepipeline/objectkey"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		key  string
		want objectkey.Parsed
	}{
		{
			name: "single image scheme",
			key:  "articles/abc123.jpg",
			want: objectkey.Parsed{
				Scheme:    objectkey.SchemeSingle,
				ArticleID: "abc123",
				Stem:      "abc123",
				Filename:  "abc123.jpg",
				Ext:       ".jpg",
			},
		},
		{
			name: "multi image scheme",
			key:  "articles/abc123_img9.png",
			want: objectkey.Parsed{
				Scheme:    objectkey.SchemeMulti,
				ArticleID: "abc123",
				ImageID:   "img9",
				Stem:      "abc123_img9",
				Filename:  "abc123_img9.png",
				Ext:       ".png",
			},
		},
		{
			name: "article id stops at first underscore",
			key:  "articles/abc_img_2.jpg",
			want: objectkey.Parsed{
				Scheme:    objectkey.SchemeMulti,
				ArticleID: "abc",
				ImageID:   "img_2",
				Stem:      "abc_img_2",
				Filename:  "abc_img_2.jpg",
				Ext:       ".jpg",
			},
		},
		{
			name: "extension lowercased",
			key:  "articles/xyz.JPEG",
			want: objectkey.Parsed{
				Scheme:    objectkey.SchemeSingle,
				ArticleID: "xyz",
				Stem:      "xyz",
				Filename:  "xyz.JPEG",
				Ext:       ".jpeg",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := objectkey.Parse(tt.key)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseRejectsUnknownSchemes(t *testing.T) {
	keys := []string{
		"thumbnails/abc123_256.jpg",
		"quarantine/20260101/abc.jpg",
		"articles/",
		"articles/noext",
		"articles/.jpg",
		"articles/sub/",
		"config/label_priority_config.json",
	}
	for _, key := range keys {
		_, err := objectkey.Parse(key)
		require.Error(t, err, "key %q", key)
		assert.True(t, errors.Is(err, objectkey.ErrUnsupportedKeyScheme), "key %q", key)
	}
}

func TestThumbnail(t *testing.T) {
	assert.Equal(t, "thumbnails/abc123_256.jpg", objectkey.Thumbnail("abc123", 256))
	assert.Equal(t, "thumbnails/abc_img1_1024.jpg", objectkey.Thumbnail("abc_img1", 1024))
}

func TestQuarantine(t *testing.T) {
	ts := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, "quarantine/20260314/abc123.jpg", objectkey.Quarantine(ts, "abc123.jpg"))
}
