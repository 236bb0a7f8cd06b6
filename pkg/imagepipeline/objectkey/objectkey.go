// Package objectkey parses and builds the bucket key conventions shared by
// every pipeline stage, so all stages agree on which article an object
// belongs to.
package objectkey

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnsupportedKeyScheme indicates an object key that matches neither
// supported naming scheme. Treated as a hard parse error, not a best-effort
// guess.
var ErrUnsupportedKeyScheme = errors.New("unsupported object key scheme")

// Scheme identifies which key naming scheme a key followed.
type Scheme string

const (
	// SchemeSingle is articles/{articleId}.{ext}.
	SchemeSingle Scheme = "single"
	// SchemeMulti is articles/{articleId}_{imageId}.{ext}; the segment
	// before the first underscore is the article id.
	SchemeMulti Scheme = "multi"
)

// ArticlePrefix is the prefix of all primary image keys.
const ArticlePrefix = "articles/"

// ThumbnailPrefix is the prefix of all derivative keys.
const ThumbnailPrefix = "thumbnails/"

// QuarantinePrefix is the prefix of all quarantined originals.
const QuarantinePrefix = "quarantine/"

// Parsed is the tagged result of parsing a primary image key.
type Parsed struct {
	Scheme    Scheme
	ArticleID string
	ImageID   string // only for SchemeMulti
	Stem      string // filename without extension
	Filename  string
	Ext       string // lowercase, including the dot
}

// Parse parses a primary image key. An unrecognized scheme is a hard error
// rather than a best-effort guess, so a malformed key can never be
// attributed to the wrong article.
func Parse(key string) (Parsed, error) {
	if !strings.HasPrefix(key, ArticlePrefix) {
		return Parsed{}, fmt.Errorf("%w: %q lacks %q prefix", ErrUnsupportedKeyScheme, key, ArticlePrefix)
	}
	if strings.HasSuffix(key, "/") {
		return Parsed{}, fmt.Errorf("%w: %q is a directory marker", ErrUnsupportedKeyScheme, key)
	}

	filename := key[strings.LastIndex(key, "/")+1:]
	dot := strings.LastIndex(filename, ".")
	if dot <= 0 || dot == len(filename)-1 {
		return Parsed{}, fmt.Errorf("%w: %q has no extension", ErrUnsupportedKeyScheme, key)
	}

	stem := filename[:dot]
	ext := strings.ToLower(filename[dot:])

	p := Parsed{
		Scheme:    SchemeSingle,
		ArticleID: stem,
		Stem:      stem,
		Filename:  filename,
		Ext:       ext,
	}
	if i := strings.Index(stem, "_"); i >= 0 {
		p.Scheme = SchemeMulti
		p.ArticleID = stem[:i]
		p.ImageID = stem[i+1:]
	}
	if p.ArticleID == "" {
		return Parsed{}, fmt.Errorf("%w: %q has an empty article id", ErrUnsupportedKeyScheme, key)
	}
	return p, nil
}

// Thumbnail returns the derivative key for a given source stem and pixel
// dimension: thumbnails/{stem}_{size}.jpg.
func Thumbnail(stem string, size int) string {
	return fmt.Sprintf("%s%s_%d.jpg", ThumbnailPrefix, stem, size)
}

// Quarantine returns the quarantine destination for an original filename:
// quarantine/{yyyymmdd}/{filename}.
func Quarantine(t time.Time, filename string) string {
	return fmt.Sprintf("%s%s/%s", QuarantinePrefix, t.Format("20060102"), filename)
}
