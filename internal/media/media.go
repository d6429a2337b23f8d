// Package media stores downloaded message attachments on disk and maps them
// to the public URLs embedded in persisted message bodies.
package media

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// PublicPrefix is the URL path prefix the HTTP layer serves the media
// directory under.
const PublicPrefix = "/media"

// File describes a stored attachment.
type File struct {
	// Filename is the on-disk name inside the media directory.
	Filename string
	// PublicURL is the path clients fetch the file from.
	PublicURL string
}

// Store writes attachments into a single flat directory.
type Store struct {
	dir string
}

// NewStore creates the media directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the directory the store writes into.
func (s *Store) Dir() string { return s.dir }

// Save writes data under a collision-free name derived from nameBase and the
// MIME type and returns where it landed.
func (s *Store) Save(data []byte, mimeType, nameBase string) (*File, error) {
	base := sanitize(nameBase)
	if base == "" {
		base = "file"
	}
	name := fmt.Sprintf("%s_%s%s", base, uuid.NewString()[:8], ExtFromMime(mimeType))
	if err := os.WriteFile(filepath.Join(s.dir, name), data, 0o644); err != nil {
		return nil, fmt.Errorf("write media file: %w", err)
	}
	return &File{Filename: name, PublicURL: PublicPrefix + "/" + name}, nil
}

// Remove deletes a stored file. Missing files are not an error.
func (s *Store) Remove(filename string) error {
	err := os.Remove(filepath.Join(s.dir, filepath.Base(filename)))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func sanitize(name string) string {
	name = filepath.Base(name)
	name = strings.TrimSuffix(name, filepath.Ext(name))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return strings.Trim(b.String(), "_")
}

var mimeExt = map[string]string{
	"image/jpeg":         ".jpg",
	"image/png":          ".png",
	"image/gif":          ".gif",
	"image/webp":         ".webp",
	"audio/ogg":          ".ogg",
	"audio/mpeg":         ".mp3",
	"audio/mp4":          ".m4a",
	"video/mp4":          ".mp4",
	"video/3gpp":         ".3gp",
	"application/pdf":    ".pdf",
	"text/plain":         ".txt",
	"text/vcard":         ".vcf",
	"application/msword": ".doc",
}

// ExtFromMime maps a MIME type to a file extension. Parameters after a
// semicolon are ignored. Unknown types get ".bin".
func ExtFromMime(mimeType string) string {
	mimeType = strings.TrimSpace(strings.ToLower(mimeType))
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	if ext, ok := mimeExt[mimeType]; ok {
		return ext
	}
	return ".bin"
}

// TypeFromMime returns the coarse attachment classification used in message
// bodies: image, audio, video or document.
func TypeFromMime(mimeType string) string {
	mimeType = strings.ToLower(mimeType)
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return "image"
	case strings.HasPrefix(mimeType, "audio/"):
		return "audio"
	case strings.HasPrefix(mimeType, "video/"):
		return "video"
	default:
		return "document"
	}
}
