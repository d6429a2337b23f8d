package media

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSaveAndRemove(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "media"))
	if err != nil {
		t.Fatal(err)
	}

	f, err := store.Save([]byte("payload"), "image/jpeg", "photo")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(f.Filename, "photo_") || !strings.HasSuffix(f.Filename, ".jpg") {
		t.Errorf("filename = %q", f.Filename)
	}
	if f.PublicURL != "/media/"+f.Filename {
		t.Errorf("public url = %q", f.PublicURL)
	}

	data, err := os.ReadFile(filepath.Join(store.Dir(), f.Filename))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "payload" {
		t.Errorf("stored data = %q", data)
	}

	if err := store.Remove(f.Filename); err != nil {
		t.Fatal(err)
	}
	if err := store.Remove(f.Filename); err != nil {
		t.Errorf("removing missing file: %v", err)
	}
}

func TestSaveUniqueNames(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	a, err := store.Save([]byte("a"), "application/pdf", "doc")
	if err != nil {
		t.Fatal(err)
	}
	b, err := store.Save([]byte("b"), "application/pdf", "doc")
	if err != nil {
		t.Fatal(err)
	}
	if a.Filename == b.Filename {
		t.Errorf("same base produced colliding names: %q", a.Filename)
	}
}

func TestSaveSanitizesName(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	f, err := store.Save([]byte("x"), "text/plain", "../../etc/pass wd.txt")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(f.Filename, "/") || strings.Contains(f.Filename, " ") {
		t.Errorf("unsafe filename: %q", f.Filename)
	}
}

func TestExtFromMime(t *testing.T) {
	cases := []struct{ mime, want string }{
		{"image/jpeg", ".jpg"},
		{"audio/ogg; codecs=opus", ".ogg"},
		{"application/pdf", ".pdf"},
		{"application/vnd.unknown", ".bin"},
		{"", ".bin"},
	}
	for _, c := range cases {
		if got := ExtFromMime(c.mime); got != c.want {
			t.Errorf("ExtFromMime(%q) = %q, want %q", c.mime, got, c.want)
		}
	}
}

func TestTypeFromMime(t *testing.T) {
	cases := []struct{ mime, want string }{
		{"image/png", "image"},
		{"audio/mpeg", "audio"},
		{"video/mp4", "video"},
		{"application/pdf", "document"},
		{"text/plain", "document"},
	}
	for _, c := range cases {
		if got := TypeFromMime(c.mime); got != c.want {
			t.Errorf("TypeFromMime(%q) = %q, want %q", c.mime, got, c.want)
		}
	}
}
