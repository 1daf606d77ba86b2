package cover

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"mpdris/internal/config"
)

var pngData = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1A, '\n', 1, 2, 3, 4}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel) // Reduce noise in tests
	return logger
}

func touch(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func newTestResolver(t *testing.T, cfg config.MusicConfig) *Resolver {
	t.Helper()
	r := NewResolver(cfg, testLogger())
	t.Cleanup(r.Close)
	return r
}

func TestResolveProbeOrder(t *testing.T) {
	tests := []struct {
		name  string
		files []string
		want  string
	}{
		{
			name: "no cover",
			want: "",
		},
		{
			name:  "directory cover",
			files: []string{"library/Artist/Album/cover.png"},
			want:  "library/Artist/Album/cover.png",
		},
		{
			name:  "file next to song replaces audio extension",
			files: []string{"library/Artist/Album/cover.png", "library/Artist/Album/01 Song.jpg"},
			want:  "library/Artist/Album/01 Song.jpg",
		},
		{
			name: "cover directory wins",
			files: []string{
				"library/Artist/Album/cover.png",
				"library/Artist/Album/01 Song.jpg",
				"covers/Artist/Album/01 Song.webp",
			},
			want: "covers/Artist/Album/01 Song.webp",
		},
		{
			name:  "extension order",
			files: []string{"library/Artist/Album/cover.gif", "library/Artist/Album/cover.jpeg"},
			want:  "library/Artist/Album/cover.jpeg",
		},
		{
			name:  "directories are skipped",
			files: []string{"library/Artist/Album/cover.jpg/keep"},
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			for _, f := range tt.files {
				touch(t, filepath.Join(root, f), pngData)
			}

			r := newTestResolver(t, config.MusicConfig{
				LibraryPath: filepath.Join(root, "library"),
				CoverPath:   filepath.Join(root, "covers"),
			})

			want := ""
			if tt.want != "" {
				want = FileURL(filepath.Join(root, tt.want))
			}
			if got := r.Resolve("Artist/Album/01 Song.flac"); got != want {
				t.Errorf("Resolve() = %q, want %q", got, want)
			}
		})
	}
}

func TestResolveSkipsStreams(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "cover.jpg"), pngData)
	r := newTestResolver(t, config.MusicConfig{LibraryPath: root})

	for _, uri := range []string{"", "http://radio.example/stream.mp3", "https://example.org/a"} {
		if got := r.Resolve(uri); got != "" {
			t.Errorf("Resolve(%q) = %q, want empty", uri, got)
		}
	}
}

func TestResolveCachesAndReconfigure(t *testing.T) {
	root := t.TempDir()
	lib := filepath.Join(root, "library")
	r := newTestResolver(t, config.MusicConfig{LibraryPath: lib})

	uri := "Album/track.mp3"
	if got := r.Resolve(uri); got != "" {
		t.Fatalf("Resolve() = %q, want empty", got)
	}

	// the miss is remembered
	touch(t, filepath.Join(lib, "Album", "cover.jpg"), pngData)
	if got := r.Resolve(uri); got != "" {
		t.Errorf("Resolve() after adding a cover = %q, want cached empty", got)
	}

	r.Reconfigure(config.MusicConfig{LibraryPath: lib})
	want := FileURL(filepath.Join(lib, "Album", "cover.jpg"))
	if got := r.Resolve(uri); got != want {
		t.Errorf("Resolve() after Reconfigure() = %q, want %q", got, want)
	}
}

func TestResolveForgetsDeletedCover(t *testing.T) {
	lib := t.TempDir()
	r := newTestResolver(t, config.MusicConfig{LibraryPath: lib})

	uri := "Album/track.flac"
	first := filepath.Join(lib, "Album", "track.jpg")
	touch(t, first, pngData)
	touch(t, filepath.Join(lib, "Album", "cover.png"), pngData)

	if got := r.Resolve(uri); got != FileURL(first) {
		t.Fatalf("Resolve() = %q, want %q", got, FileURL(first))
	}

	if err := os.Remove(first); err != nil {
		t.Fatal(err)
	}
	want := FileURL(filepath.Join(lib, "Album", "cover.png"))
	if got := r.Resolve(uri); got != want {
		t.Errorf("Resolve() after removing the cover = %q, want %q", got, want)
	}
	if r.cache.Size() != 1 {
		t.Errorf("cache size = %d, want 1", r.cache.Size())
	}
}

func TestFileURLEscapes(t *testing.T) {
	got := FileURL("/music/My Album/cover.jpg")
	if got != "file:///music/My%20Album/cover.jpg" {
		t.Errorf("FileURL() = %q", got)
	}
}

func TestImageExtension(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		fallback string
		want     string
	}{
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0}, "", "jpg"},
		{"png", pngData, "jpg", "png"},
		{"gif", []byte("GIF89a"), "", "gif"},
		{"webp", []byte("RIFF\x00\x00\x00\x00WEBPVP8 "), "", "webp"},
		{"bmp", []byte("BM\x00\x00"), "", "bmp"},
		{"tag extension", []byte{0, 0, 0, 0}, ".PNG", "png"},
		{"unknown", []byte{0}, "", "img"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := imageExtension(tt.data, tt.fallback); got != tt.want {
				t.Errorf("imageExtension() = %q, want %q", got, tt.want)
			}
		})
	}
}

// id3WithPicture builds a minimal ID3v2.3 tag holding one APIC frame
func id3WithPicture(picture []byte) []byte {
	var frame bytes.Buffer
	frame.WriteByte(0) // ISO-8859-1
	frame.WriteString("image/png")
	frame.WriteByte(0)
	frame.WriteByte(3) // front cover
	frame.WriteByte(0) // empty description
	frame.Write(picture)

	var body bytes.Buffer
	body.WriteString("APIC")
	binary.Write(&body, binary.BigEndian, uint32(frame.Len()))
	body.Write([]byte{0, 0})
	body.Write(frame.Bytes())
	body.Write(make([]byte, 16)) // padding

	size := body.Len()
	var out bytes.Buffer
	out.WriteString("ID3")
	out.Write([]byte{3, 0, 0})
	out.Write([]byte{
		byte(size >> 21 & 0x7F),
		byte(size >> 14 & 0x7F),
		byte(size >> 7 & 0x7F),
		byte(size & 0x7F),
	})
	out.Write(body.Bytes())
	return out.Bytes()
}

func TestResolveEmbeddedArt(t *testing.T) {
	root := t.TempDir()
	lib := filepath.Join(root, "library")
	artCache := filepath.Join(root, "art")
	touch(t, filepath.Join(lib, "Album", "track.mp3"), id3WithPicture(pngData))

	r := newTestResolver(t, config.MusicConfig{
		LibraryPath:        lib,
		ExtractEmbeddedArt: true,
		ArtCachePath:       artCache,
	})

	got := r.Resolve("Album/track.mp3")
	if !strings.HasPrefix(got, "file://"+filepath.ToSlash(artCache)+"/") || !strings.HasSuffix(got, ".png") {
		t.Fatalf("Resolve() = %q, want a png in the art cache", got)
	}

	entries, err := os.ReadDir(artCache)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("art cache holds %d files, want 1", len(entries))
	}
	data, err := os.ReadFile(filepath.Join(artCache, entries[0].Name()))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !bytes.Equal(data, pngData) {
		t.Errorf("extracted art = %v, want %v", data, pngData)
	}

	// disabled extraction leaves the song without a cover
	r.Reconfigure(config.MusicConfig{LibraryPath: lib, ArtCachePath: artCache})
	if got := r.Resolve("Album/track.mp3"); got != "" {
		t.Errorf("Resolve() with extraction disabled = %q", got)
	}
}
