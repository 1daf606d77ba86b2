package cover

import (
	"crypto/md5"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dhowden/tag"
	"github.com/sirupsen/logrus"

	"mpdris/internal/cache"
	"mpdris/internal/config"
)

// CacheTTL is how long a resolved cover, or the lack of one, is remembered
const CacheTTL = 15 * time.Minute

// ImageExtensions are probed in order next to and instead of the audio file
var ImageExtensions = []string{"jpg", "jpeg", "png", "webp", "avif", "jxl", "bmp", "gif", "heif", "heic"}

// Resolver finds cover art for song URIs relative to the music library
type Resolver struct {
	mu     sync.RWMutex
	cfg    config.MusicConfig
	logger *logrus.Logger
	cache  *cache.MemoryCache[string]
}

// NewResolver creates a resolver for the given library layout
func NewResolver(cfg config.MusicConfig, logger *logrus.Logger) *Resolver {
	return &Resolver{
		cfg:    cfg,
		logger: logger,
		cache:  cache.NewMemoryCache[string](CacheTTL),
	}
}

// Reconfigure swaps the library layout and forgets every cached result
func (r *Resolver) Reconfigure(cfg config.MusicConfig) {
	r.mu.Lock()
	r.cfg = cfg
	r.mu.Unlock()

	dropped := r.cache.Size()
	r.cache.Clear()
	r.logger.WithField("dropped", dropped).Debug("Cover cache cleared")
}

// Close stops the cache cleanup
func (r *Resolver) Close() {
	r.cache.Close()
}

// Resolve returns a file:// URL for the cover of uri, or "" when there is none.
// A cached cover that has since been deleted is resolved again.
func (r *Resolver) Resolve(uri string) string {
	if uri == "" || strings.Contains(uri, "://") {
		return ""
	}
	if cached, ok := r.cache.Get(uri); ok {
		if cached == "" {
			return ""
		}
		if isRegular(cached) {
			return FileURL(cached)
		}
		r.cache.Delete(uri)
	}

	r.mu.RLock()
	cfg := r.cfg
	r.mu.RUnlock()

	found := probe(cfg, uri)
	if found == "" && cfg.ExtractEmbeddedArt && cfg.LibraryPath != "" {
		path, err := r.extractEmbedded(cfg, uri)
		if err != nil {
			r.logger.WithFields(logrus.Fields{
				"uri":   uri,
				"error": err.Error(),
			}).Debug("No embedded cover")
		}
		found = path
	}

	r.cache.Set(uri, found)
	result := ""
	if found != "" {
		result = FileURL(found)
	}

	r.logger.WithFields(logrus.Fields{
		"uri":   uri,
		"cover": result,
	}).Debug("Resolved cover")

	return result
}

// candidates lists the probe bases in priority order, extension not yet replaced
func candidates(cfg config.MusicConfig, uri string) []string {
	rel := filepath.FromSlash(uri)
	var bases []string
	if cfg.CoverPath != "" {
		bases = append(bases, filepath.Join(cfg.CoverPath, rel))
	}
	if cfg.LibraryPath != "" {
		bases = append(bases,
			filepath.Join(cfg.LibraryPath, rel),
			filepath.Join(cfg.LibraryPath, filepath.Dir(rel), "cover"),
		)
	}
	return bases
}

func probe(cfg config.MusicConfig, uri string) string {
	for _, base := range candidates(cfg, uri) {
		stem := strings.TrimSuffix(base, filepath.Ext(base))
		for _, ext := range ImageExtensions {
			path := stem + "." + ext
			if isRegular(path) {
				return path
			}
		}
	}
	return ""
}

func isRegular(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// extractEmbedded writes the picture embedded in the audio file to the art
// cache, named by content hash, and returns its path
func (r *Resolver) extractEmbedded(cfg config.MusicConfig, uri string) (string, error) {
	if cfg.ArtCachePath == "" {
		return "", errors.New("art cache path not configured")
	}

	file, err := os.Open(filepath.Join(cfg.LibraryPath, filepath.FromSlash(uri)))
	if err != nil {
		return "", err
	}
	defer file.Close()

	metadata, err := tag.ReadFrom(file)
	if err != nil {
		return "", fmt.Errorf("failed to read tags: %w", err)
	}
	picture := metadata.Picture()
	if picture == nil || len(picture.Data) == 0 {
		return "", errors.New("no picture tag")
	}

	hash := md5.Sum(picture.Data)
	ext := imageExtension(picture.Data, picture.Ext)
	path := filepath.Join(cfg.ArtCachePath, fmt.Sprintf("%x.%s", hash, ext))

	if _, err := os.Stat(path); err == nil {
		return path, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}

	if err := os.MkdirAll(cfg.ArtCachePath, 0755); err != nil {
		return "", fmt.Errorf("failed to create art cache: %w", err)
	}
	tmp, err := os.CreateTemp(cfg.ArtCachePath, ".art-*")
	if err != nil {
		return "", err
	}
	if _, err := tmp.Write(picture.Data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}

	r.logger.WithFields(logrus.Fields{
		"uri":  uri,
		"path": path,
		"size": len(picture.Data),
	}).Info("Extracted embedded cover")

	return path, nil
}

// imageExtension guesses a file extension from magic bytes, falling back to
// the one reported by the tag
func imageExtension(data []byte, fallback string) string {
	switch {
	case len(data) >= 2 && data[0] == 0xFF && data[1] == 0xD8:
		return "jpg"
	case len(data) >= 4 && data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47:
		return "png"
	case len(data) >= 3 && data[0] == 0x47 && data[1] == 0x49 && data[2] == 0x46:
		return "gif"
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WEBP":
		return "webp"
	case len(data) >= 2 && data[0] == 'B' && data[1] == 'M':
		return "bmp"
	}
	if fallback = strings.TrimPrefix(strings.ToLower(fallback), "."); fallback != "" {
		return fallback
	}
	return "img"
}

// FileURL turns a local path into an absolute, escaped file:// URL
func FileURL(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(path)}
	return u.String()
}
