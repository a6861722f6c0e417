package speech

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/hammamikhairi/voxengine/internal/domain"
	"github.com/hammamikhairi/voxengine/internal/logger"
)

// AudioCache is a two-tier cache (memory, then filesystem) for synthesized
// audio. The key covers everything that changes the synthesized waveform:
// voice, language, rate, pitch and text. Volume is applied at playback and
// is not part of the key.
//
// The disk layer is always read when cacheDir is set; diskWrite controls
// whether new entries are persisted.
type AudioCache struct {
	mu        sync.RWMutex
	entries   map[string][]byte
	log       *logger.Logger
	voice     string
	cacheDir  string
	diskWrite bool
	hits      int64
	misses    int64
}

// CacheStats is a snapshot of cache counters.
type CacheStats struct {
	Entries int   `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}

// NewAudioCache creates an audio cache for voice. An empty cacheDir
// disables the disk layer.
func NewAudioCache(voice, cacheDir string, diskWrite bool, log *logger.Logger) *AudioCache {
	c := &AudioCache{
		entries:   make(map[string][]byte),
		log:       log,
		voice:     voice,
		cacheDir:  cacheDir,
		diskWrite: diskWrite,
	}
	if cacheDir != "" && diskWrite {
		if err := os.MkdirAll(cacheDir, 0o755); err != nil {
			log.Error("cache: failed to create cache dir %s: %v", cacheDir, err)
		}
	}
	return c
}

// Get returns cached audio for req.
func (c *AudioCache) Get(req domain.TTSRequest) ([]byte, bool) {
	key := c.key(req)

	c.mu.RLock()
	data, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		c.mu.Lock()
		c.hits++
		c.mu.Unlock()
		c.log.Debug("cache hit (mem): %s (%d bytes)", truncate(req.Text, 40), len(data))
		return data, true
	}

	if c.cacheDir != "" {
		if data, err := os.ReadFile(c.diskPath(key)); err == nil {
			c.mu.Lock()
			c.entries[key] = data
			c.hits++
			c.mu.Unlock()
			c.log.Debug("cache hit (disk): %s (%d bytes)", truncate(req.Text, 40), len(data))
			return data, true
		}
	}

	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
	return nil, false
}

// Put stores audio for req in memory, and on disk when enabled.
func (c *AudioCache) Put(req domain.TTSRequest, audio []byte) {
	key := c.key(req)

	c.mu.Lock()
	c.entries[key] = audio
	c.mu.Unlock()

	if c.cacheDir != "" && c.diskWrite {
		path := c.diskPath(key)
		if err := os.WriteFile(path, audio, 0o644); err != nil {
			c.log.Error("cache: disk write failed for %s: %v", path, err)
		}
	}
}

// Has reports whether audio for req is cached in memory or on disk.
func (c *AudioCache) Has(req domain.TTSRequest) bool {
	key := c.key(req)

	c.mu.RLock()
	_, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		return true
	}
	if c.cacheDir != "" {
		_, err := os.Stat(c.diskPath(key))
		return err == nil
	}
	return false
}

// Stats returns the current counters.
func (c *AudioCache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return CacheStats{Entries: len(c.entries), Hits: c.hits, Misses: c.misses}
}

// Clear empties the in-memory layer. Files on disk are kept.
func (c *AudioCache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string][]byte)
	c.hits = 0
	c.misses = 0
	c.mu.Unlock()
}

func (c *AudioCache) key(req domain.TTSRequest) string {
	raw := fmt.Sprintf("%s|%s|%.2f|%.2f|%s", c.voice, req.Language, req.Rate, req.Pitch, req.Text)
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

func (c *AudioCache) diskPath(key string) string {
	return filepath.Join(c.cacheDir, key+".wav")
}
