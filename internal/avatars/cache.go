package avatars

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	DefaultMaxBytes = int64(20 * 1024 * 1024)
	DefaultTTL      = 24 * time.Hour
	fileExt         = ".avatar"
)

// Fetcher downloads a room avatar.
type Fetcher interface {
	FetchRoomAvatar(ctx context.Context, token string) ([]byte, error)
}

// Cache keeps room avatars in memory and on disk. Concurrent misses for the
// same room share one download.
type Cache struct {
	dir      string
	fetcher  Fetcher
	maxBytes int64
	ttl      time.Duration
	logger   *slog.Logger
	now      func() time.Time

	flight singleflight.Group

	mu     sync.RWMutex
	memory map[string][]byte
	diskMu sync.Mutex
}

func NewCache(dir string, fetcher Fetcher, maxBytes int64, ttl time.Duration, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default().With("component", "avatars")
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &Cache{
		dir:      dir,
		fetcher:  fetcher,
		maxBytes: maxBytes,
		ttl:      ttl,
		logger:   logger,
		now:      time.Now,
		memory:   make(map[string][]byte),
	}
}

// Get returns the avatar of token, downloading it when the cached copy is
// missing or older than the TTL. A stale copy is served if the download fails.
func (c *Cache) Get(ctx context.Context, token string) ([]byte, error) {
	c.mu.RLock()
	data, ok := c.memory[token]
	c.mu.RUnlock()
	if ok {
		return data, nil
	}

	path := c.pathFor(token)
	stale, fresh := c.readDisk(path)
	if fresh {
		c.remember(token, stale)

		return stale, nil
	}

	v, err, _ := c.flight.Do(token, func() (any, error) {
		body, err := c.fetcher.FetchRoomAvatar(ctx, token)
		if err != nil {
			return nil, err
		}
		if len(body) == 0 {
			return nil, errors.New("empty avatar")
		}
		c.writeDisk(path, body)

		return body, nil
	})
	if err != nil {
		if stale != nil {
			c.logger.Debug("serving stale avatar", "room", token, "error", err)
			c.remember(token, stale)

			return stale, nil
		}

		return nil, fmt.Errorf("fetch avatar %s: %w", token, err)
	}
	body := v.([]byte)
	c.remember(token, body)

	return body, nil
}

// Invalidate drops the cached avatar of token.
func (c *Cache) Invalidate(token string) {
	c.mu.Lock()
	delete(c.memory, token)
	c.mu.Unlock()

	c.diskMu.Lock()
	defer c.diskMu.Unlock()
	if err := os.Remove(c.pathFor(token)); err != nil && !os.IsNotExist(err) {
		c.logger.Debug("removing cached avatar failed", "room", token, "error", err)
	}
}

func (c *Cache) remember(token string, data []byte) {
	c.mu.Lock()
	c.memory[token] = data
	c.mu.Unlock()
}

func (c *Cache) pathFor(token string) string {
	sum := sha256.Sum256([]byte(token))
	hash := hex.EncodeToString(sum[:])

	return filepath.Join(c.dir, hash[:2], hash[2:4], hash+fileExt)
}

// readDisk returns the cached bytes and whether they are within the TTL.
func (c *Cache) readDisk(path string) ([]byte, bool) {
	if c.dir == "" {
		return nil, false
	}
	c.diskMu.Lock()
	defer c.diskMu.Unlock()

	info, err := os.Stat(path)
	if err != nil {
		return nil, false
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil || len(data) == 0 {
		return nil, false
	}

	return data, c.now().Sub(info.ModTime()) < c.ttl
}

func (c *Cache) writeDisk(path string, data []byte) {
	if c.dir == "" {
		return
	}
	c.diskMu.Lock()
	defer c.diskMu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		c.logger.Warn("creating avatar cache directory failed", "cache_path", path, "error", err)

		return
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		c.logger.Warn("writing avatar temp file failed", "tmp_path", tmpPath, "error", err)
		_ = os.Remove(tmpPath)

		return
	}
	if err := os.Rename(tmpPath, path); err != nil {
		c.logger.Warn("renaming avatar temp file failed", "cache_path", path, "error", err)
		_ = os.Remove(tmpPath)

		return
	}
	now := c.now()
	_ = os.Chtimes(path, now, now)

	c.evictLocked()
}

func (c *Cache) evictLocked() {
	type cacheFile struct {
		path    string
		size    int64
		modTime time.Time
	}

	var (
		files     []cacheFile
		totalSize int64
	)
	_ = filepath.WalkDir(c.dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d == nil || d.IsDir() || filepath.Ext(path) != fileExt {
			return nil
		}
		info, statErr := d.Info()
		if statErr != nil {
			return nil
		}
		totalSize += info.Size()
		files = append(files, cacheFile{path: path, size: info.Size(), modTime: info.ModTime()})

		return nil
	})
	if totalSize <= c.maxBytes {
		return
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.Before(files[j].modTime)
	})
	for _, file := range files {
		if totalSize <= c.maxBytes {
			break
		}
		if err := os.Remove(file.path); err != nil {
			continue
		}
		totalSize -= file.size
	}
	c.logger.Debug("avatar cache eviction completed", "remaining_bytes", totalSize, "max_bytes", c.maxBytes)
}
