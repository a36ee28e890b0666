// Package assets locates model files and their dependencies on disk and in
// VPK archives.
package assets

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/Faultbox/studiobones/internal/config"
	"github.com/Faultbox/studiobones/pkg/studio"
	"github.com/Faultbox/studiobones/pkg/vpk"
)

// ErrNotFound is returned when no search path or archive holds a file.
var ErrNotFound = errors.New("asset not found")

// defaultCacheBytes bounds the file cache of a Manager.
const defaultCacheBytes = 64 << 20

// Manager reads files from loose search paths first, then from archives,
// each in the order they were added. It implements studio.Loader.
type Manager struct {
	roots     []string
	archives  []*vpk.Archive
	cache     *Cache
	log       *zap.Logger
	maxShared int
	mu        sync.RWMutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger used for lookups and parsed models.
func WithLogger(log *zap.Logger) Option {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

// WithMaxSharedSize caps the size of files parsed models may pull in.
func WithMaxSharedSize(n int) Option {
	return func(m *Manager) { m.maxShared = n }
}

// WithCacheBytes bounds the file cache.
func WithCacheBytes(n int) Option {
	return func(m *Manager) { m.cache = NewCache(n) }
}

// NewManager creates an empty asset manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		cache: NewCache(defaultCacheBytes),
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NewFromConfig creates a manager with the configured search paths and
// archives. Archives that fail to open abort the setup.
func NewFromConfig(cfg config.AssetsConfig, log *zap.Logger) (*Manager, error) {
	m := NewManager(WithLogger(log), WithMaxSharedSize(cfg.MaxSharedModelMB<<20))
	for _, dir := range cfg.SearchPaths {
		if err := m.AddSearchPath(dir); err != nil {
			m.log.Warn("skipping search path", zap.String("path", dir), zap.Error(err))
		}
	}
	for _, p := range cfg.Archives {
		if err := m.AddArchive(p); err != nil {
			m.Close()
			return nil, err
		}
	}
	return m, nil
}

// AddSearchPath adds a directory of loose files.
func (m *Manager) AddSearchPath(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("search path %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("search path %s: not a directory", dir)
	}

	m.mu.Lock()
	m.roots = append(m.roots, dir)
	m.mu.Unlock()
	return nil
}

// AddArchive opens a VPK directory file and adds it to the manager.
func (m *Manager) AddArchive(p string) error {
	archive, err := vpk.Open(p)
	if err != nil {
		return fmt.Errorf("opening archive %s: %w", p, err)
	}

	m.mu.Lock()
	m.archives = append(m.archives, archive)
	m.mu.Unlock()

	m.log.Debug("archive added", zap.String("path", p), zap.Int("files", len(archive.List())))
	return nil
}

// ReadFile returns the contents of name, a slash separated path relative
// to the search roots.
func (m *Manager) ReadFile(name string) ([]byte, error) {
	rel := cleanName(name)
	key := strings.ToLower(rel)
	if data, ok := m.cache.Get(key); ok {
		return data, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, root := range m.roots {
		data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
		if err == nil {
			m.cache.Set(key, data)
			return data, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}
	}

	for _, archive := range m.archives {
		if !archive.Contains(key) {
			continue
		}
		data, err := archive.Read(key)
		if err != nil {
			return nil, err
		}
		m.cache.Set(key, data)
		return data, nil
	}

	m.log.Debug("asset not found", zap.String("name", name))
	return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
}

// LoadModel reads and parses a model. The returned header resolves shared
// animation files and animation blocks through the manager.
func (m *Manager) LoadModel(name string, opts ...studio.Option) (*studio.Header, error) {
	data, err := m.ReadFile(name)
	if err != nil {
		return nil, err
	}
	base := []studio.Option{
		studio.WithLogger(m.log.With(zap.String("model", name))),
		studio.WithLoader(m),
		studio.WithMaxSharedSize(m.maxShared),
	}
	h, err := studio.Parse(data, append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", name, err)
	}
	return h, nil
}

// Cache returns the manager's file cache.
func (m *Manager) Cache() *Cache { return m.cache }

// Close closes all archives.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, archive := range m.archives {
		archive.Close()
	}
	m.archives = nil
	m.roots = nil
	m.cache.Clear()
}

func cleanName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Clean("/" + name)
	return strings.TrimPrefix(name, "/")
}

// Cache is a bounded in-memory cache for loaded files. When a new entry
// would exceed the budget the cache is emptied first.
type Cache struct {
	data     map[string][]byte
	size     int
	maxBytes int
	mu       sync.RWMutex

	hits   int
	misses int
}

// NewCache creates a cache holding at most maxBytes of file data.
func NewCache(maxBytes int) *Cache {
	return &Cache{
		data:     make(map[string][]byte),
		maxBytes: maxBytes,
	}
}

// Get retrieves an item from cache.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, ok := c.data[key]
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return data, ok
}

// Set stores an item in cache. Items larger than the budget are not kept.
func (c *Cache) Set(key string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(data) > c.maxBytes {
		return
	}
	if old, ok := c.data[key]; ok {
		c.size -= len(old)
	}
	if c.size+len(data) > c.maxBytes {
		c.data = make(map[string][]byte)
		c.size = 0
	}
	c.data[key] = data
	c.size += len(data)
}

// Clear clears the cache.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = make(map[string][]byte)
	c.size = 0
	c.hits = 0
	c.misses = 0
}

// Stats returns cache statistics.
func (c *Cache) Stats() (hits, misses, bytes int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits, c.misses, c.size
}
