package data

import (
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ducminhle1904/crypto-risk-engine/pkg/types"
)

// MemoryCache implements DataCache using in-memory storage
type MemoryCache struct {
	cache map[string]types.Series
	mutex sync.RWMutex
}

// NewMemoryCache creates a new in-memory cache
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		cache: make(map[string]types.Series),
	}
}

// Get returns a copy of the cached series
func (c *MemoryCache) Get(key string) (types.Series, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	data, exists := c.cache[key]
	if !exists {
		return nil, false
	}
	result := make(types.Series, len(data))
	copy(result, data)
	return result, true
}

// Set stores a copy of data
func (c *MemoryCache) Set(key string, data types.Series) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	cached := make(types.Series, len(data))
	copy(cached, data)
	c.cache[key] = cached
}

// Clear removes all cached data
func (c *MemoryCache) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.cache = make(map[string]types.Series)
}

// Size returns the number of cached entries
func (c *MemoryCache) Size() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.cache)
}

// CachedProvider wraps another DataProvider so each source is read once.
// Batch jobs over the same file share one load.
type CachedProvider struct {
	provider DataProvider
	cache    DataCache
	logger   zerolog.Logger
}

// NewCachedProvider creates a cached data provider backed by a MemoryCache
func NewCachedProvider(provider DataProvider, logger zerolog.Logger) *CachedProvider {
	return &CachedProvider{
		provider: provider,
		cache:    NewMemoryCache(),
		logger:   logger,
	}
}

// GetName returns the name of the underlying provider with cache indication
func (p *CachedProvider) GetName() string {
	return "Cached " + p.provider.GetName()
}

// LoadData returns the cached series for source, loading it on first use
func (p *CachedProvider) LoadData(source string) (types.Series, error) {
	if cached, ok := p.cache.Get(source); ok {
		return cached, nil
	}

	data, err := p.provider.LoadData(source)
	if err != nil {
		p.logger.Error().Err(err).Str("file", filepath.Base(source)).Msg("Failed to load data")
		return nil, err
	}
	p.cache.Set(source, data)

	p.logger.Info().Str("file", filepath.Base(source)).Int("bars", len(data)).Msg("Loaded and cached data")
	return data, nil
}

// CacheSize returns the number of cached entries
func (p *CachedProvider) CacheSize() int {
	return p.cache.Size()
}
