package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"go-research-crew/internal/config"
)

// urlCache is a TTL-bounded, byte-capped cache of fetched page content,
// backed by sqlite with an optional Redis hot tier in front: put writes both,
// get checks Redis first and reads sqlite on a Redis miss (a sqlite hit is
// not copied back into Redis).
type urlCache struct {
	db     *gorm.DB
	rdb    *redis.Client
	ttl    time.Duration
	maxCap int64
}

func newURLCache(db *gorm.DB, cfg config.URLCacheConfig, rcfg config.RedisConfig) *urlCache {
	uc := &urlCache{
		db:     db,
		ttl:    time.Duration(cfg.TTLMs) * time.Millisecond,
		maxCap: cfg.MaxBytes,
	}
	if rcfg.Enabled {
		uc.rdb = redis.NewClient(&redis.Options{
			Addr:     rcfg.Addr,
			Password: rcfg.Password,
			DB:       rcfg.DB,
		})
	}
	return uc
}

func (uc *urlCache) close() {
	if uc.rdb != nil {
		uc.rdb.Close()
	}
}

// CachedURL is the stored content for a previously fetched page.
type CachedURL struct {
	Content  string
	Title    string
	CachedAt time.Time
}

// GetCachedURL returns a cache hit if present and not expired.
func (s *Store) GetCachedURL(url string) (*CachedURL, bool) {
	return s.cache.get(url)
}

func (uc *urlCache) get(url string) (*CachedURL, bool) {
	if uc.rdb != nil {
		if val, err := uc.rdb.Get(context.Background(), "urlcache:"+url).Result(); err == nil {
			return &CachedURL{Content: val, CachedAt: time.Now()}, true
		}
	}

	var entry URLCacheEntry
	if err := uc.db.First(&entry, "url = ?", url).Error; err != nil {
		return nil, false
	}
	if uc.ttl > 0 && time.Since(entry.CachedAt) > uc.ttl {
		uc.db.Delete(&URLCacheEntry{}, "url = ?", url)
		return nil, false
	}
	uc.db.Model(&entry).Update("last_access", time.Now())
	return &CachedURL{Content: entry.Content, Title: entry.Title, CachedAt: entry.CachedAt}, true
}

// CacheURL stores fetched content, evicting the least-recently-accessed
// entries once the byte cap is exceeded.
func (s *Store) CacheURL(url, content, title string) error {
	return s.cache.put(url, content, title)
}

func (uc *urlCache) put(url, content, title string) error {
	now := time.Now()
	entry := URLCacheEntry{
		URL:        url,
		Title:      title,
		Content:    content,
		SizeBytes:  int64(len(content)),
		CachedAt:   now,
		LastAccess: now,
	}
	if err := uc.db.Save(&entry).Error; err != nil {
		return err
	}

	if uc.rdb != nil {
		ttl := uc.ttl
		if ttl == 0 {
			ttl = 24 * time.Hour
		}
		uc.rdb.Set(context.Background(), "urlcache:"+url, content, ttl)
	}

	return uc.evictIfOverCap()
}

func (uc *urlCache) evictIfOverCap() error {
	if uc.maxCap <= 0 {
		return nil
	}
	var total int64
	if err := uc.db.Model(&URLCacheEntry{}).Select("COALESCE(SUM(size_bytes),0)").Scan(&total).Error; err != nil {
		return err
	}
	for total > uc.maxCap {
		var oldest URLCacheEntry
		if err := uc.db.Order("last_access asc").First(&oldest).Error; err != nil {
			break
		}
		uc.db.Delete(&URLCacheEntry{}, "url = ?", oldest.URL)
		total -= oldest.SizeBytes
	}
	return nil
}
