package store

import (
	"fmt"
	"log"
	"sync"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"go-research-crew/internal/config"
)

// Store is the process-wide persistence singleton. It wraps the embedded
// sqlite database and, optionally, a Redis hot cache and a Qdrant vector
// index — consumers never branch on whether those optional backends are
// present.
type Store struct {
	db     *gorm.DB
	cache  *urlCache
	vector *vectorIndex
}

var (
	once     sync.Once
	instance *Store
	initErr  error
)

// Open is the lazy, concurrency-safe singleton initializer.
func Open(cfg *config.Config) (*Store, error) {
	once.Do(func() {
		instance, initErr = newStore(cfg)
	})
	return instance, initErr
}

func newStore(cfg *config.Config) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(cfg.Persistence.SQLitePath+"?_journal_mode=WAL"), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return nil, fmt.Errorf("automigrate: %w", err)
	}
	log.Printf("[Store] sqlite opened at %s (WAL)", cfg.Persistence.SQLitePath)

	s := &Store{db: db}

	s.cache = newURLCache(db, cfg.Persistence.URLCache, cfg.Redis)

	if cfg.Qdrant.Enabled {
		vi, err := newVectorIndex(cfg.Qdrant)
		if err != nil {
			log.Printf("[Store] WARNING: vector index unavailable, falling back to keyword-only recall: %v", err)
		} else {
			s.vector = vi
		}
	}

	return s, nil
}

// IsVectorReady reports whether semantic similarity lookup is available.
func (s *Store) IsVectorReady() bool {
	return s.vector != nil && s.vector.ready()
}

// Shutdown releases external handles.
func (s *Store) Shutdown() error {
	if s.vector != nil {
		s.vector.close()
	}
	if s.cache != nil {
		s.cache.close()
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// resetForTest clears the singleton so tests can open a fresh in-memory
// store. Only used by _test.go files in this package.
func resetForTest() {
	once = sync.Once{}
	instance = nil
	initErr = nil
}
