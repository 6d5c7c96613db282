package store

import (
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// clamp01 enforces the [0,1] ingress invariant.
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// SaveFinding persists a finding (final or partial) and its sources.
// Confidence and every source relevance are clamped on ingress.
func (s *Store) SaveFinding(f *Finding, sessionID, projectPath string) error {
	if f.ID == "" {
		return fmt.Errorf("finding must have an id")
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}
	f.Confidence = clamp01(f.Confidence)
	f.SessionID = sessionID
	f.ProjectPath = projectPath
	for i := range f.Sources {
		f.Sources[i].Relevance = clamp01(f.Sources[i].Relevance)
		f.Sources[i].FindingID = f.ID
	}
	return s.db.Create(f).Error
}

// GetFinding fetches a finding with its sources preloaded.
func (s *Store) GetFinding(id string) (*Finding, error) {
	var f Finding
	if err := s.db.Preload("Sources").First(&f, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &f, nil
}

// SearchFindings is the keyword search path: substring match over query and
// summary, most recent first.
func (s *Store) SearchFindings(query string, limit int) ([]Finding, error) {
	var findings []Finding
	like := "%" + query + "%"
	err := s.db.Preload("Sources").
		Where("query LIKE ? OR summary LIKE ?", like, like).
		Order("created_at desc").
		Limit(limit).
		Find(&findings).Error
	return findings, err
}

// FindRelatedFindings dispatches to the vector index when ready, else falls
// back to keyword search — consumers never branch on mode.
func (s *Store) FindRelatedFindings(query string, limit int) ([]Finding, error) {
	if s.IsVectorReady() {
		ids, err := s.vector.search(query, limit)
		if err == nil && len(ids) > 0 {
			var findings []Finding
			if err := s.db.Preload("Sources").Where("id IN ?", ids).Find(&findings).Error; err == nil {
				return findings, nil
			}
		}
	}
	return s.SearchFindings(query, limit)
}

// EmbedFinding computes and stores a finding's vector representation, a
// no-op (and non-fatal) when the vector backend is absent.
func (s *Store) EmbedFinding(f *Finding) error {
	if !s.IsVectorReady() {
		return nil
	}
	return s.vector.upsert(f)
}

// SimilarQueryHit is the shared result shape for both the sync and async
// dedup paths.
type SimilarQueryHit struct {
	Found         bool
	ExistingQuery string
	Similarity    float64
	FindingID     string
}

// HasRecentSimilarQuery is the cheap, synchronous dedup path: normalized
// Jaccard token overlap over recent findings' original queries.
func (s *Store) HasRecentSimilarQuery(text string, windowMs int64) (SimilarQueryHit, error) {
	cutoff := time.Now().Add(-time.Duration(windowMs) * time.Millisecond)
	var recent []Finding
	if err := s.db.Where("created_at >= ?", cutoff).Find(&recent).Error; err != nil {
		return SimilarQueryHit{}, err
	}
	for _, f := range recent {
		if similarEnough(text, f.Query) {
			return SimilarQueryHit{Found: true, ExistingQuery: f.Query}, nil
		}
	}
	return SimilarQueryHit{}, nil
}

// HasRecentSimilarQueryAsync is the vector-cosine dedup path; it falls back
// to the synchronous keyword path when no vector backend is configured.
func (s *Store) HasRecentSimilarQueryAsync(text string, windowMs int64, threshold float64) (SimilarQueryHit, error) {
	if !s.IsVectorReady() {
		return s.HasRecentSimilarQuery(text, windowMs)
	}
	id, sim, err := s.vector.mostSimilarSince(text, windowMs, threshold)
	if err != nil {
		return SimilarQueryHit{}, err
	}
	if id == "" {
		return SimilarQueryHit{}, nil
	}
	return SimilarQueryHit{Found: true, Similarity: sim, FindingID: id}, nil
}

// keyPointsOf is a small helper so callers can build a Finding without
// hand-rolling datatypes.JSONType boilerplate.
func keyPointsOf(points []string) datatypes.JSONType[[]string] {
	if len(points) > 8 {
		points = points[:8]
	}
	return datatypes.NewJSONType(points)
}

// KeyPointsOf exposes keyPointsOf to other packages constructing findings.
func KeyPointsOf(points []string) datatypes.JSONType[[]string] {
	return keyPointsOf(points)
}
