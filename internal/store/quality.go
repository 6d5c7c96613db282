package store

import "time"

// UpdateSourceQuality records feedback for a (domain, topic) pair and
// recomputes its learned reliability score as the positive ratio
// Positive/(Positive+Negative). A positive followed by a negative returns
// the score to its previous value only when the two counts were equal
// beforehand (a fresh row goes back to 0.5); otherwise the score moves.
func (s *Store) UpdateSourceQuality(domain, topic string, positive bool) error {
	var entry SourceQuality
	err := s.db.Where("domain = ? AND topic = ?", domain, topic).First(&entry).Error
	if err != nil {
		entry = SourceQuality{Domain: domain, Topic: topic, Reliability: 0.5}
	}
	if positive {
		entry.Positive++
	} else {
		entry.Negative++
	}
	total := entry.Positive + entry.Negative
	if total > 0 {
		entry.Reliability = float64(entry.Positive) / float64(total)
	}
	entry.UpdatedAt = time.Now()
	return s.db.Save(&entry).Error
}

// GetReliableSources returns the best-scoring rows whose topic or domain
// equals topicOrDomain (or, if it is empty, overall), highest reliability
// first.
func (s *Store) GetReliableSources(topicOrDomain string, limit int) ([]SourceQuality, error) {
	var results []SourceQuality
	q := s.db.Order("reliability desc").Limit(limit)
	if topicOrDomain != "" {
		q = q.Where("topic = ? OR domain = ?", topicOrDomain, topicOrDomain)
	}
	err := q.Find(&results).Error
	return results, err
}

// ReliabilityFor reports the learned reliability for a domain, preferring a
// row scoped to topic and falling back to the domain's best-scoring row
// across any topic. The second return is false when nothing has been
// learned for this domain yet.
func (s *Store) ReliabilityFor(domain, topic string) (float64, bool) {
	rows, err := s.GetReliableSources(domain, 50)
	if err != nil {
		return 0, false
	}
	var fallback *SourceQuality
	for i := range rows {
		if rows[i].Domain != domain {
			continue
		}
		if rows[i].Topic == topic {
			return rows[i].Reliability, true
		}
		if fallback == nil {
			fallback = &rows[i]
		}
	}
	if fallback != nil {
		return fallback.Reliability, true
	}
	return 0, false
}

// LogInjection records a memory-bridge write-through, idempotent by finding
// id: a finding is only written to external memory once.
func (s *Store) LogInjection(findingID string, forced bool) error {
	var existing Injection
	if err := s.db.First(&existing, "finding_id = ?", findingID).Error; err == nil {
		return nil // already recorded
	}
	return s.db.Create(&Injection{FindingID: findingID, Forced: forced, CreatedAt: time.Now()}).Error
}

// WasInjected reports whether a finding has already been written through.
func (s *Store) WasInjected(findingID string) bool {
	var existing Injection
	return s.db.First(&existing, "finding_id = ?", findingID).Error == nil
}
