// Package membridge writes qualifying findings through to an external
// long-term memory service as append-only observations: tagged, idempotent,
// and non-fatal on transport failure, the write-through shape adapted from
// an in-process goal/tag store to an HTTP sink outside this process.
package membridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"go-research-crew/internal/config"
	"go-research-crew/internal/store"
)

// InjectionLog is the subset of store.Store membridge needs for idempotency.
type InjectionLog interface {
	LogInjection(findingID string, forced bool) error
	WasInjected(findingID string) bool
}

// Observation is the append-only payload shape the external sink expects.
type Observation struct {
	SessionID string    `json:"sessionId,omitempty"`
	Project   string    `json:"project,omitempty"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Subtitle  string    `json:"subtitle,omitempty"`
	Text      string    `json:"text"`
	Facts     []string  `json:"facts,omitempty"`
	Narrative string    `json:"narrative,omitempty"`
	Concepts  []string  `json:"concepts,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Bridge gates and forwards findings to the external memory sink.
type Bridge struct {
	cfg    config.MemoryBridgeConfig
	store  InjectionLog
	client *http.Client
}

func New(cfg config.MemoryBridgeConfig, st InjectionLog) *Bridge {
	return &Bridge{cfg: cfg, store: st, client: &http.Client{Timeout: 10 * time.Second}}
}

// meetsQualityThreshold is the automatic-injection gate.
func meetsQualityThreshold(f *store.Finding) bool {
	return f.Confidence >= 0.7 && len(f.Sources) >= 2
}

// IsHighQuality marks a finding worth surfacing prominently downstream. It
// implies meetsQualityThreshold: high quality is a stricter bar on top of
// the injection gate, never a separate one.
func IsHighQuality(f *store.Finding) bool {
	return meetsQualityThreshold(f) && f.Confidence >= 0.85
}

// Inject applies the quality gate and idempotency check, then writes through.
// Any failure (quality gate, transport) is non-fatal to the caller's research
// flow — the crew logs and moves on.
func (b *Bridge) Inject(ctx context.Context, f *store.Finding) error {
	return b.inject(ctx, f, false)
}

// ForceInject bypasses the quality gate (operator/API escape hatch).
func (b *Bridge) ForceInject(ctx context.Context, f *store.Finding) error {
	return b.inject(ctx, f, true)
}

func (b *Bridge) inject(ctx context.Context, f *store.Finding, forced bool) error {
	if !forced && !meetsQualityThreshold(f) {
		return nil
	}
	if b.store.WasInjected(f.ID) {
		return nil
	}
	if !b.cfg.Enabled {
		return nil
	}

	obs := b.toObservation(f)
	if err := b.send(ctx, obs); err != nil {
		return fmt.Errorf("send observation: %w", err)
	}
	if err := b.store.LogInjection(f.ID, forced); err != nil {
		log.Printf("[MemBridge] sent observation for finding %s but failed to log injection: %v", f.ID, err)
	}
	return nil
}

func (b *Bridge) toObservation(f *store.Finding) Observation {
	return Observation{
		SessionID: f.SessionID,
		Project:   f.ProjectPath,
		Type:      b.cfg.Tag,
		Title:     f.Query,
		Subtitle:  fmt.Sprintf("confidence %.2f", f.Confidence),
		Text:      f.Summary,
		Facts:     f.KeyPoints.Data,
		Narrative: f.Content,
		Concepts:  []string{f.Domain},
		CreatedAt: f.CreatedAt,
	}
}

func (b *Bridge) send(ctx context.Context, obs Observation) error {
	body, err := json.Marshal(obs)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if b.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.cfg.APIKey)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("memory sink returned status %d", resp.StatusCode)
	}
	return nil
}
