package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"go-research-crew/internal/config"
)

func uint64Ptr(v uint64) *uint64 { return &v }

const embeddingDim = 384

// vectorIndex is the optional semantic-recall backend. Its absence
// is always tolerated by callers — see Store.IsVectorReady.
type vectorIndex struct {
	client     *qdrant.Client
	collection string
	embedder   *embedder
}

func newVectorIndex(cfg config.QdrantConfig) (*vectorIndex, error) {
	host := strings.TrimPrefix(strings.TrimPrefix(cfg.URL, "http://"), "https://")
	if idx := strings.Index(host, ":"); idx != -1 {
		host = host[:idx]
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   6334,
		APIKey: cfg.APIKey,
		UseTLS: false,
	})
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}

	vi := &vectorIndex{
		client:     client,
		collection: cfg.Collection,
		embedder:   newEmbedder(cfg.EmbeddingURL),
	}
	if err := vi.ensureCollection(context.Background()); err != nil {
		return nil, err
	}
	return vi, nil
}

func (vi *vectorIndex) ensureCollection(ctx context.Context) error {
	exists, err := vi.client.CollectionExists(ctx, vi.collection)
	if err != nil {
		return fmt.Errorf("check collection: %w", err)
	}
	if exists {
		return nil
	}
	return vi.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: vi.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     embeddingDim,
			Distance: qdrant.Distance_Cosine,
		}),
	})
}

func (vi *vectorIndex) ready() bool {
	if vi == nil || vi.client == nil {
		return false
	}
	_, err := vi.client.CollectionExists(context.Background(), vi.collection)
	return err == nil
}

func (vi *vectorIndex) close() {
	// qdrant.Client has no explicit Close in older versions; nothing to
	// release beyond the underlying gRPC connection pool, which is
	// garbage-collected with the client.
}

func (vi *vectorIndex) upsert(f *Finding) error {
	vec, err := vi.embedder.embed(context.Background(), f.Query+" "+f.Summary)
	if err != nil {
		return fmt.Errorf("embed finding: %w", err)
	}
	id := uuid.New().String()
	payload := map[string]*qdrant.Value{
		"finding_id": qdrant.NewValueString(f.ID),
		"created_at": qdrant.NewValueInt(f.CreatedAt.Unix()),
	}
	_, err = vi.client.Upsert(context.Background(), &qdrant.UpsertPoints{
		CollectionName: vi.collection,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewIDUUID(id),
			Vectors: qdrant.NewVectors(vec...),
			Payload: payload,
		}},
	})
	return err
}

func (vi *vectorIndex) search(query string, limit int) ([]string, error) {
	vec, err := vi.embedder.embed(context.Background(), query)
	if err != nil {
		return nil, err
	}
	resp, err := vi.client.Query(context.Background(), &qdrant.QueryPoints{
		CollectionName: vi.collection,
		Query:          qdrant.NewQuery(vec...),
		Limit:          uint64Ptr(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(resp))
	for _, pt := range resp {
		if v, ok := pt.Payload["finding_id"]; ok {
			ids = append(ids, v.GetStringValue())
		}
	}
	return ids, nil
}

// mostSimilarSince returns the closest finding created within windowMs whose
// cosine similarity clears threshold. The time window is applied client-side
// against the payload's created_at field rather than as a server-side filter.
func (vi *vectorIndex) mostSimilarSince(text string, windowMs int64, threshold float64) (string, float64, error) {
	vec, err := vi.embedder.embed(context.Background(), text)
	if err != nil {
		return "", 0, err
	}
	cutoff := time.Now().Add(-time.Duration(windowMs) * time.Millisecond).Unix()

	resp, err := vi.client.Query(context.Background(), &qdrant.QueryPoints{
		CollectionName: vi.collection,
		Query:          qdrant.NewQuery(vec...),
		Limit:          uint64Ptr(20),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return "", 0, err
	}
	for _, pt := range resp {
		score := float64(pt.Score)
		if score < threshold {
			continue
		}
		v, ok := pt.Payload["finding_id"]
		if !ok {
			continue
		}
		if ca, ok := pt.Payload["created_at"]; ok && ca.GetIntegerValue() < cutoff {
			continue
		}
		return v.GetStringValue(), score, nil
	}
	return "", 0, nil
}

// embedder generates vector embeddings via an HTTP embedding service.
type embedder struct {
	apiURL string
	client *http.Client
}

func newEmbedder(apiURL string) *embedder {
	return &embedder{
		apiURL: apiURL,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

func (e *embedder) embed(ctx context.Context, text string) ([]float32, error) {
	if e.apiURL == "" {
		return nil, fmt.Errorf("no embedding endpoint configured")
	}
	reqBody := map[string]any{"input": text}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.apiURL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding API returned %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	if len(result.Data) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}
	return result.Data[0].Embedding, nil
}
