package llmgateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"go-research-crew/internal/circuitbreaker"
)

// Config controls gateway queue behavior.
type Config struct {
	URL                 string
	Model               string
	MaxConcurrent       int
	CriticalQueueSize   int
	BackgroundQueueSize int
	CriticalTimeout     time.Duration
	BackgroundTimeout   time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(url, model string) *Config {
	return &Config{
		URL:                 url,
		Model:               model,
		MaxConcurrent:       2,
		CriticalQueueSize:   20,
		BackgroundQueueSize: 100,
		CriticalTimeout:     60 * time.Second,
		BackgroundTimeout:   120 * time.Second,
	}
}

// Gateway is the process-wide LLM access point. It has no provider-specific
// knowledge: URL and Model are opaque configuration, and the wire format
// below is an OpenAI-compatible chat completion, the shape spoken by
// llama.cpp-style local servers.
type Gateway struct {
	cfg *Config
	cb  *circuitbreaker.CircuitBreaker

	criticalQueue   chan *request
	backgroundQueue chan *request
	semaphore       chan struct{}

	mu      sync.RWMutex
	metrics Metrics

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New starts a gateway and its dispatcher goroutine.
func New(cfg *Config) *Gateway {
	g := &Gateway{
		cfg:             cfg,
		cb:              circuitbreaker.New("llm-gateway", 5, 30*time.Second),
		criticalQueue:   make(chan *request, cfg.CriticalQueueSize),
		backgroundQueue: make(chan *request, cfg.BackgroundQueueSize),
		semaphore:       make(chan struct{}, cfg.MaxConcurrent),
		metrics: Metrics{
			CurrentQueueDepth: map[Priority]int{PriorityCritical: 0, PriorityBackground: 0},
		},
		stopCh: make(chan struct{}),
	}
	g.wg.Add(1)
	go g.dispatch()
	log.Printf("[LLMGateway] started with %d concurrent slots", cfg.MaxConcurrent)
	return g
}

// Query submits prompt and blocks until a reply, error, or ctx cancellation.
func (g *Gateway) Query(ctx context.Context, prompt string, opts Options) (Result, error) {
	if opts.Timeout == 0 {
		if opts.Priority == PriorityCritical {
			opts.Timeout = g.cfg.CriticalTimeout
		} else {
			opts.Timeout = g.cfg.BackgroundTimeout
		}
	}
	resultCh := make(chan Result, 1)
	errCh := make(chan error, 1)

	req := &request{
		id:         fmt.Sprintf("%d_%d", opts.Priority, time.Now().UnixNano()),
		ctx:        ctx,
		prompt:     prompt,
		opts:       opts,
		resultCh:   resultCh,
		errCh:      errCh,
		submitTime: time.Now(),
	}

	if err := g.submit(req); err != nil {
		return Result{}, err
	}

	select {
	case res := <-resultCh:
		return res, nil
	case err := <-errCh:
		return Result{}, err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (g *Gateway) submit(req *request) error {
	queue := g.backgroundQueue
	if req.opts.Priority == PriorityCritical {
		queue = g.criticalQueue
	}

	g.mu.Lock()
	if req.opts.Priority == PriorityCritical {
		g.metrics.CriticalEnqueued++
	} else {
		g.metrics.BackgroundEnqueued++
	}
	g.mu.Unlock()

	select {
	case queue <- req:
		return nil
	default:
		g.mu.Lock()
		if req.opts.Priority == PriorityCritical {
			g.metrics.CriticalDropped++
		} else {
			g.metrics.BackgroundDropped++
		}
		g.mu.Unlock()
		return fmt.Errorf("llm gateway queue full")
	}
}

// dispatch prefers critical requests, only draining background work when
// the critical queue is empty.
func (g *Gateway) dispatch() {
	defer g.wg.Done()
	for {
		select {
		case <-g.stopCh:
			return
		case req := <-g.criticalQueue:
			g.semaphore <- struct{}{}
			g.wg.Add(1)
			go g.process(req)
		case req := <-g.backgroundQueue:
			select {
			case critical := <-g.criticalQueue:
				g.backgroundQueue <- req
				g.semaphore <- struct{}{}
				g.wg.Add(1)
				go g.process(critical)
			default:
				g.semaphore <- struct{}{}
				g.wg.Add(1)
				go g.process(req)
			}
		}
	}
}

func (g *Gateway) process(req *request) {
	defer func() {
		<-g.semaphore
		g.wg.Done()
		g.mu.Lock()
		if req.opts.Priority == PriorityCritical {
			g.metrics.CriticalProcessed++
		} else {
			g.metrics.BackgroundProcessed++
		}
		g.mu.Unlock()
	}()

	if req.ctx.Err() != nil {
		req.errCh <- req.ctx.Err()
		return
	}

	ctx, cancel := context.WithTimeout(req.ctx, req.opts.Timeout)
	defer cancel()

	res, err := g.call(ctx, req)
	if err != nil {
		req.errCh <- err
		return
	}
	req.resultCh <- res
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

func (g *Gateway) call(ctx context.Context, req *request) (Result, error) {
	if g.cb.IsOpen() {
		return Result{}, fmt.Errorf("llm provider circuit open")
	}

	body := chatRequest{
		Model:       g.cfg.Model,
		Messages:    []chatMessage{{Role: "user", Content: req.prompt}},
		MaxTokens:   req.opts.MaxTokens,
		Temperature: req.opts.Temperature,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Result{}, fmt.Errorf("marshal llm request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("build llm request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: req.opts.Timeout}

	var httpResp *http.Response
	callErr := g.cb.Call(func() error {
		var doErr error
		httpResp, doErr = client.Do(httpReq)
		if doErr != nil {
			return doErr
		}
		if httpResp.StatusCode >= 500 {
			return fmt.Errorf("llm provider returned status %d", httpResp.StatusCode)
		}
		return nil
	})
	if callErr != nil {
		return Result{}, callErr
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("read llm response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("llm provider returned status %d: %s", httpResp.StatusCode, string(raw))
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Result{}, fmt.Errorf("decode llm response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return Result{}, fmt.Errorf("llm provider returned no choices")
	}

	return Result{
		Text:     parsed.Choices[0].Message.Content,
		Tokens:   parsed.Usage.TotalTokens,
		Provider: "gateway",
		Model:    g.cfg.Model,
	}, nil
}

// GetMetrics returns current queue statistics.
func (g *Gateway) GetMetrics() Metrics {
	g.mu.RLock()
	defer g.mu.RUnlock()
	m := g.metrics
	m.CurrentQueueDepth = map[Priority]int{
		PriorityCritical:   len(g.criticalQueue),
		PriorityBackground: len(g.backgroundQueue),
	}
	return m
}

// Stop gracefully shuts the gateway down.
func (g *Gateway) Stop() {
	close(g.stopCh)
	g.wg.Wait()
	log.Printf("[LLMGateway] stopped")
}
