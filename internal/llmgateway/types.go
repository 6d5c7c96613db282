// Package llmgateway exposes a single, uniform LLM call: Query(prompt, opts)
// -> {text, tokens, provider, model}. It contains no retry logic of its own
// — callers (coordinator, watcher) decide whether and how to fall
// back. Requests are fanned through a small priority queue so that
// user-critical calls are never starved by background research traffic.
package llmgateway

import (
	"context"
	"time"
)

// Priority distinguishes latency-sensitive calls from background ones.
type Priority int

const (
	PriorityCritical   Priority = 0
	PriorityBackground Priority = 1
)

// Options controls a single Query call.
type Options struct {
	MaxTokens   int
	Temperature float64
	Priority    Priority
	Timeout     time.Duration
}

// Result is the gateway's uniform reply shape.
type Result struct {
	Text     string
	Tokens   int
	Provider string
	Model    string
}

// request is an internal envelope submitted to the gateway's dispatcher.
type request struct {
	id         string
	ctx        context.Context
	prompt     string
	opts       Options
	resultCh   chan<- Result
	errCh      chan<- error
	submitTime time.Time
}

// Metrics reports queue depth and throughput for diagnostics.
type Metrics struct {
	CriticalEnqueued    int64
	CriticalProcessed   int64
	CriticalDropped     int64
	BackgroundEnqueued  int64
	BackgroundProcessed int64
	BackgroundDropped   int64
	CurrentQueueDepth   map[Priority]int
}
