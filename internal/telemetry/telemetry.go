// Package telemetry is C15: one long-lived counters object threaded
// through the API and worker processes, rather than package-level
// metrics singletons scattered across internal/chat and internal/llm.
package telemetry

import "sync/atomic"

// Counters tracks the handful of operational numbers the chat and sync
// layers care about: insights cache effectiveness, outbound LLM call
// volume/failure rate, tool dispatches, and applied sync batches. All fields are accessed only through atomic
// operations so a single Counters instance can be shared across request
// goroutines without its own lock.
type Counters struct {
	insightsCacheHits   atomic.Int64
	insightsCacheMisses atomic.Int64
	llmCalls            atomic.Int64
	llmFailures         atomic.Int64
	toolDispatches      atomic.Int64
	syncBatchesApplied  atomic.Int64
}

func New() *Counters {
	return &Counters{}
}

func (c *Counters) RecordInsightsCacheHit()  { c.insightsCacheHits.Add(1) }
func (c *Counters) RecordInsightsCacheMiss() { c.insightsCacheMisses.Add(1) }
func (c *Counters) RecordLLMCall()           { c.llmCalls.Add(1) }
func (c *Counters) RecordLLMFailure()        { c.llmFailures.Add(1) }
func (c *Counters) RecordToolDispatch()      { c.toolDispatches.Add(1) }
func (c *Counters) RecordSyncBatchApplied()  { c.syncBatchesApplied.Add(1) }

// Snapshot is a point-in-time read of every counter, suitable for
// exposing on an operator status endpoint.
type Snapshot struct {
	InsightsCacheHits   int64 `json:"insights_cache_hits"`
	InsightsCacheMisses int64 `json:"insights_cache_misses"`
	LLMCalls            int64 `json:"llm_calls"`
	LLMFailures         int64 `json:"llm_failures"`
	ToolDispatches      int64 `json:"tool_dispatches"`
	SyncBatchesApplied  int64 `json:"sync_batches_applied"`
}

func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		InsightsCacheHits:   c.insightsCacheHits.Load(),
		InsightsCacheMisses: c.insightsCacheMisses.Load(),
		LLMCalls:            c.llmCalls.Load(),
		LLMFailures:         c.llmFailures.Load(),
		ToolDispatches:      c.toolDispatches.Load(),
		SyncBatchesApplied:  c.syncBatchesApplied.Load(),
	}
}
