// Package constants defines shared tunables for the ferry upload engine.
package constants

import (
	"time"
)

// Estimator timing
const (
	// TickInterval - cadence of the metrics recomputation pass (500 ms)
	// Shorter intervals give smoother speed display at the cost of more
	// wakeups; longer intervals make ETA jumpy for small files.
	TickInterval = 500 * time.Millisecond

	// MinSampleElapsed - floor applied to the elapsed time between two
	// samples before dividing (250 ms). Progress events can arrive in
	// sub-tick bursts; dividing by a near-zero interval would spike the
	// computed rate.
	MinSampleElapsed = 250 * time.Millisecond
)

// Transfer chunking
const (
	// ChunkAlign - resumable upload chunks must be multiples of 256 KiB
	ChunkAlign = 256 * 1024

	// DefaultChunkSize - default size of each upload chunk (8 MB)
	//
	// Trade-offs:
	// - Smaller chunks = more requests but better progress granularity
	// - Larger chunks = better throughput but coarser progress updates
	DefaultChunkSize = 8 * 1024 * 1024

	// MaxChunkSize - maximum chunk size for uploads (64 MB)
	MaxChunkSize = 64 * 1024 * 1024
)

// Concurrency limits
const (
	// DefaultMaxConcurrent - default number of parallel upload workers
	DefaultMaxConcurrent = 3

	// MaxConcurrentCeiling - hard cap on parallel upload workers
	MaxConcurrentCeiling = 10
)

// Event bus configuration
const (
	// EventBusDefaultBuffer - default buffer size for event channels (1000)
	// Progress events arrive at unbounded rates with no backpressure;
	// the bus drops rather than blocks when a subscriber falls behind.
	EventBusDefaultBuffer = 1000

	// EventBusMaxBuffer - maximum buffer size for high-throughput scenarios (5000)
	EventBusMaxBuffer = 5000
)

// Display
const (
	// ProgressDisplayCap - progress shown for an item that has not been
	// reported done. bytesSent can transiently exceed totalBytes (chunk
	// overlap, finalization lag), so the bar is pinned just below 100%
	// until the engine confirms completion.
	ProgressDisplayCap = 0.999
)
