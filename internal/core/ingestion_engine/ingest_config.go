package ingestion_engine

import (
	"time"

	"github.com/markdave123-py/uwia/internal/config"
)

// ProcessingProfile tunes how one document is chunked and stored.
//
// ChunkSize:      target bytes per chunk; 0 means the document is stored as a single chunk.
// MaxParallelism: chunks stored concurrently per batch.
// UseStreaming:   the document is processed in the background instead of inline.
// EnableSwapHint: the document is large enough that the memory guard is expected to kick in.
type ProcessingProfile struct {
	ChunkSize      int  `json:"chunkSize"`
	MaxParallelism int  `json:"maxParallelism"`
	UseStreaming   bool `json:"useStreaming"`
	EnableSwapHint bool `json:"enableSwapHint"`
}

// Chunked reports whether the profile requires background chunking.
func (p ProcessingProfile) Chunked() bool { return p.ChunkSize > 0 }

// SizeThresholds are the byte breakpoints between size brackets and the chunk size of each.
type SizeThresholds struct {
	NoChunkMax  int64
	MediumMax   int64
	LargeMax    int64
	MediumChunk int
	LargeChunk  int
	HugeChunk   int
}

const mb = 1 << 20

func DefaultThresholds() SizeThresholds {
	return SizeThresholds{
		NoChunkMax:  10 * mb,
		MediumMax:   25 * mb,
		LargeMax:    50 * mb,
		MediumChunk: 2 * mb,
		LargeChunk:  5 * mb,
		HugeChunk:   8 * mb,
	}
}

func ThresholdsFromConfig(c config.ProcessingConfig) SizeThresholds {
	return SizeThresholds{
		NoChunkMax:  c.NoChunkMaxBytes,
		MediumMax:   c.MediumMaxBytes,
		LargeMax:    c.LargeMaxBytes,
		MediumChunk: c.MediumChunkBytes,
		LargeChunk:  c.LargeChunkBytes,
		HugeChunk:   c.HugeChunkBytes,
	}
}

// SelectConfig maps a document size to its processing profile. It is pure: the same
// size and thresholds always give the same profile.
func SelectConfig(fileSize int64, t SizeThresholds) ProcessingProfile {
	switch {
	case fileSize <= t.NoChunkMax:
		return ProcessingProfile{ChunkSize: 0, MaxParallelism: 1}
	case fileSize <= t.MediumMax:
		return ProcessingProfile{ChunkSize: t.MediumChunk, MaxParallelism: 4, UseStreaming: true}
	case fileSize <= t.LargeMax:
		return ProcessingProfile{ChunkSize: t.LargeChunk, MaxParallelism: 2, UseStreaming: true}
	default:
		return ProcessingProfile{ChunkSize: t.HugeChunk, MaxParallelism: 1, UseStreaming: true, EnableSwapHint: true}
	}
}

// ExtractTimeout scales the extraction budget with document size: small documents get
// base, the largest bracket gets large, and everything between gets twice base capped at large.
func ExtractTimeout(fileSize int64, t SizeThresholds, base, large time.Duration) time.Duration {
	switch {
	case fileSize <= t.NoChunkMax:
		return base
	case fileSize > t.LargeMax:
		return large
	default:
		return min(2*base, large)
	}
}
