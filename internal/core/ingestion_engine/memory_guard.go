package ingestion_engine

import (
	"context"
	"log/slog"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/markdave123-py/uwia/internal/config"
	"github.com/markdave123-py/uwia/internal/logger"
)

type Pressure int

const (
	PressureNormal Pressure = iota
	PressureHigh
	PressureCritical
)

func (p Pressure) String() string {
	switch p {
	case PressureHigh:
		return "high"
	case PressureCritical:
		return "critical"
	default:
		return "normal"
	}
}

// MemoryGuard throttles batch processing when the heap approaches a configured limit.
// It slows progress between batches; it cannot stop a single oversized extraction.
type MemoryGuard struct {
	limit    uint64
	high     float64
	critical float64
	pause    time.Duration
	logger   *slog.Logger

	heapInUse func() uint64
	collect   func(free bool)
}

func NewMemoryGuard(cfg config.MemoryConfig, log *slog.Logger) *MemoryGuard {
	return &MemoryGuard{
		limit:     cfg.LimitBytes,
		high:      cfg.HighWatermark,
		critical:  cfg.CriticalWatermark,
		pause:     cfg.Pause,
		logger:    logger.OrDefault(log).With("component", "memory_guard"),
		heapInUse: readHeapInUse,
		collect:   collectGarbage,
	}
}

func readHeapInUse() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapInuse
}

func collectGarbage(free bool) {
	if free {
		debug.FreeOSMemory()
		return
	}
	runtime.GC()
}

// Level classifies the current heap usage.
func (g *MemoryGuard) Level() Pressure {
	if g == nil || g.limit == 0 {
		return PressureNormal
	}
	used := float64(g.heapInUse()) / float64(g.limit)
	switch {
	case used >= g.critical:
		return PressureCritical
	case used >= g.high:
		return PressureHigh
	default:
		return PressureNormal
	}
}

// Check runs before each batch. Above the critical watermark it returns memory to the OS
// and pauses; above the high watermark it only collects.
func (g *MemoryGuard) Check(ctx context.Context) (Pressure, error) {
	level := g.Level()
	switch level {
	case PressureCritical:
		g.logger.Warn("memory critical, pausing batch", "pause", g.pause)
		g.collect(true)
		t := time.NewTimer(g.pause)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return level, ctx.Err()
		case <-t.C:
		}
	case PressureHigh:
		g.logger.Info("memory high, collecting")
		g.collect(false)
	}
	return level, nil
}
