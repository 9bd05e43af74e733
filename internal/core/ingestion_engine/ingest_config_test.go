package ingestion_engine

import (
	"testing"
	"time"
)

func TestSelectConfigBrackets(t *testing.T) {
	th := DefaultThresholds()
	cases := []struct {
		name string
		size int64
		want ProcessingProfile
	}{
		{"tiny", 1024, ProcessingProfile{ChunkSize: 0, MaxParallelism: 1}},
		{"exactly 10MB", 10 * mb, ProcessingProfile{ChunkSize: 0, MaxParallelism: 1}},
		{"just over 10MB", 10*mb + 1, ProcessingProfile{ChunkSize: 2 * mb, MaxParallelism: 4, UseStreaming: true}},
		{"35MB", 35 * mb, ProcessingProfile{ChunkSize: 5 * mb, MaxParallelism: 2, UseStreaming: true}},
		{"80MB", 80 * mb, ProcessingProfile{ChunkSize: 8 * mb, MaxParallelism: 1, UseStreaming: true, EnableSwapHint: true}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SelectConfig(tc.size, th); got != tc.want {
				t.Fatalf("SelectConfig(%d) = %+v, want %+v", tc.size, got, tc.want)
			}
		})
	}
}

func TestSelectConfigIsMonotonic(t *testing.T) {
	th := DefaultThresholds()
	prev := SelectConfig(0, th)
	for size := int64(0); size <= 120*mb; size += mb / 2 {
		cur := SelectConfig(size, th)
		if cur.ChunkSize < prev.ChunkSize {
			t.Fatalf("chunk size decreased at %d: %d < %d", size, cur.ChunkSize, prev.ChunkSize)
		}
		if prev.Chunked() && cur.MaxParallelism > prev.MaxParallelism {
			t.Fatalf("parallelism increased at %d", size)
		}
		if cur.Chunked() != (size > 10*mb) {
			t.Fatalf("chunking at %d = %v", size, cur.Chunked())
		}
		prev = cur
	}
}

func TestExtractTimeoutScales(t *testing.T) {
	th := DefaultThresholds()
	base, large := 90*time.Second, 5*time.Minute
	if got := ExtractTimeout(mb, th, base, large); got != base {
		t.Errorf("small = %v", got)
	}
	if got := ExtractTimeout(20*mb, th, base, large); got != 3*time.Minute {
		t.Errorf("medium = %v", got)
	}
	if got := ExtractTimeout(60*mb, th, base, large); got != large {
		t.Errorf("huge = %v", got)
	}
}
