package ingestion_engine

import (
	"strings"
	"unicode/utf8"

	"github.com/markdave123-py/uwia/internal/core"
)

const (
	// MassivePageChars is the size above which a single page is treated as a collapsed
	// OCR blob and pre-split.
	MassivePageChars = 1_000_000
	// MassivePieceChars is the size of each piece cut from a massive page.
	MassivePieceChars = 8192
)

// PlannedChunk is one chunk of the plan, before it is stored.
//
// Index:     zero-based position inside the session.
// Content:   exact concatenation of the page texts it covers.
// PageStart: first page covered (1-based).
// PageEnd:   last page covered.
type PlannedChunk struct {
	Index     int
	Content   string
	PageStart int
	PageEnd   int
}

// PlanChunks packs pages into chunks of at most chunkSize bytes in arrival order. A page
// larger than chunkSize becomes a chunk on its own; a page above MassivePageChars is cut
// into MassivePieceChars pieces, each stored as its own chunk tagged with that page.
// chunkSize <= 0 disables the size limit.
func PlanChunks(pages []core.PageText, chunkSize int) []PlannedChunk {
	var (
		out        []PlannedChunk
		buf        strings.Builder
		start, end int
	)

	// flush seals the running buffer as a chunk.
	flush := func() {
		if buf.Len() == 0 {
			return
		}
		out = append(out, PlannedChunk{Index: len(out), Content: buf.String(), PageStart: start, PageEnd: end})
		buf.Reset()
	}

	for _, p := range pages {
		if utf8.RuneCountInString(p.Text) > MassivePageChars {
			flush()
			for _, piece := range splitRunes(p.Text, MassivePieceChars) {
				out = append(out, PlannedChunk{Index: len(out), Content: piece, PageStart: p.Page, PageEnd: p.Page})
			}
			continue
		}
		if p.Text == "" {
			continue
		}

		if chunkSize > 0 && buf.Len() > 0 && buf.Len()+len(p.Text) > chunkSize {
			flush()
		}
		if buf.Len() == 0 {
			start = p.Page
		}
		buf.WriteString(p.Text)
		end = p.Page
	}
	flush()

	return out
}

// splitRunes cuts s into pieces of at most n runes without splitting a UTF-8 sequence.
func splitRunes(s string, n int) []string {
	pieces := make([]string, 0, utf8.RuneCountInString(s)/n+1)
	for len(s) > 0 {
		i, count := 0, 0
		for i < len(s) && count < n {
			_, size := utf8.DecodeRuneInString(s[i:])
			i += size
			count++
		}
		pieces = append(pieces, s[:i])
		s = s[i:]
	}
	return pieces
}
