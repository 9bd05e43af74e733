package core

import "context"

// ExtractedText is the result of whole-document extraction.
type ExtractedText struct {
	Text       string
	Method     string
	Metadata   map[string]string
	FormFields map[string]string
}

// TextExtractor returns the best plain-text rendition of a whole document.
type TextExtractor interface {
	ExtractText(ctx context.Context, data []byte) (*ExtractedText, error)
}

// PageText is the text of one 1-based page.
type PageText struct {
	Page int
	Text string
}

type PageExtractor interface {
	ExtractPages(ctx context.Context, data []byte) ([]PageText, error)
}

// Rasterizer renders the requested 1-based pages to image bytes.
type Rasterizer interface {
	Rasterize(ctx context.Context, data []byte, pages []int, scale float64) (map[int][]byte, error)
}
