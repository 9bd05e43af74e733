package ingestion_engine

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/markdave123-py/uwia/internal/core"
	"github.com/markdave123-py/uwia/internal/logger"
)

var _ core.PageExtractor = (*PDFPageExtractor)(nil)

// PDFPageExtractor reads per-page plain text with ledongthuc/pdf.
type PDFPageExtractor struct {
	logger *slog.Logger
}

func NewPDFPageExtractor(log *slog.Logger) *PDFPageExtractor {
	return &PDFPageExtractor{logger: logger.OrDefault(log).With("component", "pdf_pages")}
}

// ExtractPages returns one entry per page that has a content dictionary. Each page's
// text ends with a newline so concatenated pages stay readable.
func (e *PDFPageExtractor) ExtractPages(ctx context.Context, data []byte) (pages []core.PageText, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf reader panic: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	total := reader.NumPage()
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(pageFonts(page))
		if err != nil {
			e.logger.Warn("page text extraction failed", "page", i, "error", err)
			continue
		}
		if text != "" && !strings.HasSuffix(text, "\n") {
			text += "\n"
		}
		pages = append(pages, core.PageText{Page: i, Text: text})
	}
	return pages, nil
}

func pageFonts(p pdf.Page) map[string]*pdf.Font {
	fonts := make(map[string]*pdf.Font)
	for _, name := range p.Fonts() {
		f := p.Font(name)
		fonts[name] = &f
	}
	return fonts
}

// structuredText walks every page for flow text and collects annotation and AcroForm
// field values. Field values are returned separately and also appended as a trailer.
func structuredText(ctx context.Context, data []byte) (text string, fields map[string]string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf reader panic: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", nil, fmt.Errorf("open pdf: %w", err)
	}

	fields = make(map[string]string)
	var b strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return "", nil, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		if t, err := page.GetPlainText(pageFonts(page)); err == nil && t != "" {
			b.WriteString(t)
			if !strings.HasSuffix(t, "\n") {
				b.WriteString("\n")
			}
		}
		annots := page.V.Key("Annots")
		for j := 0; j < annots.Len(); j++ {
			collectField(annots.Index(j), "", fields)
		}
	}

	acro := reader.Trailer().Key("Root").Key("AcroForm").Key("Fields")
	for j := 0; j < acro.Len(); j++ {
		collectField(acro.Index(j), "", fields)
	}

	if len(fields) > 0 {
		b.WriteString(renderFormFields(fields))
	}
	return b.String(), fields, nil
}

// collectField records the value of a form field dictionary and recurses into its kids.
func collectField(v pdf.Value, parent string, out map[string]string) {
	if v.IsNull() {
		return
	}
	name := v.Key("T").Text()
	if parent != "" && name != "" {
		name = parent + "." + name
	} else if name == "" {
		name = parent
	}

	if val := fieldValue(v.Key("V")); name != "" && val != "" {
		out[name] = val
	}

	kids := v.Key("Kids")
	for k := 0; k < kids.Len(); k++ {
		collectField(kids.Index(k), name, out)
	}
}

func fieldValue(v pdf.Value) string {
	switch v.Kind() {
	case pdf.String:
		return strings.TrimSpace(v.Text())
	case pdf.Name:
		return v.Name()
	case pdf.Integer:
		return fmt.Sprint(v.Int64())
	case pdf.Real:
		return fmt.Sprint(v.Float64())
	case pdf.Bool:
		return fmt.Sprint(v.Bool())
	case pdf.Array:
		var parts []string
		for i := 0; i < v.Len(); i++ {
			if s := fieldValue(v.Index(i)); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	default:
		return ""
	}
}

// renderFormFields formats fields as the canonical trailer block, sorted by name.
func renderFormFields(fields map[string]string) string {
	if len(fields) == 0 {
		return ""
	}
	names := make([]string, 0, len(fields))
	for n := range fields {
		names = append(names, n)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("\n--- FORM FIELD VALUES ---\n")
	for _, n := range names {
		fmt.Fprintf(&b, "%s: %s\n", n, fields[n])
	}
	return b.String()
}
