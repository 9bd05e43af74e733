package ingestion_engine

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"code.sajari.com/docconv"

	"github.com/markdave123-py/uwia/internal/core"
	"github.com/markdave123-py/uwia/internal/logger"
)

var _ core.TextExtractor = (*Cascade)(nil)

const (
	MethodFormFields = "form_fields"
	MethodBaseline   = "baseline"
	MethodStructured = "structured"
	MethodMetadata   = "metadata"
)

// Cascade runs the extraction methods in priority order and keeps the richest result.
// A failing method is logged and skipped; only exhausting all of them is an error.
type Cascade struct {
	minChars int
	timeout  time.Duration
	logger   *slog.Logger

	formFields func(ctx context.Context, data []byte) (map[string]string, error)
	baseline   func(ctx context.Context, data []byte) (string, map[string]string, error)
	structured func(ctx context.Context, data []byte) (string, map[string]string, error)
	binary     func(data []byte) string
}

// NewCascade wires the pdfcpu, docconv and ledongthuc/pdf backed methods. timeout bounds
// each method individually.
func NewCascade(minChars int, timeout time.Duration, useReadability bool, log *slog.Logger) *Cascade {
	return &Cascade{
		minChars:   minChars,
		timeout:    timeout,
		logger:     logger.OrDefault(log).With("component", "extraction_cascade"),
		formFields: exportFormFields,
		baseline: func(ctx context.Context, data []byte) (string, map[string]string, error) {
			return docconvText(ctx, data, useReadability)
		},
		structured: structuredText,
		binary:     scrapeBinaryText,
	}
}

func docconvText(ctx context.Context, data []byte, useReadability bool) (string, map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}
	res, err := docconv.Convert(bytes.NewReader(data), "application/pdf", useReadability)
	if err != nil {
		return "", nil, fmt.Errorf("docconv: %w", err)
	}
	return res.Body, res.Meta, nil
}

// WithTimeout returns a copy of the cascade whose methods are bounded by d.
func (c *Cascade) WithTimeout(d time.Duration) *Cascade {
	cp := *c
	cp.timeout = d
	return &cp
}

func (c *Cascade) usable(s string) bool {
	return len(strings.TrimSpace(s)) >= c.minChars
}

// ExtractText returns the best text of the document.
func (c *Cascade) ExtractText(ctx context.Context, data []byte) (*core.ExtractedText, error) {
	var (
		failures   []error
		candidates []string
	)
	note := func(method string, err error) {
		c.logger.Warn("extraction method failed", "method", method, "error", err)
		failures = append(failures, fmt.Errorf("%s: %w", method, err))
	}

	fields, err := runBounded(ctx, c.timeout, func(ctx context.Context) (map[string]string, error) {
		return c.formFields(ctx, data)
	})
	if err != nil {
		note(MethodFormFields, err)
	}
	formText := renderFormFields(fields)

	base, err := runBounded(ctx, c.timeout, func(ctx context.Context) (textWithFields, error) {
		text, meta, err := c.baseline(ctx, data)
		return textWithFields{text, meta}, err
	})
	if err != nil {
		note(MethodBaseline, err)
	}
	baseText, meta := base.text, base.fields

	structured, err := runBounded(ctx, c.timeout, func(ctx context.Context) (textWithFields, error) {
		text, found, err := c.structured(ctx, data)
		return textWithFields{text, found}, err
	})
	if err != nil {
		note(MethodStructured, err)
	}
	structText, structFields := structured.text, structured.fields

	best, method := "", ""
	if c.usable(baseText) {
		best, method = baseText, MethodBaseline
	}
	if c.usable(structText) && (len(structText) > len(best) || hasMissingValues(structFields, best)) {
		best, method = structText, MethodStructured
	}

	if best != "" {
		if hasMissingValues(fields, best) {
			best += formText
		}
		if extra := scanPatterns(data, best); extra != "" {
			best += "\n--- SUPPLEMENTARY PATTERNS ---\n" + extra
		}
	} else if c.usable(formText) {
		best, method = formText, MethodFormFields
	}

	if best == "" {
		scraped := c.binary(data) + renderMetadata(meta)
		if c.usable(scraped) {
			best, method = scraped, MethodMetadata
		}
		candidates = append(candidates, scraped)
	}

	if best == "" {
		candidates = append(candidates, baseText, structText, formText)
		sort.SliceStable(candidates, func(i, j int) bool { return len(candidates[i]) > len(candidates[j]) })
		if strings.TrimSpace(candidates[0]) == "" {
			return nil, core.ExtractionFailed(failures...)
		}
		best, method = candidates[0], "below_threshold"
		c.logger.Warn("no method met the quality bar, using longest partial result", "chars", len(best))
	}

	c.logger.Info("text extracted", "method", method, "chars", len(best), "form_fields", len(fields))
	return &core.ExtractedText{Text: best, Method: method, Metadata: meta, FormFields: mergeFields(fields, structFields)}, nil
}

type textWithFields struct {
	text   string
	fields map[string]string
}

// runBounded bounds fn by timeout. On timeout the method is abandoned, not stopped, and
// its late result is discarded.
func runBounded[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		v, err := fn(ctx)
		done <- result{v, err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return zero, res.err
		}
		return res.v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func hasMissingValues(fields map[string]string, text string) bool {
	for _, v := range fields {
		if v != "" && !strings.Contains(text, v) {
			return true
		}
	}
	return false
}

func mergeFields(a, b map[string]string) map[string]string {
	out := make(map[string]string, len(a)+len(b))
	for k, v := range b {
		out[k] = v
	}
	for k, v := range a {
		out[k] = v
	}
	return out
}

var (
	literalString = regexp.MustCompile(`\(((?:[^()\\]|\\.){2,200})\)`)
	keyValue      = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9 _.-]{1,40}\s*[:=]\s*\S.*$`)
	datePattern   = regexp.MustCompile(`\b\d{1,2}[/-]\d{1,2}[/-]\d{2,4}\b`)
	moneyPattern  = regexp.MustCompile(`\$\s?\d[\d,]*(\.\d{2})?`)
	checkboxState = regexp.MustCompile(`/(?:AS|V)\s*/(Yes|On|Off|Checked)\b`)
	textShow      = regexp.MustCompile(`(?s)BT(.*?)ET`)
)

const maxPatternHits = 200

// scanPatterns looks through the raw buffer for key/value, date, currency and checkbox
// tokens that the text layer did not capture.
func scanPatterns(data []byte, known string) string {
	seen := make(map[string]bool)
	var hits []string
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] || strings.Contains(known, s) || len(hits) >= maxPatternHits {
			return
		}
		seen[s] = true
		hits = append(hits, s)
	}

	raw := string(data)
	for _, m := range literalString.FindAllStringSubmatch(raw, -1) {
		s := unescapeLiteral(m[1])
		if keyValue.MatchString(s) || datePattern.MatchString(s) || moneyPattern.MatchString(s) {
			add(s)
		}
	}
	for _, m := range checkboxState.FindAllStringSubmatch(raw, -1) {
		if m[1] != "Off" {
			add("checkbox: " + m[1])
		}
	}
	return strings.Join(hits, "\n")
}

// scrapeBinaryText pulls literal strings out of uncompressed text-show blocks.
func scrapeBinaryText(data []byte) string {
	var b strings.Builder
	for _, block := range textShow.FindAllSubmatch(data, -1) {
		for _, m := range literalString.FindAllSubmatch(block[1], -1) {
			b.WriteString(unescapeLiteral(string(m[1])))
			b.WriteByte(' ')
		}
		b.WriteByte('\n')
	}
	return strings.TrimSpace(b.String())
}

func unescapeLiteral(s string) string {
	r := strings.NewReplacer(`\(`, "(", `\)`, ")", `\\`, `\`, `\n`, "\n", `\r`, "", `\t`, " ")
	return r.Replace(s)
}

func renderMetadata(meta map[string]string) string {
	if len(meta) == 0 {
		return ""
	}
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString("\n--- DOCUMENT PROPERTIES ---\n")
	for _, k := range keys {
		if v := strings.TrimSpace(meta[k]); v != "" {
			fmt.Fprintf(&b, "%s: %s\n", k, v)
		}
	}
	return b.String()
}
