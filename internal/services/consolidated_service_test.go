package services

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/markdave123-py/uwia/internal/core"
	"github.com/markdave123-py/uwia/internal/core/cache"
	"github.com/markdave123-py/uwia/internal/models"
)

var pngMagic = []byte("\x89PNG\r\n\x1a\n0000")

type stubRasterizer struct {
	// timeoutAbove makes requests for more pages than this fail with ConversionTimeout.
	timeoutAbove int
	err          error
	calls        [][]int
}

func (r *stubRasterizer) Rasterize(_ context.Context, _ []byte, pages []int, _ float64) (map[int][]byte, error) {
	r.calls = append(r.calls, pages)
	if r.err != nil {
		return nil, r.err
	}
	if r.timeoutAbove > 0 && len(pages) > r.timeoutAbove {
		return nil, core.ConversionTimeout(pages, context.DeadlineExceeded)
	}
	out := make(map[int][]byte, len(pages))
	for _, p := range pages {
		out[p] = pngMagic
	}
	return out, nil
}

const testCatalog = `[
	{"documentName": "LOP", "question": "Signature and date for %insured_name%?", "expectedType": "text",
	 "fieldNames": ["signed", "date"], "expectedFieldsCount": 2},
	{"documentName": "POLICY", "question": "Policy number and insured for claim %claim_number%?",
	 "fieldNames": ["policy_number", "insured"], "expectedFieldsCount": 2}
]`

type consolidatedFixture struct {
	*sessionFixture
	eval   *scriptedEvaluator
	raster *stubRasterizer
	cache  *cache.MemoryCache
	svc    *ConsolidatedService
}

func newConsolidatedFixture(t *testing.T) *consolidatedFixture {
	t.Helper()
	catalog, err := ParsePromptCatalog([]byte(testCatalog))
	if err != nil {
		t.Fatal(err)
	}
	f := &consolidatedFixture{
		sessionFixture: newSessionFixture(t, "unused"),
		eval:           &scriptedEvaluator{},
		raster:         &stubRasterizer{},
		cache:          cache.NewMemoryCache(10),
	}
	f.svc = NewConsolidatedService(ConsolidatedServiceDeps{
		Sessions:       f.sessionFixture.svc,
		Store:          f.store,
		Objects:        f.objects,
		Bucket:         "claims",
		Evaluator:      f.eval,
		Rasterizer:     f.raster,
		Catalog:        catalog,
		Cache:          f.cache,
		VisionMaxPages: 3,
	}, discard)
	return f
}

// archivedSession is a ready session whose upload is in object storage.
func (f *consolidatedFixture) archivedSession(t *testing.T, id string, contents ...string) {
	t.Helper()
	key := "sessions/" + id + "/claim.pdf"
	f.objects.files[key] = []byte("%PDF-1.7")
	readySessionWithKey(t, f.store, id, key, contents...)
}

func TestAnalyzeTextOnlyPrompt(t *testing.T) {
	ctx := context.Background()
	f := newConsolidatedFixture(t)
	f.archivedSession(t, "c1", "Policy HO-9 insured John Roe", "claim 77")
	f.eval.text = core.Success("HO-9; John Roe", 0.8)

	res, err := f.svc.Analyze(ctx, "c1", "policy", map[string]string{"claim_number": "77"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Answer != "HO-9;John Roe" || !reflect.DeepEqual(res.Values, []string{"HO-9", "John Roe"}) {
		t.Fatalf("answer = %q values = %v", res.Answer, res.Values)
	}
	if res.Fields["policy_number"] != "HO-9" || res.Fields["insured"] != "John Roe" {
		t.Fatalf("fields = %v", res.Fields)
	}
	if res.VisionPath.Ran || len(f.raster.calls) != 0 {
		t.Fatal("vision path should not run for a text-only prompt")
	}
	if len(f.eval.contexts) != 1 || f.eval.contexts[0] != "Policy HO-9 insured John Roe\n\nclaim 77" {
		t.Fatalf("contexts = %q", f.eval.contexts)
	}
}

func TestAnalyzeFusesVisionAnswers(t *testing.T) {
	ctx := context.Background()
	f := newConsolidatedFixture(t)
	f.archivedSession(t, "c2", "Letter of protection dated 01/02/2024")
	f.eval.text = core.Success("NOT_FOUND;01/02/2024", 0.6)
	f.eval.images = []core.EvalResult{
		core.Success("NO;NOT_FOUND", 0.5),
		core.Success("YES;NOT_FOUND", 0.9),
	}

	res, err := f.svc.Analyze(ctx, "c2", "LOP", map[string]string{"insured_name": "Jane"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Answer != "YES;01/02/2024" {
		t.Fatalf("answer = %q", res.Answer)
	}
	if !res.VisionPath.Ran || !res.VisionPath.OK {
		t.Fatalf("vision path = %+v", res.VisionPath)
	}
	for _, m := range f.eval.mimes {
		if m != "image/png" {
			t.Fatalf("mime = %q", m)
		}
	}
	if f.cache.Len(ctx) != 1 {
		t.Fatal("classification was not cached")
	}
}

func TestAnalyzeRetriesFirstPageAfterConversionTimeout(t *testing.T) {
	ctx := context.Background()
	f := newConsolidatedFixture(t)
	f.archivedSession(t, "c3", "text")
	f.raster.timeoutAbove = 1
	f.eval.text = core.Failure("no text answer")
	f.eval.images = []core.EvalResult{core.Success("YES;03/04/2024", 0.7)}

	res, err := f.svc.Analyze(ctx, "c3", "LOP", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(f.raster.calls) != 2 || !reflect.DeepEqual(f.raster.calls[1], []int{1}) {
		t.Fatalf("rasterize calls = %v", f.raster.calls)
	}
	if res.Answer != "YES;03/04/2024" {
		t.Fatalf("answer = %q", res.Answer)
	}
}

func TestAnalyzeFallsBackToTextWhenVisionFails(t *testing.T) {
	ctx := context.Background()
	f := newConsolidatedFixture(t)
	f.archivedSession(t, "c4", "text")
	f.raster.err = errors.New("corrupt xref")
	f.eval.text = core.Success("YES;05/06/2024", 0.75)

	res, err := f.svc.Analyze(ctx, "c4", "LOP", nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Answer != "YES;05/06/2024" || res.VisionPath.OK || !res.VisionPath.Ran {
		t.Fatalf("result = %+v", res)
	}
	if !strings.Contains(res.VisionPath.Reason, "corrupt xref") {
		t.Fatalf("vision reason = %q", res.VisionPath.Reason)
	}
}

func TestAnalyzeBothPathsFailed(t *testing.T) {
	ctx := context.Background()
	f := newConsolidatedFixture(t)
	readySession(t, f.store, "c5", "text")
	f.eval.text = core.Failure("timeout")

	res, err := f.svc.Analyze(ctx, "c5", "LOP", nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Answer != "NOT_FOUND;NOT_FOUND" || res.Confidence != 0 {
		t.Fatalf("result = %+v", res)
	}
	if res.VisionPath.Reason == "" {
		t.Fatal("missing archive should be reported on the vision path")
	}
}

func TestAnalyzeErrors(t *testing.T) {
	ctx := context.Background()
	f := newConsolidatedFixture(t)

	if _, err := f.svc.Analyze(ctx, "c6", "UNKNOWN", nil); !errors.Is(err, core.ErrInvalidInput) {
		t.Errorf("unknown document err = %v", err)
	}
	if _, err := f.svc.Analyze(ctx, "c6", "LOP", nil); !errors.Is(err, core.ErrSessionNotFound) {
		t.Errorf("unknown session err = %v", err)
	}
}

func TestNeedsVisualAndClassificationKey(t *testing.T) {
	if !NeedsVisual("Is the form SIGNED by the homeowner?") {
		t.Error("signature question should need visual evidence")
	}
	if NeedsVisual("What is the policy number?") {
		t.Error("policy number should be answerable from text")
	}
	a := ClassificationKey("LOP", "q1")
	if a == ClassificationKey("LOP", "q2") || a == ClassificationKey("POLICY", "q1") {
		t.Error("keys must differ by document and question")
	}
	if !strings.HasPrefix(a, "LOP:") || len(a) != len("LOP:")+64 {
		t.Errorf("key = %q", a)
	}
}

func TestJoinChunksOrdersByIndex(t *testing.T) {
	chunks := []models.Chunk{{ChunkIndex: 2, Content: "c"}, {ChunkIndex: 0, Content: "a"}, {ChunkIndex: 1, Content: "b"}}
	if got := joinChunks(chunks); got != "a\n\nb\n\nc" {
		t.Fatalf("joinChunks = %q", got)
	}
}
