package fusion

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/markdave123-py/uwia/internal/core"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestFuse(t *testing.T) {
	tests := []struct {
		name   string
		fields []string
		text   core.EvalResult
		vision core.EvalResult
		want   string
	}{
		{
			name:   "unilateral presence",
			fields: []string{"a", "b"},
			text:   core.Success("X;NOT_FOUND", 0.8),
			vision: core.Failure("not run"),
			want:   "X;NOT_FOUND",
		},
		{
			name:   "boolean bias prefers yes",
			fields: []string{"sig"},
			text:   core.Success("NO", 0.9),
			vision: core.Success("YES", 0.6),
			want:   "YES",
		},
		{
			name:   "boolean bias is case insensitive",
			fields: []string{"sig"},
			text:   core.Success("yes", 0.9),
			vision: core.Success("No", 0.6),
			want:   "yes",
		},
		{
			name:   "longer value wins disagreement",
			fields: []string{"name"},
			text:   core.Success("John", 0.9),
			vision: core.Success("John A. Smith", 0.7),
			want:   "John A. Smith",
		},
		{
			name:   "both absent",
			fields: []string{"x"},
			text:   core.Success("NOT_FOUND", 0.9),
			vision: core.Success("NOT_FOUND", 0.9),
			want:   "NOT_FOUND",
		},
		{
			name:   "vision fills gaps left by text",
			fields: []string{"a", "b", "c"},
			text:   core.Success(" 01/02/2023 ; NOT_FOUND ;", 0.5),
			vision: core.Success("NOT_FOUND;ACME;YES", 0.5),
			want:   "01/02/2023;ACME;YES",
		},
		{
			name:   "shorter path defaults to sentinel",
			fields: []string{"a", "b"},
			text:   core.Success("A", 0.5),
			vision: core.Success("NOT_FOUND;B", 0.5),
			want:   "A;B",
		},
		{
			name:   "no path ran",
			fields: []string{"a", "b"},
			text:   core.Failure("timeout"),
			vision: core.EvalResult{},
			want:   "NOT_FOUND;NOT_FOUND",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Fuse(tc.fields, tc.text, tc.vision, discard)
			if got.Answer != tc.want {
				t.Fatalf("Fuse = %q, want %q", got.Answer, tc.want)
			}
			if len(got.Values) != len(tc.fields) {
				t.Fatalf("got %d values for %d fields", len(got.Values), len(tc.fields))
			}
		})
	}
}

func TestFuseConfidence(t *testing.T) {
	got := Fuse([]string{"x"}, core.Success("NOT_FOUND", 0.9), core.Success("NOT_FOUND", 0.4), discard)
	if got.Confidence != 0 {
		t.Fatalf("nothing found should give zero confidence, got %v", got.Confidence)
	}

	got = Fuse([]string{"a", "b"}, core.Success("A;NOT_FOUND", 0.3), core.Success("A;B", 0.8), discard)
	if got.Confidence != 0.8 {
		t.Fatalf("want the best path confidence, got %v", got.Confidence)
	}

	got = Fuse([]string{"a", "b", "c", "d"}, core.Success("A;NOT_FOUND;C;NOT_FOUND", 0), core.Failure("x"), discard)
	if got.Confidence != 0.5 {
		t.Fatalf("want found fraction 0.5, got %v", got.Confidence)
	}
}

func TestFusePadsAndTruncatesWithWarning(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))

	got := Fuse([]string{"a", "b", "c"}, core.Success("A", 0.5), core.Failure("x"), log)
	if got.Answer != "A;NOT_FOUND;NOT_FOUND" || !got.Adjusted {
		t.Fatalf("padding: %+v", got)
	}
	if !strings.Contains(buf.String(), core.CodeAnswerFieldCountMismatch) {
		t.Fatalf("mismatch not logged: %s", buf.String())
	}

	got = Fuse([]string{"a"}, core.Success("A;B;C", 0.5), core.Failure("x"), log)
	if got.Answer != "A" || !got.Adjusted {
		t.Fatalf("truncation: %+v", got)
	}

	got = Fuse([]string{"a"}, core.Success("A", 0.5), core.Failure("x"), log)
	if got.Adjusted {
		t.Fatal("an aligned vector must not be flagged")
	}
}

func TestSplitNormalizesSentinel(t *testing.T) {
	got := Split("not_found; x ;")
	want := []string{"NOT_FOUND", "x", "NOT_FOUND"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Split = %q, want %q", got, want)
		}
	}
	if Split("   ") != nil {
		t.Fatal("blank answer should have no values")
	}
}

func TestRender(t *testing.T) {
	got := Render("Is %insured_name% the insured on policy %policy%? %unknown%", map[string]string{
		"insured_name": "ACME",
		"policy":       "PN-1",
	})
	if got != "Is ACME the insured on policy PN-1? %unknown%" {
		t.Fatalf("Render = %q", got)
	}
	names := Placeholders("%a% and %b% then %a%")
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Fatalf("Placeholders = %v", names)
	}
}
