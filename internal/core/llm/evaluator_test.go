package llm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"strings"
	"testing"
	"unicode/utf8"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// scriptedLLM returns its replies in order and records the prompts it saw.
type scriptedLLM struct {
	replies []string
	err     error
	prompts []string
}

func (s *scriptedLLM) Generate(_ context.Context, _, user string) (string, error) {
	s.prompts = append(s.prompts, user)
	if s.err != nil {
		return "", s.err
	}
	if len(s.replies) == 0 {
		return "", errors.New("no scripted reply")
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	return r, nil
}

func (s *scriptedLLM) GenerateWithImage(ctx context.Context, sys, user string, _ []byte, _ string) (string, error) {
	return s.Generate(ctx, sys, user)
}

func TestEvaluateTextParsesJSONReply(t *testing.T) {
	m := &scriptedLLM{replies: []string{"```json\n{\"answer\": \" ACME;YES \", \"confidence\": 0.85}\n```"}}
	e := NewEvaluator(m, nil, false, discard)

	got := e.EvaluateText(context.Background(), "claim text", "Who is insured; signed?", "text")
	if !got.OK() || got.Answer != "ACME;YES" || got.Confidence != 0.85 {
		t.Fatalf("got %+v", got)
	}
	if !strings.Contains(m.prompts[0], "Expected answer type: text") || !strings.Contains(m.prompts[0], "claim text") {
		t.Fatalf("prompt = %q", m.prompts[0])
	}
}

func TestEvaluateTextBareReply(t *testing.T) {
	e := NewEvaluator(&scriptedLLM{replies: []string{"  John Smith "}}, nil, false, discard)

	got := e.EvaluateText(context.Background(), "ctx", "q", "")
	if !got.OK() || got.Answer != "John Smith" || got.Confidence != rawAnswerConfidence {
		t.Fatalf("got %+v", got)
	}
}

func TestEvaluateTextFailures(t *testing.T) {
	cases := map[string]*scriptedLLM{
		"provider error": {err: errors.New("quota exceeded")},
		"schema breach":  {replies: []string{`{"answer": 42}`}},
		"empty reply":    {replies: []string{"   "}},
	}
	for name, m := range cases {
		t.Run(name, func(t *testing.T) {
			got := NewEvaluator(m, nil, false, discard).EvaluateText(context.Background(), "ctx", "q", "")
			if got.OK() || got.Reason == "" {
				t.Fatalf("got %+v", got)
			}
		})
	}

	got := NewEvaluator(&scriptedLLM{}, nil, false, discard).EvaluateText(context.Background(), " ", "q", "")
	if got.OK() {
		t.Fatal("empty context should fail without calling the model")
	}
}

func TestValidationPassBlendsConfidence(t *testing.T) {
	m := &scriptedLLM{replies: []string{`{"answer":"YES","confidence":1}`, `{"confidence":0.5}`}}
	got := NewEvaluator(m, nil, true, discard).EvaluateText(context.Background(), "ctx", "signed?", "boolean")

	if math.Abs(got.Confidence-0.8) > 1e-9 {
		t.Fatalf("confidence = %v, want 0.8", got.Confidence)
	}
	if len(m.prompts) != 2 || !strings.Contains(m.prompts[1], "Proposed answer:\nYES") {
		t.Fatalf("prompts = %q", m.prompts)
	}
}

func TestValidationPassFailureKeepsFirstConfidence(t *testing.T) {
	m := &scriptedLLM{replies: []string{`{"answer":"YES","confidence":0.7}`, "no idea"}}
	got := NewEvaluator(m, nil, true, discard).EvaluateText(context.Background(), "ctx", "q", "")
	if got.Confidence != 0.7 {
		t.Fatalf("confidence = %v", got.Confidence)
	}
}

func TestEvaluateImage(t *testing.T) {
	m := &scriptedLLM{replies: []string{`{"answer":"YES","confidence":0.9}`}}
	got := NewEvaluator(nil, m, false, discard).EvaluateImage(context.Background(), []byte{0x89}, "image/png", "signed?", "boolean")
	if !got.OK() || got.Answer != "YES" {
		t.Fatalf("got %+v", got)
	}

	if NewEvaluator(nil, nil, false, discard).EvaluateImage(context.Background(), []byte{1}, "", "q", "").OK() {
		t.Fatal("missing vision provider must fail")
	}
}

func TestTruncateUTF8KeepsRunesWhole(t *testing.T) {
	cases := []struct {
		in   string
		n    int
		want string
	}{
		{"abc", 5, "abc"},
		{"abc", 2, "ab"},
		{"aé", 2, "a"},
		{"aé", 3, "aé"},
		{"日本", 4, "日"},
	}
	for _, tc := range cases {
		if got := truncateUTF8(tc.in, tc.n); got != tc.want {
			t.Errorf("truncateUTF8(%q, %d) = %q, want %q", tc.in, tc.n, got, tc.want)
		}
	}
}

func TestEvaluateTextTruncatesOnRuneBoundary(t *testing.T) {
	llm := &scriptedLLM{replies: []string{`{"answer": "X", "confidence": 0.9}`}}
	e := NewEvaluator(llm, nil, false, discard)

	huge := "a" + strings.Repeat("é", maxContextChars)
	if res := e.EvaluateText(context.Background(), huge, "q?", "text"); !res.OK() {
		t.Fatalf("result = %+v", res)
	}
	if !utf8.ValidString(llm.prompts[0]) {
		t.Fatal("prompt carries a split rune")
	}
}
