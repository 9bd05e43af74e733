package fusion

import (
	"log/slog"
	"strings"

	"github.com/markdave123-py/uwia/internal/core"
	"github.com/markdave123-py/uwia/internal/logger"
	"github.com/markdave123-py/uwia/internal/models"
)

// Separator joins the values of an answer vector.
const Separator = ";"

const (
	affirmative = "YES"
	negative    = "NO"
)

// Result is a fused answer vector aligned to the prompt's field names.
type Result struct {
	Answer     string
	Values     []string
	Confidence float64
	// Adjusted is set when the fused vector had to be padded or truncated.
	Adjusted bool
}

// Split parses a semicolon-delimited answer into trimmed values. Empty values become
// the NOT_FOUND sentinel.
func Split(answer string) []string {
	if strings.TrimSpace(answer) == "" {
		return nil
	}
	parts := strings.Split(answer, Separator)
	for i, p := range parts {
		parts[i] = normalize(p)
	}
	return parts
}

func normalize(v string) string {
	v = strings.TrimSpace(v)
	if v == "" || isSentinel(v) {
		return models.NotFound
	}
	return v
}

func isSentinel(v string) bool {
	return strings.EqualFold(strings.TrimSpace(v), models.NotFound)
}

// Fuse merges the text-path and vision-path answers field by field. A path that failed
// or never ran contributes NOT_FOUND for every field.
func Fuse(fieldNames []string, text, vision core.EvalResult, log *slog.Logger) Result {
	log = logger.OrDefault(log)

	var t, v []string
	if text.OK() {
		t = Split(text.Answer)
	}
	if vision.OK() {
		v = Split(vision.Answer)
	}

	n := max(len(t), len(v))
	if !text.OK() && !vision.OK() {
		n = len(fieldNames)
	}
	fused := make([]string, n)
	for i := range fused {
		fused[i] = pick(at(t, i), at(v, i))
	}

	res := Result{Values: fused}
	if len(fused) != len(fieldNames) {
		log.Warn("fused answer does not match the expected field count",
			"code", core.CodeAnswerFieldCountMismatch,
			"expected", len(fieldNames),
			"got", len(fused))
		res.Values = fit(fused, len(fieldNames))
		res.Adjusted = true
	}
	res.Answer = strings.Join(res.Values, Separator)
	res.Confidence = confidence(res.Values, text, vision)
	return res
}

func at(values []string, i int) string {
	if i < len(values) {
		return values[i]
	}
	return models.NotFound
}

// pick chooses between two candidate values for one field.
func pick(t, v string) string {
	switch {
	case isSentinel(t) && isSentinel(v):
		return models.NotFound
	case isSentinel(t):
		return v
	case isSentinel(v):
		return t
	case strings.EqualFold(t, v):
		return t
	case isAffirmative(t) && isNegative(v):
		return t
	case isAffirmative(v) && isNegative(t):
		return v
	case len(v) > len(t):
		return v
	default:
		return t
	}
}

func isAffirmative(s string) bool { return strings.EqualFold(s, affirmative) }
func isNegative(s string) bool    { return strings.EqualFold(s, negative) }

// fit pads with NOT_FOUND or truncates values to n entries.
func fit(values []string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = at(values, i)
	}
	return out
}

// confidence is the best confidence of the paths that produced an answer. With no
// usable path confidence it falls back to the fraction of fields found, and a vector with
// nothing found is always zero.
func confidence(values []string, text, vision core.EvalResult) float64 {
	found := 0
	for _, v := range values {
		if !isSentinel(v) {
			found++
		}
	}
	if found == 0 {
		return 0
	}

	best := 0.0
	for _, r := range []core.EvalResult{text, vision} {
		if r.OK() && r.Confidence > best {
			best = r.Confidence
		}
	}
	if best > 0 {
		return min(best, 1)
	}
	return float64(found) / float64(len(values))
}
