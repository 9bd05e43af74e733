package ingestion_engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

func relaxedConf() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// exportFormFields reads interactive form fields with pdfcpu's JSON form export.
func exportFormFields(ctx context.Context, data []byte) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out bytes.Buffer
	if err := api.ExportFormJSON(bytes.NewReader(data), &out, "upload", relaxedConf()); err != nil {
		return nil, fmt.Errorf("pdfcpu form export: %w", err)
	}
	return parseFormExport(out.Bytes())
}

// parseFormExport flattens pdfcpu's form JSON: every object carrying a "name" and a
// non-empty "value" (or "values") becomes one field.
func parseFormExport(raw []byte) (map[string]string, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode form export: %w", err)
	}
	fields := make(map[string]string)
	walkFormJSON(doc, fields)
	return fields, nil
}

func walkFormJSON(node any, fields map[string]string) {
	switch n := node.(type) {
	case []any:
		for _, item := range n {
			walkFormJSON(item, fields)
		}
	case map[string]any:
		if name, ok := n["name"].(string); ok && name != "" {
			if v := jsonFieldValue(n["value"]); v != "" {
				fields[name] = v
			} else if v := jsonFieldValue(n["values"]); v != "" {
				fields[name] = v
			}
		}
		for k, child := range n {
			if k == "value" || k == "values" {
				continue
			}
			walkFormJSON(child, fields)
		}
	}
}

func jsonFieldValue(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case bool:
		if t {
			return "Yes"
		}
		return "Off"
	case float64:
		return fmt.Sprint(t)
	case []any:
		var parts []string
		for _, item := range t {
			if s := jsonFieldValue(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	default:
		return ""
	}
}
