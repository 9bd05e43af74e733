package services

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/markdave123-py/uwia/internal/core/schema"
	"github.com/markdave123-py/uwia/internal/models"
)

//go:embed catalog/default.json
var defaultCatalog []byte

const catalogSchema = `{
	"type": "array",
	"minItems": 1,
	"items": {
		"type": "object",
		"required": ["documentName", "question", "fieldNames", "expectedFieldsCount"],
		"properties": {
			"documentName": {"type": "string", "minLength": 1},
			"question": {"type": "string", "minLength": 1},
			"expectedType": {"type": "string"},
			"fieldNames": {"type": "array", "minItems": 1, "items": {"type": "string", "minLength": 1}},
			"expectedFieldsCount": {"type": "integer", "minimum": 1}
		}
	}
}`

var compiledCatalogSchema = schema.MustCompile("catalog.json", catalogSchema)

// PromptCatalog holds the consolidated prompts, keyed by document name.
type PromptCatalog struct {
	prompts map[string]models.ConsolidatedPrompt
}

// LoadPromptCatalog reads the catalog at path, or the built-in one when path is empty.
func LoadPromptCatalog(path string) (*PromptCatalog, error) {
	data := defaultCatalog
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read prompt catalog: %w", err)
		}
		data = b
	}
	return ParsePromptCatalog(data)
}

// ParsePromptCatalog validates and indexes a JSON catalog. Every prompt must declare as
// many fields as it names, and document names must be unique.
func ParsePromptCatalog(data []byte) (*PromptCatalog, error) {
	if err := schema.Validate(compiledCatalogSchema, data); err != nil {
		return nil, fmt.Errorf("prompt catalog: %w", err)
	}
	var prompts []models.ConsolidatedPrompt
	if err := json.Unmarshal(data, &prompts); err != nil {
		return nil, fmt.Errorf("prompt catalog: %w", err)
	}

	c := &PromptCatalog{prompts: make(map[string]models.ConsolidatedPrompt, len(prompts))}
	for _, p := range prompts {
		if p.ExpectedFieldsCount != len(p.FieldNames) {
			return nil, fmt.Errorf("prompt catalog: %s expects %d fields but names %d",
				p.DocumentName, p.ExpectedFieldsCount, len(p.FieldNames))
		}
		key := strings.ToUpper(p.DocumentName)
		if _, dup := c.prompts[key]; dup {
			return nil, fmt.Errorf("prompt catalog: duplicate document %s", p.DocumentName)
		}
		if p.ExpectedType == "" {
			p.ExpectedType = "text"
		}
		c.prompts[key] = p
	}
	return c, nil
}

// Lookup finds a prompt by document name, ignoring case.
func (c *PromptCatalog) Lookup(documentName string) (models.ConsolidatedPrompt, bool) {
	p, ok := c.prompts[strings.ToUpper(strings.TrimSpace(documentName))]
	return p, ok
}

func (c *PromptCatalog) Names() []string {
	names := make([]string, 0, len(c.prompts))
	for _, p := range c.prompts {
		names = append(names, p.DocumentName)
	}
	sort.Strings(names)
	return names
}
