// Package problems turns loosely shaped contest documents into the ordered,
// validated problem list the sandbox and session work with.
package problems

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"offline-contest/internal/domain"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const problemSchemaURL = "problem.schema.json"

// A usable problem needs a non-empty title and description. Everything else
// is optional and defaults when absent.
const problemSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["title", "description"],
  "properties": {
    "title": {"type": "string", "pattern": "\\S"},
    "description": {"type": "string", "pattern": "\\S"},
    "order": {"type": "number"},
    "testCases": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "input": {"type": "string"},
          "expectedOutput": {"type": "string"},
          "points": {"type": "number", "minimum": 0}
        }
      }
    }
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func problemValidator() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(problemSchemaURL, strings.NewReader(problemSchema)); err != nil {
			schemaErr = fmt.Errorf("add problem schema: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile(problemSchemaURL)
	})
	return compiledSchema, schemaErr
}

// flexID accepts both string and numeric identifiers.
type flexID string

func (id *flexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = flexID(n.String())
	return nil
}

type contestDocument struct {
	ID              flexID            `json:"id"`
	Title           string            `json:"title"`
	DurationMinutes *float64          `json:"durationMinutes"`
	Duration        *float64          `json:"duration"`
	Problems        []json.RawMessage `json:"problems"`
}

// problemEntry is either a problem record itself or a reference wrapper
// {"order": n, "problem": {...}}.
type problemEntry struct {
	Order   *float64        `json:"order"`
	Problem json.RawMessage `json:"problem"`
}

type problemRecord struct {
	ID          flexID                     `json:"id"`
	Title       string                     `json:"title"`
	Description string                     `json:"description"`
	Order       *float64                   `json:"order"`
	TestCases   []domain.TestCase          `json:"testCases"`
	Templates   map[domain.Language]string `json:"templates"`
	Harness     map[domain.Language]string `json:"harness"`
}

// ParseContest decodes a contest document and normalizes its problems.
// Malformed problem entries are dropped rather than failing the document.
func ParseContest(raw []byte) (domain.Contest, []error, error) {
	var doc contestDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return domain.Contest{}, nil, fmt.Errorf("decode contest: %w", err)
	}
	problems, dropped, err := NormalizeProblems(doc.Problems)
	if err != nil {
		return domain.Contest{}, nil, err
	}
	contest := domain.Contest{
		ID:       string(doc.ID),
		Title:    doc.Title,
		Problems: problems,
	}
	switch {
	case doc.DurationMinutes != nil:
		contest.DurationMinutes = int(*doc.DurationMinutes)
	case doc.Duration != nil:
		contest.DurationMinutes = int(*doc.Duration)
	}
	return contest, dropped, nil
}

type orderedProblem struct {
	problem domain.Problem
	key     int
}

// NormalizeProblems unwraps reference wrappers, validates each problem and
// sorts the survivors by declared order. Entries without an order keep their
// relative position after the ordered ones. The returned slice of errors
// explains every dropped entry.
func NormalizeProblems(entries []json.RawMessage) ([]domain.Problem, []error, error) {
	validator, err := problemValidator()
	if err != nil {
		return nil, nil, err
	}

	var dropped []error
	out := make([]orderedProblem, 0, len(entries))
	for i, raw := range entries {
		p, key, err := normalizeEntry(validator, raw, i)
		if err != nil {
			dropped = append(dropped, fmt.Errorf("problem entry %d: %w", i, err))
			continue
		}
		out = append(out, orderedProblem{problem: p, key: key})
	}

	sort.SliceStable(out, func(a, b int) bool {
		return out[a].key < out[b].key
	})
	problems := make([]domain.Problem, 0, len(out))
	for _, op := range out {
		problems = append(problems, op.problem)
	}
	return problems, dropped, nil
}

const unorderedBase = 1 << 30

func normalizeEntry(validator *jsonschema.Schema, raw json.RawMessage, position int) (domain.Problem, int, error) {
	var entry problemEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return domain.Problem{}, 0, fmt.Errorf("decode: %w", err)
	}
	body := []byte(raw)
	if len(bytes.TrimSpace(entry.Problem)) > 0 && string(bytes.TrimSpace(entry.Problem)) != "null" {
		body = entry.Problem
	}

	var instance any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&instance); err != nil {
		return domain.Problem{}, 0, fmt.Errorf("decode problem: %w", err)
	}
	if err := validator.Validate(instance); err != nil {
		return domain.Problem{}, 0, err
	}

	var rec problemRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return domain.Problem{}, 0, fmt.Errorf("decode problem: %w", err)
	}

	order, key := 0, unorderedBase+position
	switch {
	case entry.Order != nil:
		order = int(*entry.Order)
		key = order
	case rec.Order != nil:
		order = int(*rec.Order)
		key = order
	}
	id := string(rec.ID)
	if id == "" {
		id = "problem-" + strconv.Itoa(position+1)
	}

	return domain.Problem{
		ID:          id,
		Title:       strings.TrimSpace(rec.Title),
		Description: rec.Description,
		Order:       order,
		TestCases:   rec.TestCases,
		Templates:   rec.Templates,
		Harness:     rec.Harness,
	}, key, nil
}
