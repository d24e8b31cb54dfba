package memory

import (
	"context"
	"encoding/json"

	"offline-contest/internal/domain"
)

// StaticContestLoader serves contest documents from an in-memory map (useful
// for tests, demos and the dev server without Postgres).
type StaticContestLoader struct {
	contests map[string]json.RawMessage
}

func NewStaticContestLoader(contests map[string]json.RawMessage) *StaticContestLoader {
	return &StaticContestLoader{contests: contests}
}

func (l *StaticContestLoader) FetchContest(_ context.Context, contestID string) ([]byte, error) {
	if doc, ok := l.contests[contestID]; ok {
		return doc, nil
	}
	return nil, domain.ErrContestNotFound
}

// DemoContest is a small two-language contest used by the dev server.
func DemoContest() json.RawMessage {
	return json.RawMessage(`{
  "id": "demo",
  "title": "Offline Warmup",
  "durationMinutes": 45,
  "problems": [
    {
      "order": 1,
      "problem": {
        "id": "sum",
        "title": "Sum of Numbers",
        "description": "The first line holds n, the second n integers. Print their sum.",
        "testCases": [
          {"input": "3\n1 2 3", "expectedOutput": "6", "points": 40},
          {"input": "1\n42", "expectedOutput": "42", "points": 60}
        ],
        "templates": {
          "javascript": "var lines = input.trim().split(\"\\n\");\n",
          "lua": "local n = io.read(\"n\")\n"
        }
      }
    },
    {
      "order": 2,
      "problem": {
        "id": "reverse",
        "title": "Reverse Words",
        "description": "Reverse the order of words in the given line.",
        "testCases": [
          {"input": "hello offline world", "expectedOutput": "world offline hello"},
          {"input": "a b", "expectedOutput": "b a"}
        ]
      }
    },
    {
      "order": 3,
      "problem": {
        "id": "pairs",
        "title": "Pair Up",
        "description": "Return the input numbers as a sorted array.",
        "testCases": [
          {"input": "3 1 2", "expectedOutput": "[1,2,3]"}
        ],
        "harness": {
          "javascript": "solve(input);",
          "lua": "return solve(input)"
        }
      }
    }
  ]
}`)
}
