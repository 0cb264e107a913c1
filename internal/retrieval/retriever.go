package retrieval

// Package retrieval supplies the decision loop with relevant memories.
//
// Responsibilities:
//   - Define the Retriever contract the loop consumes
//   - Index memory entries into a SQLite keyword index as they are written
//   - Rank documents by query-term overlap, highest score first
//   - Front repeated queries with a TTL cache
//
// The index is deliberately a keyword index: it runs on a bare machine
// with no embedding model, and swapping in a denser backend only means
// replacing the Retriever binding in the capability registry.

import (
	"context"
	"strings"
	"unicode"
)

// Hit is one ranked retrieval result.
type Hit struct {
	Score    float64        `json:"score"`
	Source   string         `json:"source"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Retriever returns the k most relevant documents for a query. Scores
// are monotonically non-increasing. An empty corpus yields an empty
// slice, never an error.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]Hit, error)
}

// stopwords are dropped during tokenization; they carry no ranking
// signal and bloat the terms table.
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "for": true, "from": true, "has": true, "in": true,
	"is": true, "it": true, "of": true, "on": true, "or": true, "that": true,
	"the": true, "to": true, "was": true, "with": true,
}

// tokenize lowercases, splits on non-alphanumerics, and drops stopwords
// and single-character fragments.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 2 || stopwords[f] {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}
