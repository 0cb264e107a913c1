package retrieval

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	_ "modernc.org/sqlite" // pure-Go SQLite driver (no CGO required)
)

var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_versions (
    version     INTEGER PRIMARY KEY,
    applied_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS documents (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    source      TEXT NOT NULL,
    text        TEXT NOT NULL,
    metadata    TEXT NOT NULL DEFAULT '{}',
    token_count INTEGER NOT NULL DEFAULT 0,
    created_at  DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_source ON documents(source);
CREATE INDEX IF NOT EXISTS idx_documents_created_at ON documents(created_at DESC);

CREATE TABLE IF NOT EXISTS terms (
    term    TEXT NOT NULL,
    doc_id  INTEGER NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
    freq    INTEGER NOT NULL DEFAULT 1,
    PRIMARY KEY (term, doc_id)
);
CREATE INDEX IF NOT EXISTS idx_terms_term ON terms(term);
`,
	},
}

// Index is the SQLite-backed keyword retriever.
type Index struct {
	db  *sql.DB
	log *zap.Logger

	mu sync.Mutex // serialises writes; reads go through the pool
}

// OpenIndex opens (or creates) the index database at path and runs all
// pending schema migrations. Pass ":memory:" for an in-memory index.
func OpenIndex(path string, log *zap.Logger) (*Index, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	if path == ":memory:" {
		// A second pooled connection would see its own empty database.
		db.SetMaxOpenConns(1)
	}

	// WAL mode keeps the scheduler's readers off the writers' backs.
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	idx := &Index{db: db, log: log}
	if err := idx.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return idx, nil
}

// migrate applies any unapplied migrations in order.
func (idx *Index) migrate() error {
	_, err := idx.db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
        version    INTEGER PRIMARY KEY,
        applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
    )`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		if err := idx.db.QueryRow(`SELECT COUNT(*) FROM schema_versions WHERE version = ?`, m.version).Scan(&count); err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue
		}
		if _, err := idx.db.Exec(m.sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}
		if _, err := idx.db.Exec(`INSERT INTO schema_versions(version) VALUES(?)`, m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

// Close releases the database.
func (idx *Index) Close() error { return idx.db.Close() }

// IndexDocument tokenizes text and stores the document with its term
// frequencies. Source identifies where the text came from
// (partition/file for memory entries).
func (idx *Index) IndexDocument(ctx context.Context, source, text string, metadata map[string]any) error {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return nil
	}

	metaJSON := "{}"
	if len(metadata) > 0 {
		b, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		metaJSON = string(b)
	}

	freqs := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		freqs[tok]++
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
        INSERT INTO documents(source, text, metadata, token_count, created_at)
        VALUES(?,?,?,?,?)
    `, source, text, metaJSON, len(tokens), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	docID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("document id: %w", err)
	}

	for term, freq := range freqs {
		if _, err := tx.ExecContext(ctx, `
            INSERT INTO terms(term, doc_id, freq) VALUES(?,?,?)
            ON CONFLICT(term, doc_id) DO UPDATE SET freq = freq + excluded.freq
        `, term, docID, freq); err != nil {
			return fmt.Errorf("insert term %q: %w", term, err)
		}
	}

	return tx.Commit()
}

// Retrieve ranks documents by query-term overlap. The score is the
// fraction of distinct query terms present in the document, weighted
// by term frequency relative to document length.
func (idx *Index) Retrieve(ctx context.Context, query string, k int) ([]Hit, error) {
	if k <= 0 {
		k = 3
	}
	tokens := tokenize(query)
	if len(tokens) == 0 {
		return []Hit{}, nil
	}

	distinct := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		distinct[t] = true
	}
	terms := make([]string, 0, len(distinct))
	for t := range distinct {
		terms = append(terms, t)
	}
	sort.Strings(terms)

	placeholders := strings.Repeat("?,", len(terms))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(terms))
	for i, t := range terms {
		args[i] = t
	}

	rows, err := idx.db.QueryContext(ctx, `
        SELECT t.doc_id, COUNT(DISTINCT t.term), SUM(t.freq), d.source, d.text, d.metadata, d.token_count
        FROM terms t
        JOIN documents d ON d.id = t.doc_id
        WHERE t.term IN (`+placeholders+`)
        GROUP BY t.doc_id
    `, args...)
	if err != nil {
		return nil, fmt.Errorf("query terms: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var (
			docID      int64
			matched    int
			totalFreq  int
			source     string
			text       string
			metaJSON   string
			tokenCount int
		)
		if err := rows.Scan(&docID, &matched, &totalFreq, &source, &text, &metaJSON, &tokenCount); err != nil {
			return nil, fmt.Errorf("scan hit: %w", err)
		}

		overlap := float64(matched) / float64(len(terms))
		density := 0.0
		if tokenCount > 0 {
			density = float64(totalFreq) / float64(tokenCount)
			if density > 1 {
				density = 1
			}
		}
		score := overlap*0.8 + density*0.2

		var metadata map[string]any
		if err := json.Unmarshal([]byte(metaJSON), &metadata); err != nil {
			idx.log.Warn("malformed document metadata", zap.Int64("doc_id", docID), zap.Error(err))
			metadata = nil
		}

		hits = append(hits, Hit{Score: score, Source: source, Text: text, Metadata: metadata})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate hits: %w", err)
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	if hits == nil {
		hits = []Hit{}
	}
	return hits, nil
}

// DocumentCount reports how many documents are indexed.
func (idx *Index) DocumentCount(ctx context.Context) (int, error) {
	var n int
	if err := idx.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return n, nil
}

// IngestMemoryEntry is the memory-store observer hook: it flattens an
// appended entry's string fields into indexable text.
func (idx *Index) IngestMemoryEntry(partition, filename string, entry map[string]any) {
	var parts []string
	keys := make([]string, 0, len(entry))
	for k := range entry {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if k == "ts" {
			continue
		}
		switch v := entry[k].(type) {
		case string:
			parts = append(parts, v)
		case bool:
			parts = append(parts, k+"="+fmt.Sprint(v))
		}
	}
	if len(parts) == 0 {
		return
	}

	source := partition + "/" + filename
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := idx.IndexDocument(ctx, source, strings.Join(parts, " "), map[string]any{"partition": partition, "file": filename}); err != nil {
		idx.log.Warn("memory entry not indexed", zap.String("source", source), zap.Error(err))
	}
}
