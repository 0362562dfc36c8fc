// Package recall is the long-term recall corpus: short texts stored in the
// shared SQLite database and found again by embedding similarity, or by
// keyword overlap when no embedder is configured.
package recall

import (
	"context"
	"crypto/md5"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"
)

// Embedder turns text into a vector. The OpenAI provider implements it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Store keeps chunks in the memory_chunks table (see timeline.Schema).
type Store struct {
	db       *sql.DB
	embedder Embedder
}

// NewStore creates a Store. embedder may be nil.
func NewStore(db *sql.DB, embedder Embedder) *Store {
	return &Store{db: db, embedder: embedder}
}

// chunkID is the content hash, so re-adding the same text is an upsert.
func chunkID(text string) string {
	sum := md5.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}

// sourceOf reads the "[kind:..." tag the callers prefix their texts with.
func sourceOf(text string) string {
	if strings.HasPrefix(text, "[") {
		if i := strings.IndexAny(text, ":]"); i > 1 {
			return text[1:i]
		}
	}
	return "chat"
}

// Add stores text.
func (s *Store) Add(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	var blob []byte
	if s.embedder != nil {
		vec, err := s.embedder.Embed(ctx, text)
		if err != nil {
			return fmt.Errorf("recall: embed: %w", err)
		}
		blob = encodeFloat32s(vec)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memory_chunks (id, content, embedding, source)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			embedding = COALESCE(excluded.embedding, memory_chunks.embedding)
	`, chunkID(text), text, blob, sourceOf(text))
	if err != nil {
		return fmt.Errorf("recall: add: %w", err)
	}
	return nil
}

type scored struct {
	content string
	score   float64
}

// Search returns up to topK stored texts related to query. With an embedder
// a hit's cosine distance must be below threshold; without one, texts
// sharing the most words (or CJK bigrams) with query win.
func (s *Store) Search(ctx context.Context, query string, topK int, threshold float64) ([]string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if topK <= 0 {
		topK = 3
	}
	var (
		hits []scored
		err  error
	)
	if s.embedder != nil {
		hits, err = s.searchVector(ctx, query, threshold)
	} else {
		hits, err = s.searchKeyword(ctx, query)
	}
	if err != nil {
		return nil, err
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.content
	}
	return out, nil
}

func (s *Store) searchVector(ctx context.Context, query string, threshold float64) ([]scored, error) {
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("recall: embed query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT content, embedding FROM memory_chunks WHERE embedding IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("recall: search: %w", err)
	}
	defer rows.Close()

	var hits []scored
	for rows.Next() {
		var content string
		var blob []byte
		if err := rows.Scan(&content, &blob); err != nil {
			continue
		}
		stored := decodeFloat32s(blob)
		if len(stored) != len(vec) {
			continue
		}
		sim := cosineSimilarity(vec, stored)
		if 1-sim < threshold {
			hits = append(hits, scored{content: content, score: sim})
		}
	}
	return hits, rows.Err()
}

func (s *Store) searchKeyword(ctx context.Context, query string) ([]scored, error) {
	terms := keywordTerms(query)
	if len(terms) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT content FROM memory_chunks ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("recall: search: %w", err)
	}
	defer rows.Close()

	var hits []scored
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			continue
		}
		lower := strings.ToLower(content)
		n := 0
		for _, t := range terms {
			if strings.Contains(lower, t) {
				n++
			}
		}
		if n > 0 {
			hits = append(hits, scored{content: content, score: float64(n) / float64(len(terms))})
		}
	}
	return hits, rows.Err()
}

// keywordTerms splits query into lower-cased words; runs of Han, kana or
// Hangul are split into bigrams.
func keywordTerms(query string) []string {
	seen := map[string]bool{}
	var terms []string
	add := func(t string) {
		if !seen[t] {
			seen[t] = true
			terms = append(terms, t)
		}
	}
	for _, field := range strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	}) {
		var cjk []rune
		flush := func() {
			if len(cjk) == 1 {
				add(string(cjk))
			}
			for i := 0; i+1 < len(cjk); i++ {
				add(string(cjk[i : i+2]))
			}
			cjk = cjk[:0]
		}
		var word []rune
		for _, r := range field {
			if unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul) {
				if len(word) > 1 {
					add(string(word))
				}
				word = word[:0]
				cjk = append(cjk, r)
				continue
			}
			flush()
			word = append(word, r)
		}
		flush()
		if len(word) > 1 {
			add(string(word))
		}
	}
	return terms
}

func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeFloat32s(b []byte) []float32 {
	if len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		ai, bi := float64(a[i]), float64(b[i])
		dot += ai * bi
		normA += ai * ai
		normB += bi * bi
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return dot / denom
}
