// Package knowledge provides the retrieval capability consumed by the
// context enricher. The built-in retriever ranks a fixed heart-health
// corpus by keyword overlap; the embedding/index build is owned by an
// external system and is deliberately not reimplemented here.
package knowledge

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/BTreeMap/CareFlow/internal/models"
)

// Defaults for retrieval requests.
const (
	DefaultTopK     = 3
	DefaultMinScore = 0.2
)

// Document is one entry in the retriever's corpus.
type Document struct {
	Text   string
	Source string
}

// StaticRetriever scores documents by keyword overlap with the query.
type StaticRetriever struct {
	docs []Document
}

// NewStaticRetriever creates a retriever over the given corpus. An empty
// corpus falls back to the built-in heart-health documents.
func NewStaticRetriever(docs []Document) *StaticRetriever {
	if len(docs) == 0 {
		docs = builtinCorpus
	}
	slog.Debug("knowledge.NewStaticRetriever: retriever created", "documents", len(docs))
	return &StaticRetriever{docs: docs}
}

// Search returns up to topK snippets scoring at least minScore, ordered by
// descending relevance.
func (r *StaticRetriever) Search(ctx context.Context, query string, topK int, minScore float64) ([]models.KnowledgeSnippet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	if minScore <= 0 {
		minScore = DefaultMinScore
	}

	terms := tokenize(query)
	if len(terms) == 0 {
		return nil, nil
	}

	var snippets []models.KnowledgeSnippet
	for _, doc := range r.docs {
		score := overlapScore(terms, tokenize(doc.Text))
		if score >= minScore {
			snippets = append(snippets, models.KnowledgeSnippet{Text: doc.Text, Source: doc.Source, Score: score})
		}
	}
	sort.SliceStable(snippets, func(i, j int) bool { return snippets[i].Score > snippets[j].Score })
	if len(snippets) > topK {
		snippets = snippets[:topK]
	}
	slog.Debug("StaticRetriever.Search: search completed", "query_terms", len(terms), "results", len(snippets))
	return snippets, nil
}

// tokenize lowercases and splits text into terms, dropping stop words.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	var terms []string
	for _, f := range fields {
		if len(f) < 3 || stopWords[f] {
			continue
		}
		terms = append(terms, f)
	}
	return terms
}

// overlapScore is the fraction of query terms found in the document.
func overlapScore(queryTerms, docTerms []string) float64 {
	if len(queryTerms) == 0 {
		return 0
	}
	docSet := make(map[string]bool, len(docTerms))
	for _, t := range docTerms {
		docSet[t] = true
	}
	matched := 0
	for _, t := range queryTerms {
		if docSet[t] {
			matched++
		}
	}
	return float64(matched) / float64(len(queryTerms))
}

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true,
	"what": true, "how": true, "why": true, "does": true, "can": true,
	"about": true, "tell": true, "with": true, "your": true, "you": true,
	"this": true, "that": true, "are": true, "was": true, "has": true,
}
