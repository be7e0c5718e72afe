package knowledge

import (
	"context"
	"testing"
)

func TestSearchRanksByOverlap(t *testing.T) {
	r := NewStaticRetriever([]Document{
		{Text: "Sodium intake raises blood pressure in salt-sensitive people", Source: "doc-sodium"},
		{Text: "Walking daily improves cardiovascular fitness", Source: "doc-walking"},
		{Text: "Blood pressure readings vary through the day", Source: "doc-bp"},
	})

	results, err := r.Search(context.Background(), "how does sodium affect blood pressure?", 3, 0.2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected results for matching query")
	}
	if results[0].Source != "doc-sodium" {
		t.Errorf("best match should lead, got %s", results[0].Source)
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Error("results should be ordered by descending score")
		}
	}
}

func TestSearchRespectsTopK(t *testing.T) {
	r := NewStaticRetriever(nil) // built-in corpus
	results, err := r.Search(context.Background(), "blood pressure heart health", 2, 0.1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) > 2 {
		t.Errorf("expected at most 2 results, got %d", len(results))
	}
}

func TestSearchFiltersByMinScore(t *testing.T) {
	r := NewStaticRetriever([]Document{
		{Text: "Walking daily improves cardiovascular fitness", Source: "doc-walking"},
	})
	results, err := r.Search(context.Background(), "quantum chromodynamics lattice regularization", 3, 0.2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("irrelevant query should return nothing, got %d results", len(results))
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	r := NewStaticRetriever(nil)
	results, err := r.Search(context.Background(), "the and for", 3, 0.2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results != nil {
		t.Error("stopword-only query should return nil")
	}
}

func TestSearchCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := NewStaticRetriever(nil)
	if _, err := r.Search(ctx, "blood pressure", 3, 0.2); err == nil {
		t.Error("cancelled context should surface an error")
	}
}

func TestTokenize(t *testing.T) {
	terms := tokenize("What is Blood-Pressure, and why does it matter?")
	for _, term := range terms {
		if term == "what" || term == "and" || term == "is" {
			t.Errorf("stopword or short token %q survived tokenization", term)
		}
	}
	found := false
	for _, term := range terms {
		if term == "blood" {
			found = true
		}
	}
	if !found {
		t.Error("expected 'blood' in tokenized terms")
	}
}
