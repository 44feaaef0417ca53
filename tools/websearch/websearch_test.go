package websearch

import (
	"context"
	"testing"

	"github.com/fundscope/researchd/config"
)

func TestNewSearcherDegradesWithoutKey(t *testing.T) {
	s, err := NewSearcher(config.SearchConfig{Provider: "tavily"})
	if err != nil {
		t.Fatalf("new searcher: %v", err)
	}
	results, err := s.Search(context.Background(), "anything", 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 || results[0].Title != "Search Unavailable" {
		t.Fatalf("expected placeholder result, got %+v", results)
	}
}

func TestNewSearcherUnknownProvider(t *testing.T) {
	if _, err := NewSearcher(config.SearchConfig{Provider: "duckduckgo"}); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestNewSearcherDefaultsToTavily(t *testing.T) {
	s, err := NewSearcher(config.SearchConfig{TavilyAPIKey: "key"})
	if err != nil {
		t.Fatalf("new searcher: %v", err)
	}
	if _, ok := s.(Unavailable); ok {
		t.Fatal("keyed provider must not degrade to the stub")
	}
}
