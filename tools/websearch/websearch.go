package websearch

import (
	"context"
	"fmt"

	"github.com/fundscope/researchd/config"
	"github.com/fundscope/researchd/tools/websearch/brave"
	"github.com/fundscope/researchd/tools/websearch/models"
	"github.com/fundscope/researchd/tools/websearch/serper"
	"github.com/fundscope/researchd/tools/websearch/tavily"
)

// Searcher performs a web search and returns up to k results.
type Searcher interface {
	Search(ctx context.Context, q string, k int) ([]models.Result, error)
}

type Provider string

const (
	TavilyProvider Provider = "tavily"
	SerperProvider Provider = "serper"
	BraveProvider  Provider = "brave"
)

// NewSearcher builds the configured provider. A provider whose API key
// is missing degrades to the unavailable stub instead of failing, so a
// research run still produces a report explaining the misconfiguration.
func NewSearcher(cfg config.SearchConfig) (Searcher, error) {
	name := Provider(cfg.Provider)
	if name == "" {
		name = TavilyProvider
	}
	switch name {
	case TavilyProvider:
		if cfg.TavilyAPIKey == "" {
			return Unavailable{Provider: string(name)}, nil
		}
		return tavily.Search{ApiKey: cfg.TavilyAPIKey}, nil
	case SerperProvider:
		if cfg.SerperAPIKey == "" {
			return Unavailable{Provider: string(name)}, nil
		}
		return serper.Search{ApiKey: cfg.SerperAPIKey}, nil
	case BraveProvider:
		if cfg.BraveAPIKey == "" {
			return Unavailable{Provider: string(name)}, nil
		}
		return brave.Search{ApiKey: cfg.BraveAPIKey}, nil
	default:
		return nil, fmt.Errorf("unsupported search provider: %s", cfg.Provider)
	}
}

// Unavailable stands in when no API key is configured. It returns a
// single placeholder result naming the missing configuration.
type Unavailable struct {
	Provider string
}

func (u Unavailable) Search(ctx context.Context, q string, k int) ([]models.Result, error) {
	return []models.Result{{
		Title:   "Search Unavailable",
		Content: fmt.Sprintf("%s API key not configured. Please add the key to the search configuration.", u.Provider),
		URL:     "",
	}}, nil
}
