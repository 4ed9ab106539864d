package search

import (
	"context"
	"strings"

	"github.com/mouhebsa/blog-collaborator/internal/store"
)

type articleStore interface {
	SearchArticles(ctx context.Context, query string, limit int) ([]store.Article, error)
	ListArticles(ctx context.Context) ([]store.Article, error)
}

// PG implements article search over Postgres as a fallback when
// Meilisearch is unavailable.
type PG struct {
	store articleStore
}

// NewPG creates a Postgres-backed searcher.
func NewPG(store articleStore) *PG {
	return &PG{store: store}
}

// Healthy always returns true. If Postgres is down the whole app is down.
func (p *PG) Healthy() bool {
	return true
}

// Search matches the query against title, content, and tags.
func (p *PG) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}

	articles, err := p.store.SearchArticles(ctx, q.Text, limit)
	if err != nil {
		return nil, 0, err
	}

	results := make([]Result, 0, len(articles))
	for _, a := range articles {
		results = append(results, Result{
			ID:         a.ID,
			Title:      a.Title,
			Snippet:    snippet(a.Content),
			AuthorName: a.AuthorName,
			Tags:       a.Tags,
		})
	}
	return results, len(results), nil
}

// LoadAllRecords reads every article for reindexing.
func (p *PG) LoadAllRecords(ctx context.Context) ([]ArticleRecord, error) {
	articles, err := p.store.ListArticles(ctx)
	if err != nil {
		return nil, err
	}
	recs := make([]ArticleRecord, 0, len(articles))
	for _, a := range articles {
		recs = append(recs, ArticleRecord{
			ID:         a.ID,
			Title:      a.Title,
			Content:    a.Content,
			Tags:       a.Tags,
			AuthorName: a.AuthorName,
		})
	}
	return recs, nil
}

const snippetRunes = 200

func snippet(content string) string {
	content = strings.TrimSpace(content)
	runes := []rune(content)
	if len(runes) <= snippetRunes {
		return content
	}
	return string(runes[:snippetRunes]) + "…"
}
