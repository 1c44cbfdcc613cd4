package services

import (
	"context"

	"github.com/doc-catalog/models"
)

// SearchService answers hybrid queries over the document corpus.
type SearchService interface {
	Search(ctx context.Context, req models.SearchRequest) (*models.SearchResponse, error)
	Suggestions(ctx context.Context, partial string, limit int) ([]string, error)
	TopQueries(ctx context.Context, limit int) ([]models.TopQuery, error)
	RecentDocuments(ctx context.Context, limit int) ([]models.Document, error)

	// InvalidateCaches drops search result caches and the facet cache.
	// Called after any document content change commits.
	InvalidateCaches(ctx context.Context) error
}
