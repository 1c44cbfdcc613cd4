package services

import (
	"context"
	"time"

	"github.com/doc-catalog/models"
)

// VectorHit is one approximate-nearest-neighbor result with a cosine
// similarity score in [0,1].
type VectorHit struct {
	DocumentID int64
	Score      float64
}

// TextHit is one full-text result with its raw ts_rank value.
type TextHit struct {
	DocumentID int64
	Rank       float64
}

// StatusCounts maps document status to the number of documents in it.
type StatusCounts map[models.DocumentStatus]int64

// DocumentService is the typed store for documents and search analytics.
// Mutations run inside transactions; reads may not.
type DocumentService interface {
	CreateDocument(ctx context.Context, filename, blobKey string, sizeBytes int64) (*models.Document, error)
	GetDocument(ctx context.Context, id int64) (*models.Document, error)

	// UpdateStatus atomically applies a lifecycle transition. Illegal
	// transitions fail with ErrInvalidTransition without mutating state.
	UpdateStatus(ctx context.Context, id int64, status models.DocumentStatus, progress *int, errMsg *string) error

	// UpdateContent persists extraction and analysis output. The full-text
	// index column is re-derived by the database.
	UpdateContent(ctx context.Context, id int64, extractedText string, analysis models.AIAnalysis, keywords []string, metadata map[string]any, previewKey *string) error

	// UpdateEmbedding persists the search vector; its length must equal the
	// configured dimension.
	UpdateEmbedding(ctx context.Context, id int64, vector []float32) error

	// ReplaceTaxonomyMappings makes the document's term set equal termIDs.
	ReplaceTaxonomyMappings(ctx context.Context, documentID int64, termIDs []int64) error

	// ResetForReprocessing clears derived fields and mappings, resets the
	// lifecycle to QUEUED, and is idempotent. Rejected with
	// ErrConflictingState while the document is PROCESSING.
	ResetForReprocessing(ctx context.Context, id int64) error

	DeleteDocument(ctx context.Context, id int64) error

	QueryDocuments(ctx context.Context, filter models.DocumentFilter) (*models.DocumentListResponse, error)
	GetDocumentsByIDs(ctx context.Context, ids []int64) ([]models.Document, error)

	VectorSearch(ctx context.Context, queryVector []float32, k int, filter models.DocumentFilter) ([]VectorHit, error)
	FulltextSearch(ctx context.Context, queryText string, k int, filter models.DocumentFilter) ([]TextHit, error)

	// StuckDocuments returns ids sitting in PENDING or QUEUED for longer
	// than the threshold.
	StuckDocuments(ctx context.Context, olderThan time.Duration) ([]int64, error)

	CountByStatus(ctx context.Context) (StatusCounts, error)
	FacetCounts(ctx context.Context) (*models.Facets, error)
	RecentDocuments(ctx context.Context, limit int) ([]models.Document, error)
	SuggestFilenames(ctx context.Context, prefix string, limit int) ([]string, error)

	LogSearchQuery(ctx context.Context, queryText string, actorID *string) error
	TopQueries(ctx context.Context, limit int, since time.Time) ([]models.TopQuery, error)
}
