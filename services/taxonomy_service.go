package services

import (
	"context"
	"io"

	"github.com/doc-catalog/models"
)

// TaxonomyService manages the controlled vocabulary and resolves free text
// to canonical terms. Readers tolerate eventual consistency of the in-memory
// snapshot; mutations go through FindOrCreate and Initialize only.
type TaxonomyService interface {
	// Initialize loads a CSV source with columns
	// primary_category,subcategory,term,synonyms (synonyms pipe-separated)
	// and an optional parent column naming another term. Parent links that
	// form a cycle, or name an unknown term, roll the whole import back.
	// Idempotent: re-running over the same source creates nothing new.
	Initialize(ctx context.Context, source io.Reader) (*models.TaxonomyInitCounts, error)

	Hierarchy(ctx context.Context) (models.TaxonomyHierarchy, error)
	CanonicalTerms(ctx context.Context) ([]string, error)
	PrimaryCategories(ctx context.Context) ([]string, error)
	Search(ctx context.Context, query string, limit int) ([]string, error)

	// Resolve maps a verbatim string to a canonical term: exact match, then
	// synonym, then normalized equality, then fuzzy (edit distance ≤2 with a
	// single candidate). Returns nil when nothing matches.
	Resolve(ctx context.Context, verbatim string) (*models.TaxonomyTerm, error)

	// ValidateMappings drops mappings whose canonical term is unknown.
	ValidateMappings(ctx context.Context, mappings []models.KeywordMapping) (*models.MappingValidation, error)

	FindOrCreate(ctx context.Context, term string, primaryCategory, subcategory *string) (*models.TaxonomyTerm, error)
	Statistics(ctx context.Context) (*models.TaxonomyStatistics, error)

	// RefreshSnapshot reloads the in-memory resolve tables from the store.
	RefreshSnapshot(ctx context.Context) error

	// Snapshot returns the canonical terms for prompt injection.
	Snapshot(ctx context.Context) []string
}
