package impl

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/doc-catalog/models"
	"github.com/doc-catalog/services"
)

type documentServiceImpl struct {
	db        *gorm.DB
	vectorDim int
	log       *logrus.Entry
}

func NewDocumentService(db *gorm.DB, vectorDim int, log *logrus.Entry) services.DocumentService {
	return &documentServiceImpl{
		db:        db,
		vectorDim: vectorDim,
		log:       log,
	}
}

// storeRetryDelays backs the local retry for transient storage failures on
// mutations. Domain errors (not-found, validation, transition guards) are
// never retried.
var storeRetryDelays = [...]time.Duration{100 * time.Millisecond, 300 * time.Millisecond, time.Second}

func withStoreRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil || !errors.Is(err, services.ErrStorage) || attempt >= len(storeRetryDelays) {
			return err
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(storeRetryDelays[attempt]):
		}
	}
}

func (s *documentServiceImpl) CreateDocument(ctx context.Context, filename, blobKey string, sizeBytes int64) (*models.Document, error) {
	if filename == "" || len(filename) > 255 {
		return nil, fmt.Errorf("%w: filename must be 1-255 characters", services.ErrValidation)
	}
	if sizeBytes < 0 {
		return nil, fmt.Errorf("%w: size must be non-negative", services.ErrValidation)
	}

	doc := &models.Document{
		Filename:  filename,
		BlobKey:   blobKey,
		SizeBytes: &sizeBytes,
		Status:    models.DocumentStatusPending,
		Progress:  0,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	err := withStoreRetry(ctx, func() error {
		if err := s.db.WithContext(ctx).Create(doc).Error; err != nil {
			return fmt.Errorf("%w: failed to create document: %v", services.ErrStorage, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return doc, nil
}

func (s *documentServiceImpl) GetDocument(ctx context.Context, id int64) (*models.Document, error) {
	var doc models.Document
	if err := s.db.WithContext(ctx).Preload("TaxonomyTerms").First(&doc, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: document %d", services.ErrNotFound, id)
		}
		return nil, fmt.Errorf("%w: failed to get document: %v", services.ErrStorage, err)
	}
	return &doc, nil
}

func (s *documentServiceImpl) UpdateStatus(ctx context.Context, id int64, status models.DocumentStatus, progress *int, errMsg *string) error {
	return withStoreRetry(ctx, func() error {
		return s.updateStatus(ctx, id, status, progress, errMsg)
	})
}

func (s *documentServiceImpl) updateStatus(ctx context.Context, id int64, status models.DocumentStatus, progress *int, errMsg *string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var doc models.Document
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&doc, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: document %d", services.ErrNotFound, id)
			}
			return fmt.Errorf("%w: %v", services.ErrStorage, err)
		}

		if doc.Status != status && !models.CanTransition(doc.Status, status) {
			return fmt.Errorf("%w: %s -> %s for document %d", services.ErrInvalidTransition, doc.Status, status, id)
		}

		updates := map[string]any{
			"status":     status,
			"updated_at": time.Now(),
		}
		if progress != nil {
			// Progress is monotonic within a single attempt.
			if *progress < doc.Progress && doc.Status == status {
				return fmt.Errorf("%w: progress cannot move backwards (%d -> %d)", services.ErrInvalidTransition, doc.Progress, *progress)
			}
			updates["progress"] = *progress
		}
		if errMsg != nil {
			updates["error"] = *errMsg
		}
		if status == models.DocumentStatusFailed && errMsg == nil && doc.Error == nil {
			return fmt.Errorf("%w: FAILED requires an error message", services.ErrValidation)
		}
		if status == models.DocumentStatusCompleted {
			now := time.Now()
			updates["processed_at"] = now
			updates["error"] = nil
		}

		if err := tx.Model(&models.Document{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return fmt.Errorf("%w: failed to update status: %v", services.ErrStorage, err)
		}
		return nil
	})
}

func (s *documentServiceImpl) UpdateContent(ctx context.Context, id int64, extractedText string, analysis models.AIAnalysis, keywords []string, metadata map[string]any, previewKey *string) error {
	keywordsJSON, err := models.ConvertToJSON(keywords)
	if err != nil {
		return fmt.Errorf("%w: failed to encode keywords: %v", services.ErrValidation, err)
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadataJSON, err := models.ConvertToJSON(metadata)
	if err != nil {
		return fmt.Errorf("%w: failed to encode metadata: %v", services.ErrValidation, err)
	}

	updates := map[string]any{
		"extracted_text": extractedText,
		"ai_analysis":    &analysis,
		"keywords":       keywordsJSON,
		"metadata":       metadataJSON,
		"updated_at":     time.Now(),
	}
	if previewKey != nil {
		updates["preview_key"] = *previewKey
	}

	return withStoreRetry(ctx, func() error {
		result := s.db.WithContext(ctx).Model(&models.Document{}).Where("id = ?", id).Updates(updates)
		if result.Error != nil {
			return fmt.Errorf("%w: failed to update content: %v", services.ErrStorage, result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: document %d", services.ErrNotFound, id)
		}
		return nil
	})
}

func (s *documentServiceImpl) UpdateEmbedding(ctx context.Context, id int64, vector []float32) error {
	if len(vector) != s.vectorDim {
		return fmt.Errorf("%w: embedding length %d does not match dimension %d", services.ErrValidation, len(vector), s.vectorDim)
	}

	vec := pgvector.NewVector(vector)
	return withStoreRetry(ctx, func() error {
		result := s.db.WithContext(ctx).Model(&models.Document{}).Where("id = ?", id).Updates(map[string]any{
			"search_vector": vec,
			"updated_at":    time.Now(),
		})
		if result.Error != nil {
			return fmt.Errorf("%w: failed to update embedding: %v", services.ErrStorage, result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: document %d", services.ErrNotFound, id)
		}
		return nil
	})
}

func (s *documentServiceImpl) ReplaceTaxonomyMappings(ctx context.Context, documentID int64, termIDs []int64) error {
	return withStoreRetry(ctx, func() error {
		return s.replaceTaxonomyMappings(ctx, documentID, termIDs)
	})
}

func (s *documentServiceImpl) replaceTaxonomyMappings(ctx context.Context, documentID int64, termIDs []int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", documentID).Delete(&models.DocumentTaxonomyMap{}).Error; err != nil {
			return fmt.Errorf("%w: failed to clear mappings: %v", services.ErrStorage, err)
		}
		seen := make(map[int64]bool, len(termIDs))
		for _, termID := range termIDs {
			if seen[termID] {
				continue
			}
			seen[termID] = true
			entry := models.DocumentTaxonomyMap{DocumentID: documentID, TermID: termID}
			if err := tx.Create(&entry).Error; err != nil {
				return fmt.Errorf("%w: failed to create mapping: %v", services.ErrStorage, err)
			}
		}
		return nil
	})
}

func (s *documentServiceImpl) ResetForReprocessing(ctx context.Context, id int64) error {
	return withStoreRetry(ctx, func() error {
		return s.resetForReprocessing(ctx, id)
	})
}

func (s *documentServiceImpl) resetForReprocessing(ctx context.Context, id int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var doc models.Document
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&doc, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: document %d", services.ErrNotFound, id)
			}
			return fmt.Errorf("%w: %v", services.ErrStorage, err)
		}

		if doc.Status == models.DocumentStatusProcessing {
			return fmt.Errorf("%w: document %d is being processed; wait for a terminal state", services.ErrConflictingState, id)
		}

		if err := tx.Where("document_id = ?", id).Delete(&models.DocumentTaxonomyMap{}).Error; err != nil {
			return fmt.Errorf("%w: failed to clear mappings: %v", services.ErrStorage, err)
		}

		updates := map[string]any{
			"status":         models.DocumentStatusQueued,
			"progress":       0,
			"error":          nil,
			"extracted_text": nil,
			"ai_analysis":    nil,
			"keywords":       "[]",
			"search_vector":  nil,
			"processed_at":   nil,
			"updated_at":     time.Now(),
		}
		if err := tx.Model(&models.Document{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return fmt.Errorf("%w: failed to reset document: %v", services.ErrStorage, err)
		}
		return nil
	})
}

func (s *documentServiceImpl) DeleteDocument(ctx context.Context, id int64) error {
	return withStoreRetry(ctx, func() error {
		return s.deleteDocument(ctx, id)
	})
}

func (s *documentServiceImpl) deleteDocument(ctx context.Context, id int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", id).Delete(&models.DocumentTaxonomyMap{}).Error; err != nil {
			return fmt.Errorf("%w: failed to delete mappings: %v", services.ErrStorage, err)
		}
		result := tx.Delete(&models.Document{}, id)
		if result.Error != nil {
			return fmt.Errorf("%w: failed to delete document: %v", services.ErrStorage, result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: document %d", services.ErrNotFound, id)
		}
		return nil
	})
}

// applyFilter adds the shared status/taxonomy predicates to a query.
func (s *documentServiceImpl) applyFilter(query *gorm.DB, filter models.DocumentFilter) *gorm.DB {
	if filter.Status != nil {
		query = query.Where("documents.status = ?", *filter.Status)
	}
	if filter.CanonicalTerm != "" {
		query = query.Where(
			"documents.id IN (SELECT dtm.document_id FROM document_taxonomy_map dtm JOIN taxonomy_terms tt ON tt.id = dtm.term_id WHERE LOWER(tt.term) = LOWER(?))",
			filter.CanonicalTerm,
		)
	}
	if filter.PrimaryCategory != "" {
		query = query.Where(
			"documents.id IN (SELECT dtm.document_id FROM document_taxonomy_map dtm JOIN taxonomy_terms tt ON tt.id = dtm.term_id WHERE LOWER(tt.primary_category) = LOWER(?))",
			filter.PrimaryCategory,
		)
	}
	return query
}

func (s *documentServiceImpl) QueryDocuments(ctx context.Context, filter models.DocumentFilter) (*models.DocumentListResponse, error) {
	query := s.applyFilter(s.db.WithContext(ctx).Model(&models.Document{}), filter)

	if filter.FreeText != "" {
		query = query.Where(
			"full_text_index @@ plainto_tsquery('english', ?)",
			filter.FreeText,
		)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("%w: failed to count documents: %v", services.ErrStorage, err)
	}

	direction := "DESC"
	if strings.EqualFold(filter.SortDirection, "asc") {
		direction = "ASC"
	}
	switch filter.SortBy {
	case "filename":
		query = query.Order("filename " + direction)
	case "size":
		query = query.Order("size_bytes " + direction)
	default:
		query = query.Order("created_at " + direction)
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	perPage := filter.PerPage
	if perPage < 1 {
		perPage = 12
	}

	var docs []models.Document
	if err := query.Offset((page - 1) * perPage).Limit(perPage).Find(&docs).Error; err != nil {
		return nil, fmt.Errorf("%w: failed to query documents: %v", services.ErrStorage, err)
	}

	return &models.DocumentListResponse{Documents: docs, Total: total}, nil
}

func (s *documentServiceImpl) GetDocumentsByIDs(ctx context.Context, ids []int64) ([]models.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var docs []models.Document
	if err := s.db.WithContext(ctx).Preload("TaxonomyTerms").Where("id IN ?", ids).Find(&docs).Error; err != nil {
		return nil, fmt.Errorf("%w: failed to load documents: %v", services.ErrStorage, err)
	}
	return docs, nil
}

func (s *documentServiceImpl) VectorSearch(ctx context.Context, queryVector []float32, k int, filter models.DocumentFilter) ([]services.VectorHit, error) {
	if len(queryVector) != s.vectorDim {
		return nil, fmt.Errorf("%w: query vector length %d does not match dimension %d", services.ErrValidation, len(queryVector), s.vectorDim)
	}
	if k <= 0 {
		k = 100
	}

	vec := pgvector.NewVector(queryVector)

	query := s.applyFilter(s.db.WithContext(ctx).Model(&models.Document{}), filter).
		Where("search_vector IS NOT NULL").
		Select("documents.id AS document_id, 1 - (search_vector <=> ?) AS score", vec).
		Order(clause.OrderBy{Expression: clause.Expr{SQL: "search_vector <=> ?", Vars: []any{vec}}}).
		Limit(k)

	var hits []services.VectorHit
	if err := query.Scan(&hits).Error; err != nil {
		return nil, fmt.Errorf("%w: vector search failed: %v", services.ErrStorage, err)
	}
	return hits, nil
}

func (s *documentServiceImpl) FulltextSearch(ctx context.Context, queryText string, k int, filter models.DocumentFilter) ([]services.TextHit, error) {
	if strings.TrimSpace(queryText) == "" {
		return nil, nil
	}
	if k <= 0 {
		k = 100
	}

	query := s.applyFilter(s.db.WithContext(ctx).Model(&models.Document{}), filter).
		Where("full_text_index @@ plainto_tsquery('english', ?)", queryText).
		Select("documents.id AS document_id, ts_rank(full_text_index, plainto_tsquery('english', ?)) AS rank", queryText).
		Order("rank DESC").
		Limit(k)

	var hits []services.TextHit
	if err := query.Scan(&hits).Error; err != nil {
		return nil, fmt.Errorf("%w: fulltext search failed: %v", services.ErrStorage, err)
	}
	return hits, nil
}

func (s *documentServiceImpl) StuckDocuments(ctx context.Context, olderThan time.Duration) ([]int64, error) {
	cutoff := time.Now().Add(-olderThan)
	var ids []int64
	err := s.db.WithContext(ctx).Model(&models.Document{}).
		Where("status IN ? AND updated_at < ?", []models.DocumentStatus{models.DocumentStatusPending, models.DocumentStatusQueued}, cutoff).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("%w: failed to find stuck documents: %v", services.ErrStorage, err)
	}
	return ids, nil
}

func (s *documentServiceImpl) CountByStatus(ctx context.Context) (services.StatusCounts, error) {
	type row struct {
		Status models.DocumentStatus
		Count  int64
	}
	var rows []row
	err := s.db.WithContext(ctx).Model(&models.Document{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("%w: failed to count by status: %v", services.ErrStorage, err)
	}
	counts := make(services.StatusCounts, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

func (s *documentServiceImpl) FacetCounts(ctx context.Context) (*models.Facets, error) {
	type row struct {
		PrimaryCategory *string
		Subcategory     *string
		Count           int64
	}
	var rows []row
	err := s.db.WithContext(ctx).
		Table("document_taxonomy_map dtm").
		Joins("JOIN taxonomy_terms tt ON tt.id = dtm.term_id").
		Select("tt.primary_category, tt.subcategory, COUNT(DISTINCT dtm.document_id) AS count").
		Group("tt.primary_category, tt.subcategory").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("%w: failed to compute facets: %v", services.ErrStorage, err)
	}

	facets := &models.Facets{
		PrimaryCategories: make(map[string]int64),
		Subcategories:     make(map[string]map[string]int64),
		GeneratedAt:       time.Now(),
	}
	for _, r := range rows {
		if r.PrimaryCategory == nil {
			continue
		}
		primary := *r.PrimaryCategory
		facets.PrimaryCategories[primary] += r.Count
		sub := "General"
		if r.Subcategory != nil && *r.Subcategory != "" {
			sub = *r.Subcategory
		}
		if facets.Subcategories[primary] == nil {
			facets.Subcategories[primary] = make(map[string]int64)
		}
		facets.Subcategories[primary][sub] += r.Count
	}
	return facets, nil
}

func (s *documentServiceImpl) RecentDocuments(ctx context.Context, limit int) ([]models.Document, error) {
	if limit <= 0 {
		limit = 10
	}
	var docs []models.Document
	err := s.db.WithContext(ctx).
		Where("status = ?", models.DocumentStatusCompleted).
		Order("created_at DESC").
		Limit(limit).
		Find(&docs).Error
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load recent documents: %v", services.ErrStorage, err)
	}
	return docs, nil
}

func (s *documentServiceImpl) SuggestFilenames(ctx context.Context, prefix string, limit int) ([]string, error) {
	if prefix == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}
	var names []string
	err := s.db.WithContext(ctx).Model(&models.Document{}).
		Where("filename ILIKE ?", prefix+"%").
		Order("filename ASC").
		Limit(limit).
		Pluck("filename", &names).Error
	if err != nil {
		return nil, fmt.Errorf("%w: failed to suggest filenames: %v", services.ErrStorage, err)
	}
	return names, nil
}

func (s *documentServiceImpl) LogSearchQuery(ctx context.Context, queryText string, actorID *string) error {
	record := models.SearchQuery{
		QueryText: queryText,
		ActorID:   actorID,
		CreatedAt: time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("%w: failed to log search query: %v", services.ErrStorage, err)
	}
	return nil
}

func (s *documentServiceImpl) TopQueries(ctx context.Context, limit int, since time.Time) ([]models.TopQuery, error) {
	if limit <= 0 {
		limit = 10
	}
	var top []models.TopQuery
	err := s.db.WithContext(ctx).Model(&models.SearchQuery{}).
		Select("query_text, COUNT(*) AS count").
		Where("created_at >= ?", since).
		Group("query_text").
		Order("count DESC").
		Limit(limit).
		Scan(&top).Error
	if err != nil {
		return nil, fmt.Errorf("%w: failed to aggregate top queries: %v", services.ErrStorage, err)
	}
	return top, nil
}
