package impl

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/doc-catalog/config"
	"github.com/doc-catalog/models"
	"github.com/doc-catalog/services"
)

// Embedder turns query text into a vector. Satisfied by the AI gateway.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

type searchServiceImpl struct {
	store    services.DocumentService
	cache    services.CacheService
	taxonomy services.TaxonomyService
	embedder Embedder
	cfg      *config.SearchConfig
	log      *logrus.Entry
}

func NewSearchService(
	store services.DocumentService,
	cache services.CacheService,
	taxonomy services.TaxonomyService,
	embedder Embedder,
	cfg *config.SearchConfig,
	log *logrus.Entry,
) services.SearchService {
	return &searchServiceImpl{
		store:    store,
		cache:    cache,
		taxonomy: taxonomy,
		embedder: embedder,
		cfg:      cfg,
		log:      log,
	}
}

func (s *searchServiceImpl) Search(ctx context.Context, req models.SearchRequest) (*models.SearchResponse, error) {
	req = normalizeRequest(req, s.cfg)

	cacheKey := services.SearchCachePrefix + searchCacheKey(req)
	if data, hit, _ := s.cache.Get(ctx, cacheKey); hit {
		var cached models.SearchResponse
		if err := json.Unmarshal(data, &cached); err == nil {
			cached.Cached = true
			return &cached, nil
		}
		s.cache.Delete(ctx, cacheKey)
	}

	if strings.TrimSpace(req.Query) != "" {
		// Analytics must never fail the query.
		go func(q string) {
			logCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.store.LogSearchQuery(logCtx, q, nil); err != nil {
				s.log.WithError(err).Debug("search query logging failed")
			}
		}(req.Query)
	}

	response, err := s.executeSearch(ctx, req)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(response); err == nil {
		ttl := time.Duration(s.cfg.CacheTTLSeconds) * time.Second
		s.cache.Set(ctx, cacheKey, data, ttl)
	}
	return response, nil
}

func (s *searchServiceImpl) executeSearch(ctx context.Context, req models.SearchRequest) (*models.SearchResponse, error) {
	filter := models.DocumentFilter{
		CanonicalTerm:   req.CanonicalTerm,
		PrimaryCategory: req.PrimaryCategory,
	}

	categories, err := s.taxonomy.PrimaryCategories(ctx)
	if err != nil {
		s.log.WithError(err).Warn("failed to load categories for classification")
	}

	var weights models.RelevanceWeights
	var class models.QueryClass
	if s.cfg.UseEnhancedRelevance {
		class = ClassifyQuery(req.Query, categories)
		weights = WeightsFor(class, req.HasTaxonomyFilter())
	} else {
		weights = models.LegacyWeights
	}

	candidates, err := s.gatherCandidates(ctx, req, filter, weights)
	if err != nil {
		return nil, err
	}

	hits := scoreCandidates(candidates, weights, req, time.Now())
	applySort(hits, req)

	total := int64(len(hits))
	offset := (req.Page - 1) * req.PerPage
	if offset > len(hits) {
		offset = len(hits)
	}
	end := offset + req.PerPage
	if end > len(hits) {
		end = len(hits)
	}

	response := &models.SearchResponse{
		Documents: hits[offset:end],
		Pagination: models.Pagination{
			Page:    req.Page,
			PerPage: req.PerPage,
			Total:   total,
			HasNext: int64(end) < total,
		},
		TotalCount: total,
		QueryClass: class,
	}

	if req.Page == 1 {
		facets, err := s.facets(ctx)
		if err != nil {
			s.log.WithError(err).Warn("facet computation failed")
		} else {
			response.Facets = facets
		}
	}
	return response, nil
}

// gatherCandidates builds the scored candidate union: top-K vector hits
// plus top-K fulltext hits, both already filtered by taxonomy predicates.
// For empty queries the candidate set is the filtered corpus by recency.
func (s *searchServiceImpl) gatherCandidates(ctx context.Context, req models.SearchRequest, filter models.DocumentFilter, weights models.RelevanceWeights) ([]scoreInputs, error) {
	k := s.cfg.CandidateK
	if k <= 0 {
		k = 100
	}

	type signals struct {
		vector float64
		text   float64
	}
	byID := make(map[int64]*signals)
	var order []int64

	query := strings.TrimSpace(req.Query)
	if query == "" {
		listFilter := filter
		listFilter.SortBy = "created_at"
		listFilter.SortDirection = "desc"
		listFilter.Page = 1
		listFilter.PerPage = 2 * k
		listed, err := s.store.QueryDocuments(ctx, listFilter)
		if err != nil {
			return nil, err
		}
		for i := range listed.Documents {
			id := listed.Documents[i].ID
			byID[id] = &signals{}
			order = append(order, id)
		}
	} else {
		if weights.Vector > 0 {
			if vector, err := s.embedder.EmbedText(ctx, query); err != nil {
				// Degrade to text-only rather than failing the search.
				s.log.WithError(err).Warn("query embedding failed, vector signal dropped")
			} else {
				vectorHits, err := s.store.VectorSearch(ctx, vector, k, filter)
				if err != nil {
					return nil, err
				}
				for _, hit := range vectorHits {
					byID[hit.DocumentID] = &signals{vector: hit.Score}
					order = append(order, hit.DocumentID)
				}
			}
		}

		textHits, err := s.store.FulltextSearch(ctx, query, k, filter)
		if err != nil {
			return nil, err
		}
		for _, hit := range textHits {
			if existing, ok := byID[hit.DocumentID]; ok {
				existing.text = hit.Rank
			} else {
				byID[hit.DocumentID] = &signals{text: hit.Rank}
				order = append(order, hit.DocumentID)
			}
		}
	}

	docs, err := s.store.GetDocumentsByIDs(ctx, order)
	if err != nil {
		return nil, err
	}

	candidates := make([]scoreInputs, 0, len(docs))
	for i := range docs {
		doc := &docs[i]
		sig := byID[doc.ID]
		if sig == nil {
			continue
		}
		candidates = append(candidates, scoreInputs{
			doc:          doc,
			vectorScore:  sig.vector,
			textRank:     sig.text,
			mappingCount: len(doc.TaxonomyTerms),
		})
	}
	return candidates, nil
}

func (s *searchServiceImpl) facets(ctx context.Context) (*models.Facets, error) {
	if data, hit, _ := s.cache.Get(ctx, services.FacetCacheKey); hit {
		var cached models.Facets
		if err := json.Unmarshal(data, &cached); err == nil {
			return &cached, nil
		}
	}

	facets, err := s.store.FacetCounts(ctx)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(facets); err == nil {
		ttl := time.Duration(s.cfg.FacetCacheTTLSeconds) * time.Second
		s.cache.Set(ctx, services.FacetCacheKey, data, ttl)
	}
	return facets, nil
}

func (s *searchServiceImpl) Suggestions(ctx context.Context, partial string, limit int) ([]string, error) {
	partial = strings.TrimSpace(partial)
	if partial == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	terms, err := s.taxonomy.Search(ctx, partial, limit)
	if err != nil {
		return nil, err
	}
	filenames, err := s.store.SuggestFilenames(ctx, partial, limit)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var out []string
	for _, candidate := range append(terms, filenames...) {
		key := strings.ToLower(candidate)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, candidate)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *searchServiceImpl) TopQueries(ctx context.Context, limit int) ([]models.TopQuery, error) {
	since := time.Now().Add(-7 * 24 * time.Hour)
	return s.store.TopQueries(ctx, limit, since)
}

func (s *searchServiceImpl) RecentDocuments(ctx context.Context, limit int) ([]models.Document, error) {
	return s.store.RecentDocuments(ctx, limit)
}

func (s *searchServiceImpl) InvalidateCaches(ctx context.Context) error {
	if err := s.cache.DeletePrefix(ctx, services.SearchCachePrefix); err != nil {
		return err
	}
	return s.cache.Delete(ctx, services.FacetCacheKey)
}

func normalizeRequest(req models.SearchRequest, cfg *config.SearchConfig) models.SearchRequest {
	if req.Page < 1 {
		req.Page = 1
	}
	if req.PerPage < 1 {
		req.PerPage = cfg.DefaultPerPage
	}
	if req.PerPage > cfg.MaxPerPage {
		req.PerPage = cfg.MaxPerPage
	}
	if req.SortBy == "" {
		req.SortBy = "relevance"
	}
	if req.SortDirection == "" {
		req.SortDirection = "desc"
	}
	return req
}

// searchCacheKey builds a stable hash over the normalized request.
func searchCacheKey(req models.SearchRequest) string {
	normalized := fmt.Sprintf("%s|%s|%s|%s|%s|%d|%d",
		strings.ToLower(strings.TrimSpace(req.Query)),
		strings.ToLower(req.CanonicalTerm),
		strings.ToLower(req.PrimaryCategory),
		req.SortBy,
		req.SortDirection,
		req.Page,
		req.PerPage,
	)
	return HashQuery(normalized)
}

func applySort(hits []models.SearchHit, req models.SearchRequest) {
	asc := strings.EqualFold(req.SortDirection, "asc")
	switch req.SortBy {
	case "created_at":
		sort.SliceStable(hits, func(i, j int) bool {
			if asc {
				return hits[i].Document.CreatedAt.Before(hits[j].Document.CreatedAt)
			}
			return hits[i].Document.CreatedAt.After(hits[j].Document.CreatedAt)
		})
	case "filename":
		sort.SliceStable(hits, func(i, j int) bool {
			if asc {
				return hits[i].Document.Filename < hits[j].Document.Filename
			}
			return hits[i].Document.Filename > hits[j].Document.Filename
		})
	case "size":
		sort.SliceStable(hits, func(i, j int) bool {
			var si, sj int64
			if hits[i].Document.SizeBytes != nil {
				si = *hits[i].Document.SizeBytes
			}
			if hits[j].Document.SizeBytes != nil {
				sj = *hits[j].Document.SizeBytes
			}
			if asc {
				return si < sj
			}
			return si > sj
		})
	}
	// relevance: scoreCandidates already ordered the hits.
}
