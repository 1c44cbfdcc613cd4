package impl

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/doc-catalog/models"
	"github.com/doc-catalog/services"
)

// maxFuzzyDistance is the edit distance ceiling for fuzzy resolution.
const maxFuzzyDistance = 2

// taxonomyServiceImpl keeps an in-memory snapshot of the vocabulary for
// resolution. The snapshot is refreshed on mutation and periodically by
// the scheduler; readers tolerate a stale view between refreshes.
type taxonomyServiceImpl struct {
	db  *gorm.DB
	log *logrus.Entry

	mu         sync.RWMutex
	byExact    map[string]*models.TaxonomyTerm // lowercased term -> term
	bySynonym  map[string]*models.TaxonomyTerm // lowercased synonym -> term
	byNorm     map[string]*models.TaxonomyTerm // normalized term -> term
	termsAlpha []string                        // canonical terms, sorted
}

func NewTaxonomyService(db *gorm.DB, log *logrus.Entry) (services.TaxonomyService, error) {
	svc := &taxonomyServiceImpl{db: db, log: log}
	if err := svc.RefreshSnapshot(context.Background()); err != nil {
		return nil, err
	}
	return svc, nil
}

// normalizeTerm lowercases and strips everything but letters and digits.
// "Non-Disclosure Agreement" and "non disclosure agreement" normalize
// identically.
func normalizeTerm(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func (s *taxonomyServiceImpl) Initialize(ctx context.Context, source io.Reader) (*models.TaxonomyInitCounts, error) {
	reader := csv.NewReader(source)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read taxonomy header: %v", services.ErrValidation, err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(strings.ToLower(name))] = i
	}
	for _, required := range []string{"primary_category", "subcategory", "term"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("%w: taxonomy source missing column %q", services.ErrValidation, required)
		}
	}

	counts := &models.TaxonomyInitCounts{}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		idByLower := make(map[string]int64)
		parentNames := make(map[int64]string)
		for {
			record, err := reader.Read()
			if err == io.EOF {
				break
			}
			if err != nil {
				return fmt.Errorf("%w: malformed taxonomy row: %v", services.ErrValidation, err)
			}

			field := func(name string) string {
				idx := col[name]
				if idx >= len(record) {
					return ""
				}
				return strings.TrimSpace(record[idx])
			}

			termText := field("term")
			if termText == "" {
				counts.RowsSkipped++
				continue
			}
			primary := field("primary_category")
			sub := field("subcategory")

			var term models.TaxonomyTerm
			err = tx.Where("LOWER(term) = LOWER(?)", termText).First(&term).Error
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				term = models.TaxonomyTerm{
					Term:      termText,
					CreatedAt: time.Now(),
				}
				if primary != "" {
					term.PrimaryCategory = &primary
				}
				if sub != "" {
					term.Subcategory = &sub
				}
				if err := tx.Create(&term).Error; err != nil {
					return fmt.Errorf("%w: failed to create term %q: %v", services.ErrStorage, termText, err)
				}
				counts.TermsCreated++
			case err != nil:
				return fmt.Errorf("%w: %v", services.ErrStorage, err)
			default:
				counts.RowsSkipped++
			}
			idByLower[strings.ToLower(term.Term)] = term.ID
			if _, ok := col["parent"]; ok {
				if parentName := field("parent"); parentName != "" {
					parentNames[term.ID] = parentName
				}
			}

			if synIdx, ok := col["synonyms"]; ok && synIdx < len(record) {
				for _, syn := range strings.Split(record[synIdx], "|") {
					syn = strings.TrimSpace(syn)
					if syn == "" || strings.EqualFold(syn, termText) {
						continue
					}
					var existing models.TaxonomySynonym
					err := tx.Where("term_id = ? AND LOWER(synonym) = LOWER(?)", term.ID, syn).First(&existing).Error
					if errors.Is(err, gorm.ErrRecordNotFound) {
						entry := models.TaxonomySynonym{TermID: term.ID, Synonym: syn}
						if err := tx.Create(&entry).Error; err != nil {
							return fmt.Errorf("%w: failed to create synonym %q: %v", services.ErrStorage, syn, err)
						}
						counts.SynonymsCreated++
					} else if err != nil {
						return fmt.Errorf("%w: %v", services.ErrStorage, err)
					}
				}
			}
		}
		return s.applyParents(tx, idByLower, parentNames)
	})
	if err != nil {
		return nil, err
	}

	if err := s.RefreshSnapshot(ctx); err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"terms_created":    counts.TermsCreated,
		"rows_skipped":     counts.RowsSkipped,
		"synonyms_created": counts.SynonymsCreated,
	}).Info("taxonomy initialized")
	return counts, nil
}

// applyParents wires the parent links an import declared and rejects any
// cycle before the transaction commits.
func (s *taxonomyServiceImpl) applyParents(tx *gorm.DB, idByLower map[string]int64, parentNames map[int64]string) error {
	if len(parentNames) == 0 {
		return nil
	}

	for termID, parentName := range parentNames {
		parentID, ok := idByLower[strings.ToLower(parentName)]
		if !ok {
			var parent models.TaxonomyTerm
			err := tx.Where("LOWER(term) = LOWER(?)", parentName).First(&parent).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: unknown parent term %q", services.ErrValidation, parentName)
			}
			if err != nil {
				return fmt.Errorf("%w: %v", services.ErrStorage, err)
			}
			parentID = parent.ID
		}
		if err := tx.Model(&models.TaxonomyTerm{}).Where("id = ?", termID).Update("parent_id", parentID).Error; err != nil {
			return fmt.Errorf("%w: failed to set parent of term %d: %v", services.ErrStorage, termID, err)
		}
	}

	var rows []models.TaxonomyTerm
	if err := tx.Select("id", "parent_id").Find(&rows).Error; err != nil {
		return fmt.Errorf("%w: %v", services.ErrStorage, err)
	}
	parents := make(map[int64]int64, len(rows))
	for _, row := range rows {
		if row.ParentID != nil {
			parents[row.ID] = *row.ParentID
		}
	}
	if id := findParentCycle(parents); id != 0 {
		return fmt.Errorf("%w: parent links form a cycle at term %d", services.ErrValidation, id)
	}
	return nil
}

// findParentCycle walks every parent chain and returns a term id on a
// cycle, or 0 when the forest is acyclic. parents maps a term to its
// parent; roots are simply absent.
func findParentCycle(parents map[int64]int64) int64 {
	const (
		unvisited = iota
		inChain
		settled
	)
	state := make(map[int64]int, len(parents))
	for start := range parents {
		if state[start] != unvisited {
			continue
		}
		var chain []int64
		node := start
		for {
			if state[node] == inChain {
				return node
			}
			if state[node] == settled {
				break
			}
			state[node] = inChain
			chain = append(chain, node)
			parent, ok := parents[node]
			if !ok {
				break
			}
			node = parent
		}
		for _, visited := range chain {
			state[visited] = settled
		}
	}
	return 0
}

func (s *taxonomyServiceImpl) RefreshSnapshot(ctx context.Context) error {
	var terms []models.TaxonomyTerm
	if err := s.db.WithContext(ctx).Preload("Synonyms").Find(&terms).Error; err != nil {
		return fmt.Errorf("%w: failed to load taxonomy: %v", services.ErrStorage, err)
	}

	byExact := make(map[string]*models.TaxonomyTerm, len(terms))
	bySynonym := make(map[string]*models.TaxonomyTerm)
	byNorm := make(map[string]*models.TaxonomyTerm, len(terms))
	alpha := make([]string, 0, len(terms))

	for i := range terms {
		term := &terms[i]
		byExact[strings.ToLower(term.Term)] = term
		byNorm[normalizeTerm(term.Term)] = term
		alpha = append(alpha, term.Term)
		for _, syn := range term.Synonyms {
			bySynonym[strings.ToLower(syn.Synonym)] = term
		}
	}
	sort.Strings(alpha)

	s.mu.Lock()
	s.byExact = byExact
	s.bySynonym = bySynonym
	s.byNorm = byNorm
	s.termsAlpha = alpha
	s.mu.Unlock()
	return nil
}

func (s *taxonomyServiceImpl) Resolve(ctx context.Context, verbatim string) (*models.TaxonomyTerm, error) {
	verbatim = strings.TrimSpace(verbatim)
	if verbatim == "" {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	lower := strings.ToLower(verbatim)
	if term, ok := s.byExact[lower]; ok {
		return term, nil
	}
	if term, ok := s.bySynonym[lower]; ok {
		return term, nil
	}
	if term, ok := s.byNorm[normalizeTerm(verbatim)]; ok {
		return term, nil
	}

	// Fuzzy: accept only an unambiguous single candidate within distance.
	// Candidates are walked in sorted order so the outcome is stable.
	var candidate *models.TaxonomyTerm
	for _, termText := range s.termsAlpha {
		if levenshtein(lower, strings.ToLower(termText)) <= maxFuzzyDistance {
			if candidate != nil {
				return nil, nil
			}
			candidate = s.byExact[strings.ToLower(termText)]
		}
	}
	return candidate, nil
}

func (s *taxonomyServiceImpl) ValidateMappings(ctx context.Context, mappings []models.KeywordMapping) (*models.MappingValidation, error) {
	result := &models.MappingValidation{}
	seen := make(map[int64]bool)
	for _, mapping := range mappings {
		candidate := mapping.MappedCanonicalTerm
		if candidate == "" {
			candidate = mapping.VerbatimTerm
		}
		term, err := s.Resolve(ctx, candidate)
		if err != nil {
			return nil, err
		}
		if term == nil {
			result.Rejected = append(result.Rejected, mapping)
			continue
		}
		if seen[term.ID] {
			continue
		}
		seen[term.ID] = true
		result.Valid = append(result.Valid, models.KeywordMapping{
			VerbatimTerm:        mapping.VerbatimTerm,
			MappedCanonicalTerm: term.Term,
		})
	}
	return result, nil
}

func (s *taxonomyServiceImpl) FindOrCreate(ctx context.Context, termText string, primaryCategory, subcategory *string) (*models.TaxonomyTerm, error) {
	termText = strings.TrimSpace(termText)
	if termText == "" {
		return nil, fmt.Errorf("%w: term must not be empty", services.ErrValidation)
	}

	var term models.TaxonomyTerm
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("LOWER(term) = LOWER(?)", termText).First(&term).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %v", services.ErrStorage, err)
		}
		term = models.TaxonomyTerm{
			Term:            termText,
			PrimaryCategory: primaryCategory,
			Subcategory:     subcategory,
			CreatedAt:       time.Now(),
		}
		if err := tx.Create(&term).Error; err != nil {
			return fmt.Errorf("%w: failed to create term %q: %v", services.ErrStorage, termText, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.RefreshSnapshot(ctx); err != nil {
		s.log.WithError(err).Warn("snapshot refresh after term creation failed")
	}
	return &term, nil
}

func (s *taxonomyServiceImpl) Hierarchy(ctx context.Context) (models.TaxonomyHierarchy, error) {
	var terms []models.TaxonomyTerm
	if err := s.db.WithContext(ctx).Order("term ASC").Find(&terms).Error; err != nil {
		return nil, fmt.Errorf("%w: failed to load taxonomy: %v", services.ErrStorage, err)
	}

	hierarchy := make(models.TaxonomyHierarchy)
	for _, term := range terms {
		primary := "Uncategorized"
		if term.PrimaryCategory != nil && *term.PrimaryCategory != "" {
			primary = *term.PrimaryCategory
		}
		sub := "General"
		if term.Subcategory != nil && *term.Subcategory != "" {
			sub = *term.Subcategory
		}
		if hierarchy[primary] == nil {
			hierarchy[primary] = make(map[string][]string)
		}
		hierarchy[primary][sub] = append(hierarchy[primary][sub], term.Term)
	}
	return hierarchy, nil
}

func (s *taxonomyServiceImpl) CanonicalTerms(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.termsAlpha))
	copy(out, s.termsAlpha)
	return out, nil
}

func (s *taxonomyServiceImpl) PrimaryCategories(ctx context.Context) ([]string, error) {
	var categories []string
	err := s.db.WithContext(ctx).Model(&models.TaxonomyTerm{}).
		Where("primary_category IS NOT NULL").
		Distinct("primary_category").
		Order("primary_category ASC").
		Pluck("primary_category", &categories).Error
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load categories: %v", services.ErrStorage, err)
	}
	return categories, nil
}

func (s *taxonomyServiceImpl) Search(ctx context.Context, query string, limit int) ([]string, error) {
	query = strings.TrimSpace(strings.ToLower(query))
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []string
	for _, term := range s.termsAlpha {
		if strings.Contains(strings.ToLower(term), query) {
			matches = append(matches, term)
			if len(matches) >= limit {
				break
			}
		}
	}
	return matches, nil
}

func (s *taxonomyServiceImpl) Statistics(ctx context.Context) (*models.TaxonomyStatistics, error) {
	stats := &models.TaxonomyStatistics{}

	if err := s.db.WithContext(ctx).Model(&models.TaxonomyTerm{}).Count(&stats.TotalTerms).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", services.ErrStorage, err)
	}
	if err := s.db.WithContext(ctx).Model(&models.TaxonomySynonym{}).Count(&stats.TotalSynonyms).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", services.ErrStorage, err)
	}
	if err := s.db.WithContext(ctx).Model(&models.TaxonomyTerm{}).
		Where("primary_category IS NOT NULL").
		Distinct("primary_category").
		Count(&stats.PrimaryCategories).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", services.ErrStorage, err)
	}
	if err := s.db.WithContext(ctx).Model(&models.DocumentTaxonomyMap{}).Count(&stats.TotalMappings).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", services.ErrStorage, err)
	}
	if err := s.db.WithContext(ctx).Model(&models.DocumentTaxonomyMap{}).
		Distinct("document_id").
		Count(&stats.MappedDocuments).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", services.ErrStorage, err)
	}
	return stats, nil
}

func (s *taxonomyServiceImpl) Snapshot(ctx context.Context) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.termsAlpha))
	copy(out, s.termsAlpha)
	return out
}

// levenshtein computes edit distance with the two-row dynamic program.
func levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
