package impl

import (
	"math"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/doc-catalog/models"
)

// ClassifyQuery buckets a query deterministically. Checks run in a fixed
// order so the same query always lands in the same class: empty, category,
// phrase, short, entity, general.
func ClassifyQuery(q string, primaryCategories []string) models.QueryClass {
	q = strings.TrimSpace(q)
	if q == "" {
		return models.QueryClassEmpty
	}

	tokens := strings.Fields(q)

	// A single token equal to a primary category is a category browse.
	if len(tokens) == 1 {
		for _, cat := range primaryCategories {
			if strings.EqualFold(tokens[0], cat) {
				return models.QueryClassCategory
			}
		}
	}

	if strings.Count(q, `"`) >= 2 || len(tokens) >= 5 {
		return models.QueryClassPhrase
	}
	if len(tokens) <= 2 {
		if capitalizedTokens(tokens) >= 2 {
			return models.QueryClassEntity
		}
		return models.QueryClassShort
	}
	if capitalizedTokens(tokens) >= 2 || matchesCategoryVocabulary(tokens, primaryCategories) {
		return models.QueryClassEntity
	}
	return models.QueryClassGeneral
}

func capitalizedTokens(tokens []string) int {
	count := 0
	for _, token := range tokens {
		runes := []rune(token)
		if len(runes) > 0 && unicode.IsUpper(runes[0]) {
			count++
		}
	}
	return count
}

// matchesCategoryVocabulary reports whether any token of length >= 3 occurs
// in a primary category name.
func matchesCategoryVocabulary(tokens []string, primaryCategories []string) bool {
	for _, token := range tokens {
		if len(token) < 3 {
			continue
		}
		lower := strings.ToLower(token)
		for _, cat := range primaryCategories {
			for _, catToken := range strings.Fields(strings.ToLower(cat)) {
				if lower == catToken {
					return true
				}
			}
		}
	}
	return false
}

// WeightsFor looks the class up in the weight table and applies the
// taxonomy filter boost: +0.10 on taxonomy, taken from vector and text in
// proportion to their current share. The result still sums to 1.0.
func WeightsFor(class models.QueryClass, filtered bool) models.RelevanceWeights {
	weights := models.WeightTable[class]
	if !filtered {
		return weights
	}

	vt := weights.Vector + weights.Text
	if vt <= 0 {
		return weights
	}
	boost := models.FilterTaxonomyBoost
	if boost > vt {
		boost = vt
	}
	weights.Vector -= boost * (weights.Vector / vt)
	weights.Text -= boost * (weights.Text / vt)
	weights.Taxonomy += boost
	return weights
}

// scoreInputs carries the per-document raw signals for final scoring.
type scoreInputs struct {
	doc          *models.Document
	vectorScore  float64 // cosine score, already [0,1]
	textRank     float64 // raw ts_rank, normalized by caller
	mappingCount int
}

// taxonomyScore applies the graded taxonomy match: exact canonical term
// match 1.0, primary category match 0.7, keyword mapping bonus 0.4.
func taxonomyScore(doc *models.Document, query, canonicalTerm, primaryCategory string) float64 {
	query = strings.ToLower(strings.TrimSpace(query))
	canonicalTerm = strings.ToLower(canonicalTerm)
	primaryCategory = strings.ToLower(primaryCategory)

	best := 0.0
	for _, term := range doc.TaxonomyTerms {
		termLower := strings.ToLower(term.Term)
		if termLower == query || (canonicalTerm != "" && termLower == canonicalTerm) {
			return 1.0
		}
		if primaryCategory != "" && term.PrimaryCategory != nil &&
			strings.ToLower(*term.PrimaryCategory) == primaryCategory {
			if best < 0.7 {
				best = 0.7
			}
		}
	}
	if best > 0 {
		return best
	}

	if doc.Analysis != nil {
		for _, mapping := range doc.Analysis.KeywordMappings {
			if strings.ToLower(mapping.MappedCanonicalTerm) == query && query != "" {
				return 0.4
			}
		}
	}
	return 0
}

// qualityScore grades completeness of derived fields: extracted text,
// analysis summary, embedding, taxonomy mappings.
func qualityScore(doc *models.Document, mappingCount int) float64 {
	present := 0
	if doc.ExtractedText != nil && *doc.ExtractedText != "" {
		present++
	}
	if doc.Analysis != nil && doc.Analysis.Summary != "" {
		present++
	}
	if doc.HasEmbedding() {
		present++
	}
	if mappingCount > 0 {
		present++
	}
	switch {
	case present >= 3:
		return 1.0
	case present == 2:
		return 0.66
	case present == 1:
		return 0.33
	default:
		return 0
	}
}

func freshnessScore(createdAt time.Time, now time.Time) float64 {
	age := now.Sub(createdAt)
	switch {
	case age <= 30*24*time.Hour:
		return 1.0
	case age <= 90*24*time.Hour:
		return 0.6
	default:
		return 0.2
	}
}

func popularityScore(quality float64, mappingCount int) float64 {
	return math.Min(1.0, quality+0.1*math.Log1p(float64(mappingCount)))
}

// scoreCandidates computes final blended scores and sorts the hits. Text
// ranks are normalized by the top rank in the candidate set. Ties break by
// created_at descending, then id ascending.
func scoreCandidates(candidates []scoreInputs, weights models.RelevanceWeights, req models.SearchRequest, now time.Time) []models.SearchHit {
	maxRank := 0.0
	for _, c := range candidates {
		if c.textRank > maxRank {
			maxRank = c.textRank
		}
	}

	hits := make([]models.SearchHit, 0, len(candidates))
	for _, c := range candidates {
		textScore := 0.0
		if maxRank > 0 {
			textScore = c.textRank / maxRank
		}
		taxonomy := taxonomyScore(c.doc, req.Query, req.CanonicalTerm, req.PrimaryCategory)
		quality := qualityScore(c.doc, c.mappingCount)
		freshness := freshnessScore(c.doc.CreatedAt, now)
		popularity := popularityScore(quality, c.mappingCount)

		relevance := weights.Vector*c.vectorScore +
			weights.Text*textScore +
			weights.Taxonomy*taxonomy +
			weights.Quality*quality +
			weights.Freshness*freshness +
			weights.Popularity*popularity

		hits = append(hits, models.SearchHit{
			Document:        *c.doc,
			Relevance:       relevance,
			VectorScore:     c.vectorScore,
			TextScore:       textScore,
			TaxonomyScore:   taxonomy,
			QualityScore:    quality,
			FreshnessScore:  freshness,
			PopularityScore: popularity,
		})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Relevance != hits[j].Relevance {
			return hits[i].Relevance > hits[j].Relevance
		}
		if !hits[i].Document.CreatedAt.Equal(hits[j].Document.CreatedAt) {
			return hits[i].Document.CreatedAt.After(hits[j].Document.CreatedAt)
		}
		return hits[i].Document.ID < hits[j].Document.ID
	})
	return hits
}
