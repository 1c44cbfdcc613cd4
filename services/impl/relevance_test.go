package impl

import (
	"testing"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"

	"github.com/doc-catalog/models"
)

func TestClassifyQuery(t *testing.T) {
	categories := []string{"Legal", "Marketing Materials", "Finance"}

	tests := []struct {
		name  string
		query string
		want  models.QueryClass
	}{
		{"empty", "", models.QueryClassEmpty},
		{"whitespace only", "   ", models.QueryClassEmpty},
		{"single category token", "legal", models.QueryClassCategory},
		{"category case insensitive", "FINANCE", models.QueryClassCategory},
		{"quoted phrase", `"annual report"`, models.QueryClassPhrase},
		{"five tokens", "quarterly revenue growth analysis summary", models.QueryClassPhrase},
		{"single short token", "invoice", models.QueryClassShort},
		{"two lowercase tokens", "tax form", models.QueryClassShort},
		{"two capitalized tokens", "Acme Corporation", models.QueryClassEntity},
		{"three tokens with category word", "new marketing budget", models.QueryClassEntity},
		{"three capitalized tokens", "John Smith Contract", models.QueryClassEntity},
		{"three plain tokens", "old scanned files", models.QueryClassGeneral},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyQuery(tt.query, categories))
		})
	}
}

func TestClassifyQueryCategoryBeatsShort(t *testing.T) {
	// A lone token matching a category must classify as category, not short.
	assert.Equal(t, models.QueryClassCategory, ClassifyQuery("Legal", []string{"Legal"}))
	assert.Equal(t, models.QueryClassShort, ClassifyQuery("legal", nil))
}

func TestWeightsSumToOne(t *testing.T) {
	classes := []models.QueryClass{
		models.QueryClassEmpty, models.QueryClassShort, models.QueryClassEntity,
		models.QueryClassCategory, models.QueryClassPhrase, models.QueryClassGeneral,
	}
	for _, class := range classes {
		for _, filtered := range []bool{false, true} {
			weights := WeightsFor(class, filtered)
			assert.InDelta(t, 1.0, weights.Sum(), 1e-9,
				"class %s filtered=%v must sum to 1.0", class, filtered)
		}
	}
}

func TestWeightsForFilterBoost(t *testing.T) {
	base := WeightsFor(models.QueryClassGeneral, false)
	boosted := WeightsFor(models.QueryClassGeneral, true)

	assert.InDelta(t, base.Taxonomy+models.FilterTaxonomyBoost, boosted.Taxonomy, 1e-9)
	assert.Less(t, boosted.Vector, base.Vector)
	assert.Less(t, boosted.Text, base.Text)
	// Vector and text give up the boost in proportion to their share.
	assert.InDelta(t, base.Vector/base.Text, boosted.Vector/boosted.Text, 1e-9)
}

func TestWeightsForEmptyClassUnboosted(t *testing.T) {
	// The empty class carries no vector or text weight to take the boost
	// from; it must pass through unchanged.
	assert.Equal(t, models.WeightTable[models.QueryClassEmpty], WeightsFor(models.QueryClassEmpty, true))
}

func strPtr(s string) *string { return &s }

func TestTaxonomyScore(t *testing.T) {
	legal := "Legal"
	doc := &models.Document{
		TaxonomyTerms: []models.TaxonomyTerm{
			{Term: "Contract", PrimaryCategory: &legal},
		},
		Analysis: &models.AIAnalysis{
			KeywordMappings: []models.KeywordMapping{
				{VerbatimTerm: "nda", MappedCanonicalTerm: "Non-Disclosure Agreement"},
			},
		},
	}

	assert.Equal(t, 1.0, taxonomyScore(doc, "contract", "", ""))
	assert.Equal(t, 1.0, taxonomyScore(doc, "something", "Contract", ""))
	assert.Equal(t, 0.7, taxonomyScore(doc, "something", "", "legal"))
	assert.Equal(t, 0.4, taxonomyScore(doc, "non-disclosure agreement", "", ""))
	assert.Equal(t, 0.0, taxonomyScore(doc, "unrelated", "", ""))
}

func TestQualityScoreBuckets(t *testing.T) {
	vec := pgvector.NewVector([]float32{0.1, 0.2})

	empty := &models.Document{}
	assert.Equal(t, 0.0, qualityScore(empty, 0))

	one := &models.Document{ExtractedText: strPtr("text")}
	assert.Equal(t, 0.33, qualityScore(one, 0))

	two := &models.Document{
		ExtractedText: strPtr("text"),
		Analysis:      &models.AIAnalysis{Summary: "a summary"},
	}
	assert.Equal(t, 0.66, qualityScore(two, 0))

	three := &models.Document{
		ExtractedText: strPtr("text"),
		Analysis:      &models.AIAnalysis{Summary: "a summary"},
		SearchVector:  &vec,
	}
	assert.Equal(t, 1.0, qualityScore(three, 0))
	assert.Equal(t, 1.0, qualityScore(three, 4))
}

func TestFreshnessScore(t *testing.T) {
	now := time.Now()
	assert.Equal(t, 1.0, freshnessScore(now.Add(-24*time.Hour), now))
	assert.Equal(t, 1.0, freshnessScore(now.Add(-29*24*time.Hour), now))
	assert.Equal(t, 0.6, freshnessScore(now.Add(-45*24*time.Hour), now))
	assert.Equal(t, 0.2, freshnessScore(now.Add(-180*24*time.Hour), now))
}

func TestPopularityScoreCapped(t *testing.T) {
	assert.Equal(t, 1.0, popularityScore(1.0, 100))
	assert.InDelta(t, 0.33, popularityScore(0.33, 0), 1e-9)
	assert.Greater(t, popularityScore(0.5, 3), 0.5)
}

func TestScoreCandidatesOrderingAndTies(t *testing.T) {
	now := time.Now()
	older := now.Add(-48 * time.Hour)

	docA := &models.Document{ID: 1, CreatedAt: now.Add(-time.Hour)}
	docB := &models.Document{ID: 2, CreatedAt: now.Add(-time.Hour)}
	docC := &models.Document{ID: 3, CreatedAt: older}

	weights := models.RelevanceWeights{Vector: 1.0}
	hits := scoreCandidates([]scoreInputs{
		{doc: docC, vectorScore: 0.5},
		{doc: docB, vectorScore: 0.5},
		{doc: docA, vectorScore: 0.9},
	}, weights, models.SearchRequest{}, now)

	assert.Equal(t, int64(1), hits[0].Document.ID)
	// Equal relevance: newer created_at wins, then lower id.
	assert.Equal(t, int64(2), hits[1].Document.ID)
	assert.Equal(t, int64(3), hits[2].Document.ID)
}

func TestScoreCandidatesNormalizesTextRank(t *testing.T) {
	now := time.Now()
	doc := &models.Document{ID: 1, CreatedAt: now}
	other := &models.Document{ID: 2, CreatedAt: now}

	hits := scoreCandidates([]scoreInputs{
		{doc: doc, textRank: 0.08},
		{doc: other, textRank: 0.02},
	}, models.RelevanceWeights{Text: 1.0}, models.SearchRequest{}, now)

	assert.InDelta(t, 1.0, hits[0].TextScore, 1e-9)
	assert.InDelta(t, 0.25, hits[1].TextScore, 1e-9)
}
