package impl

import (
	"context"
	"io"
	"sort"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doc-catalog/models"
)

// snapshotTaxonomy builds a taxonomy service with an in-memory snapshot,
// bypassing the database. Resolve and ValidateMappings operate on the
// snapshot alone.
func snapshotTaxonomy(t *testing.T, terms []models.TaxonomyTerm) *taxonomyServiceImpl {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	svc := &taxonomyServiceImpl{log: logrus.NewEntry(log)}
	svc.byExact = make(map[string]*models.TaxonomyTerm)
	svc.bySynonym = make(map[string]*models.TaxonomyTerm)
	svc.byNorm = make(map[string]*models.TaxonomyTerm)
	for i := range terms {
		term := &terms[i]
		svc.byExact[strings.ToLower(term.Term)] = term
		svc.byNorm[normalizeTerm(term.Term)] = term
		svc.termsAlpha = append(svc.termsAlpha, term.Term)
		for _, syn := range term.Synonyms {
			svc.bySynonym[strings.ToLower(syn.Synonym)] = term
		}
	}
	sort.Strings(svc.termsAlpha)
	return svc
}

func sampleTerms() []models.TaxonomyTerm {
	return []models.TaxonomyTerm{
		{ID: 1, Term: "Contract", Synonyms: []models.TaxonomySynonym{{Synonym: "agreement"}}},
		{ID: 2, Term: "Invoice"},
		{ID: 3, Term: "Non-Disclosure Agreement", Synonyms: []models.TaxonomySynonym{{Synonym: "NDA"}}},
		{ID: 4, Term: "Receipt"},
		{ID: 5, Term: "Recent"},
	}
}

func TestNormalizeTerm(t *testing.T) {
	assert.Equal(t, "nondisclosureagreement", normalizeTerm("Non-Disclosure Agreement"))
	assert.Equal(t, "nondisclosureagreement", normalizeTerm("non disclosure agreement"))
	assert.Equal(t, "invoice2024", normalizeTerm("Invoice 2024!"))
	assert.Equal(t, "", normalizeTerm("---"))
}

func TestLevenshtein(t *testing.T) {
	assert.Equal(t, 0, levenshtein("contract", "contract"))
	assert.Equal(t, 1, levenshtein("contract", "contrct"))
	assert.Equal(t, 2, levenshtein("contract", "contrat!"))
	assert.Equal(t, 7, levenshtein("", "invoice"))
}

func TestResolveExactMatch(t *testing.T) {
	svc := snapshotTaxonomy(t, sampleTerms())

	term, err := svc.Resolve(context.Background(), "contract")
	require.NoError(t, err)
	require.NotNil(t, term)
	assert.Equal(t, "Contract", term.Term)
}

func TestResolveSynonym(t *testing.T) {
	svc := snapshotTaxonomy(t, sampleTerms())

	term, err := svc.Resolve(context.Background(), "nda")
	require.NoError(t, err)
	require.NotNil(t, term)
	assert.Equal(t, "Non-Disclosure Agreement", term.Term)
}

func TestResolveNormalized(t *testing.T) {
	svc := snapshotTaxonomy(t, sampleTerms())

	term, err := svc.Resolve(context.Background(), "non disclosure agreement")
	require.NoError(t, err)
	require.NotNil(t, term)
	assert.Equal(t, "Non-Disclosure Agreement", term.Term)
}

func TestResolveFuzzySingleCandidate(t *testing.T) {
	svc := snapshotTaxonomy(t, sampleTerms())

	term, err := svc.Resolve(context.Background(), "invocie")
	require.NoError(t, err)
	require.NotNil(t, term)
	assert.Equal(t, "Invoice", term.Term)
}

func TestResolveFuzzyAmbiguousReturnsNil(t *testing.T) {
	svc := snapshotTaxonomy(t, sampleTerms())

	// "recet" is within distance 2 of both Receipt and Recent.
	term, err := svc.Resolve(context.Background(), "recet")
	require.NoError(t, err)
	assert.Nil(t, term)
}

func TestResolveNoMatch(t *testing.T) {
	svc := snapshotTaxonomy(t, sampleTerms())

	term, err := svc.Resolve(context.Background(), "completely unrelated text")
	require.NoError(t, err)
	assert.Nil(t, term)
}

func TestResolveEmpty(t *testing.T) {
	svc := snapshotTaxonomy(t, sampleTerms())

	term, err := svc.Resolve(context.Background(), "   ")
	require.NoError(t, err)
	assert.Nil(t, term)
}

func TestValidateMappings(t *testing.T) {
	svc := snapshotTaxonomy(t, sampleTerms())

	result, err := svc.ValidateMappings(context.Background(), []models.KeywordMapping{
		{VerbatimTerm: "agreement"},
		{VerbatimTerm: "nda", MappedCanonicalTerm: "Non-Disclosure Agreement"},
		{VerbatimTerm: "made-up term", MappedCanonicalTerm: "Nothing Like This"},
		{VerbatimTerm: "signed agreement", MappedCanonicalTerm: "Contract"},
	})
	require.NoError(t, err)

	// "agreement" and "Contract" resolve to the same term; the duplicate
	// is dropped.
	require.Len(t, result.Valid, 2)
	assert.Equal(t, "Contract", result.Valid[0].MappedCanonicalTerm)
	assert.Equal(t, "Non-Disclosure Agreement", result.Valid[1].MappedCanonicalTerm)

	require.Len(t, result.Rejected, 1)
	assert.Equal(t, "made-up term", result.Rejected[0].VerbatimTerm)
}

func TestFindParentCycle(t *testing.T) {
	// Chain 3 -> 2 -> 1 with 1 as root.
	assert.Zero(t, findParentCycle(map[int64]int64{3: 2, 2: 1}))

	assert.Zero(t, findParentCycle(nil))

	// Two terms pointing at each other.
	cycle := findParentCycle(map[int64]int64{1: 2, 2: 1})
	assert.Contains(t, []int64{1, 2}, cycle)

	// A term naming itself as parent.
	assert.Equal(t, int64(7), findParentCycle(map[int64]int64{7: 7}))

	// A healthy tree plus one cyclic branch.
	cycle = findParentCycle(map[int64]int64{2: 1, 3: 1, 10: 11, 11: 12, 12: 10})
	assert.Contains(t, []int64{10, 11, 12}, cycle)
}
