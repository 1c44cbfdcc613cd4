package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/doc-catalog/services"
)

type TaxonomyHandlers struct {
	taxonomy services.TaxonomyService
	log      *logrus.Entry
}

func NewTaxonomyHandlers(taxonomy services.TaxonomyService, log *logrus.Entry) *TaxonomyHandlers {
	return &TaxonomyHandlers{taxonomy: taxonomy, log: log}
}

func (h *TaxonomyHandlers) Hierarchy(c *gin.Context) {
	hierarchy, err := h.taxonomy.Hierarchy(c.Request.Context())
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"hierarchy": hierarchy})
}

func (h *TaxonomyHandlers) Categories(c *gin.Context) {
	categories, err := h.taxonomy.PrimaryCategories(c.Request.Context())
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"categories": categories})
}

func (h *TaxonomyHandlers) CanonicalTerms(c *gin.Context) {
	terms, err := h.taxonomy.CanonicalTerms(c.Request.Context())
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"terms": terms})
}

func (h *TaxonomyHandlers) Search(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		respondKind(c, http.StatusBadRequest, "ValidationError", "query parameter q is required", nil)
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	terms, err := h.taxonomy.Search(c.Request.Context(), query, limit)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"terms": terms})
}

func (h *TaxonomyHandlers) Statistics(c *gin.Context) {
	stats, err := h.taxonomy.Statistics(c.Request.Context())
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// Initialize seeds the vocabulary from an uploaded CSV with columns
// primary_category,subcategory,term,synonyms. Idempotent; re-posting the
// same file creates nothing.
func (h *TaxonomyHandlers) Initialize(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		respondKind(c, http.StatusBadRequest, "ValidationError", "a CSV file is required under the \"file\" field", nil)
		return
	}
	body, err := fh.Open()
	if err != nil {
		respondKind(c, http.StatusBadRequest, "ValidationError", "failed to read uploaded file", nil)
		return
	}
	defer body.Close()

	counts, err := h.taxonomy.Initialize(c.Request.Context(), body)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, counts)
}
