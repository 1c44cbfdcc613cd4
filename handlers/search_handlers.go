package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/doc-catalog/models"
	"github.com/doc-catalog/services"
)

type SearchHandlers struct {
	search services.SearchService
	log    *logrus.Entry
}

func NewSearchHandlers(search services.SearchService, log *logrus.Entry) *SearchHandlers {
	return &SearchHandlers{search: search, log: log}
}

// Search answers the hybrid query endpoint. All parameters are optional;
// an empty query browses the corpus by recency.
func (h *SearchHandlers) Search(c *gin.Context) {
	var req models.SearchRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		respondKind(c, http.StatusBadRequest, "ValidationError", "invalid search parameters", nil)
		return
	}

	resp, err := h.search.Search(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Suggestions returns term and filename completions for a prefix.
func (h *SearchHandlers) Suggestions(c *gin.Context) {
	partial := c.Query("q")
	if partial == "" {
		c.JSON(http.StatusOK, gin.H{"suggestions": []string{}})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if limit <= 0 || limit > 25 {
		limit = 10
	}

	suggestions, err := h.search.Suggestions(c.Request.Context(), partial, limit)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"suggestions": suggestions})
}

// TopQueries reports the most frequent queries over the trailing window.
func (h *SearchHandlers) TopQueries(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if limit <= 0 || limit > 50 {
		limit = 10
	}

	queries, err := h.search.TopQueries(c.Request.Context(), limit)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"queries": queries})
}
