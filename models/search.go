package models

import "time"

// SearchQuery is an append-only analytics record used for top-query
// aggregation.
type SearchQuery struct {
	ID        int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	QueryText string    `json:"query_text" gorm:"type:varchar(512);not null;index"`
	ActorID   *string   `json:"actor_id,omitempty" gorm:"type:varchar(64)"`
	CreatedAt time.Time `json:"created_at" gorm:"not null;default:now();index"`
}

func (SearchQuery) TableName() string {
	return "search_queries"
}

// QueryClass is the deterministic classification of a search query.
type QueryClass string

const (
	QueryClassEmpty    QueryClass = "empty"
	QueryClassShort    QueryClass = "short"
	QueryClassEntity   QueryClass = "entity"
	QueryClassCategory QueryClass = "category"
	QueryClassPhrase   QueryClass = "phrase"
	QueryClassGeneral  QueryClass = "general"
)

// RelevanceWeights are the per-signal blend weights. They must sum to 1.0.
type RelevanceWeights struct {
	Vector     float64 `json:"vector"`
	Text       float64 `json:"text"`
	Taxonomy   float64 `json:"taxonomy"`
	Quality    float64 `json:"quality"`
	Freshness  float64 `json:"freshness"`
	Popularity float64 `json:"popularity"`
}

// Sum returns the total of all weights; used to assert the 1.0 invariant.
func (w RelevanceWeights) Sum() float64 {
	return w.Vector + w.Text + w.Taxonomy + w.Quality + w.Freshness + w.Popularity
}

// WeightTable holds the per-class weight blends. Treated as data: the
// relevance engine looks classes up here and never branches on class names.
var WeightTable = map[QueryClass]RelevanceWeights{
	QueryClassEmpty:    {Vector: 0.00, Text: 0.00, Taxonomy: 0.00, Quality: 0.50, Freshness: 0.30, Popularity: 0.20},
	QueryClassShort:    {Vector: 0.50, Text: 0.20, Taxonomy: 0.15, Quality: 0.05, Freshness: 0.05, Popularity: 0.05},
	QueryClassEntity:   {Vector: 0.30, Text: 0.35, Taxonomy: 0.20, Quality: 0.05, Freshness: 0.05, Popularity: 0.05},
	QueryClassCategory: {Vector: 0.35, Text: 0.15, Taxonomy: 0.30, Quality: 0.10, Freshness: 0.05, Popularity: 0.05},
	QueryClassPhrase:   {Vector: 0.30, Text: 0.40, Taxonomy: 0.15, Quality: 0.05, Freshness: 0.05, Popularity: 0.05},
	QueryClassGeneral:  {Vector: 0.40, Text: 0.25, Taxonomy: 0.15, Quality: 0.10, Freshness: 0.05, Popularity: 0.05},
}

// LegacyWeights is the fixed blend used when enhanced relevance is disabled.
var LegacyWeights = RelevanceWeights{Vector: 0.7, Text: 0.3}

// FilterTaxonomyBoost is added to the taxonomy weight when any taxonomy
// filter is applied; the boost is taken proportionally from vector and text.
const FilterTaxonomyBoost = 0.10

type SearchRequest struct {
	Query           string `form:"q" json:"q"`
	CanonicalTerm   string `form:"canonical_term" json:"canonical_term,omitempty"`
	PrimaryCategory string `form:"primary_category" json:"primary_category,omitempty"`
	SortBy          string `form:"sort_by" json:"sort_by"`
	SortDirection   string `form:"sort_direction" json:"sort_direction"`
	Page            int    `form:"page" json:"page"`
	PerPage         int    `form:"per_page" json:"per_page"`
}

// HasTaxonomyFilter reports whether any taxonomy predicate is applied.
func (r SearchRequest) HasTaxonomyFilter() bool {
	return r.CanonicalTerm != "" || r.PrimaryCategory != ""
}

type Pagination struct {
	Page    int   `json:"page"`
	PerPage int   `json:"per_page"`
	Total   int64 `json:"total"`
	HasNext bool  `json:"has_next"`
}

type SearchHit struct {
	Document  Document `json:"document"`
	Relevance float64  `json:"relevance"`

	VectorScore     float64 `json:"vector_score,omitempty"`
	TextScore       float64 `json:"text_score,omitempty"`
	TaxonomyScore   float64 `json:"taxonomy_score,omitempty"`
	QualityScore    float64 `json:"quality_score,omitempty"`
	FreshnessScore  float64 `json:"freshness_score,omitempty"`
	PopularityScore float64 `json:"popularity_score,omitempty"`
}

type Facets struct {
	PrimaryCategories map[string]int64            `json:"primary_categories"`
	Subcategories     map[string]map[string]int64 `json:"subcategories"`
	GeneratedAt       time.Time                   `json:"generated_at"`
}

type SearchResponse struct {
	Documents  []SearchHit `json:"documents"`
	Pagination Pagination  `json:"pagination"`
	TotalCount int64       `json:"total_count"`
	Facets     *Facets     `json:"facets,omitempty"`
	QueryClass QueryClass  `json:"query_class,omitempty"`
	Cached     bool        `json:"cached,omitempty"`
}

type TopQuery struct {
	QueryText string `json:"query_text"`
	Count     int64  `json:"count"`
}
