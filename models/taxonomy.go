package models

import "time"

type TaxonomyTerm struct {
	ID              int64   `json:"id" gorm:"primaryKey;autoIncrement"`
	Term            string  `json:"term" gorm:"type:varchar(255);not null;uniqueIndex"`
	PrimaryCategory *string `json:"primary_category,omitempty" gorm:"type:varchar(255)"`
	Subcategory     *string `json:"subcategory,omitempty" gorm:"type:varchar(255)"`
	Description     string  `json:"description" gorm:"type:text"`
	ParentID        *int64  `json:"parent_id,omitempty" gorm:"index"`

	Parent   *TaxonomyTerm     `json:"-" gorm:"foreignKey:ParentID"`
	Synonyms []TaxonomySynonym `json:"synonyms,omitempty" gorm:"foreignKey:TermID"`

	CreatedAt time.Time `json:"created_at" gorm:"not null;default:now()"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null;default:now()"`
}

func (TaxonomyTerm) TableName() string {
	return "taxonomy_terms"
}

type TaxonomySynonym struct {
	ID      int64  `json:"id" gorm:"primaryKey;autoIncrement"`
	TermID  int64  `json:"term_id" gorm:"not null;uniqueIndex:idx_taxonomy_synonyms_term_synonym,priority:1"`
	Synonym string `json:"synonym" gorm:"type:varchar(255);not null;uniqueIndex:idx_taxonomy_synonyms_term_synonym,priority:2"`
}

func (TaxonomySynonym) TableName() string {
	return "taxonomy_synonyms"
}

// DocumentTaxonomyMap is the documents↔terms join table. Rows are removed
// when either side is deleted.
type DocumentTaxonomyMap struct {
	DocumentID int64 `json:"document_id" gorm:"primaryKey"`
	TermID     int64 `json:"term_id" gorm:"primaryKey"`
}

func (DocumentTaxonomyMap) TableName() string {
	return "document_taxonomy_map"
}

// TaxonomyHierarchy maps primary category → subcategory → terms. Terms with
// no subcategory are grouped under "General".
type TaxonomyHierarchy map[string]map[string][]string

type TaxonomyStatistics struct {
	TotalTerms        int64 `json:"total_terms"`
	TotalSynonyms     int64 `json:"total_synonyms"`
	PrimaryCategories int64 `json:"primary_categories"`
	MappedDocuments   int64 `json:"mapped_documents"`
	TotalMappings     int64 `json:"total_mappings"`
}

// TaxonomyInitCounts reports what an initialize pass created vs skipped.
type TaxonomyInitCounts struct {
	TermsCreated    int `json:"terms_created"`
	SynonymsCreated int `json:"synonyms_created"`
	RowsSkipped     int `json:"rows_skipped"`
}

// MappingValidation is the result of checking AI keyword mappings against
// the canonical vocabulary.
type MappingValidation struct {
	Valid    []KeywordMapping `json:"valid"`
	Rejected []KeywordMapping `json:"rejected"`
}
