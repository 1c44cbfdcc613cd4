package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
)

type DocumentStatus string

const (
	DocumentStatusPending    DocumentStatus = "PENDING"
	DocumentStatusQueued     DocumentStatus = "QUEUED"
	DocumentStatusProcessing DocumentStatus = "PROCESSING"
	DocumentStatusCompleted  DocumentStatus = "COMPLETED"
	DocumentStatusFailed     DocumentStatus = "FAILED"
)

// KeywordMapping is a single AI-emitted pair of a surface string and the
// canonical taxonomy term it was mapped to, if any.
type KeywordMapping struct {
	VerbatimTerm        string `json:"verbatim_term"`
	MappedCanonicalTerm string `json:"mapped_canonical_term,omitempty"`
}

// AIAnalysis is the structured analysis emitted by the AI gateway. Unknown
// provider fields are preserved in Extra and round-tripped verbatim.
type AIAnalysis struct {
	Summary         string           `json:"summary,omitempty"`
	DocumentType    string           `json:"document_type,omitempty"`
	CampaignType    string           `json:"campaign_type,omitempty"`
	DocumentTone    string           `json:"document_tone,omitempty"`
	Categories      []string         `json:"categories,omitempty"`
	KeywordMappings []KeywordMapping `json:"keyword_mappings,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// aiAnalysisKnown mirrors the recognized fields for two-pass decoding.
type aiAnalysisKnown struct {
	Summary         string           `json:"summary,omitempty"`
	DocumentType    string           `json:"document_type,omitempty"`
	CampaignType    string           `json:"campaign_type,omitempty"`
	DocumentTone    string           `json:"document_tone,omitempty"`
	Categories      []string         `json:"categories,omitempty"`
	KeywordMappings []KeywordMapping `json:"keyword_mappings,omitempty"`
}

var aiAnalysisKnownKeys = map[string]bool{
	"summary": true, "document_type": true, "campaign_type": true,
	"document_tone": true, "categories": true, "keyword_mappings": true,
}

func (a AIAnalysis) MarshalJSON() ([]byte, error) {
	merged := make(map[string]json.RawMessage, len(a.Extra)+6)
	for k, v := range a.Extra {
		merged[k] = v
	}
	known, err := json.Marshal(aiAnalysisKnown{
		Summary:         a.Summary,
		DocumentType:    a.DocumentType,
		CampaignType:    a.CampaignType,
		DocumentTone:    a.DocumentTone,
		Categories:      a.Categories,
		KeywordMappings: a.KeywordMappings,
	})
	if err != nil {
		return nil, err
	}
	var knownMap map[string]json.RawMessage
	if err := json.Unmarshal(known, &knownMap); err != nil {
		return nil, err
	}
	for k, v := range knownMap {
		merged[k] = v
	}
	return json.Marshal(merged)
}

func (a *AIAnalysis) UnmarshalJSON(data []byte) error {
	var known aiAnalysisKnown
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	extra := make(map[string]json.RawMessage)
	for k, v := range raw {
		if !aiAnalysisKnownKeys[k] {
			extra[k] = v
		}
	}
	if len(extra) == 0 {
		extra = nil
	}
	*a = AIAnalysis{
		Summary:         known.Summary,
		DocumentType:    known.DocumentType,
		CampaignType:    known.CampaignType,
		DocumentTone:    known.DocumentTone,
		Categories:      known.Categories,
		KeywordMappings: known.KeywordMappings,
		Extra:           extra,
	}
	return nil
}

func (a AIAnalysis) Value() (driver.Value, error) {
	return json.Marshal(a)
}

func (a *AIAnalysis) Scan(value interface{}) error {
	if value == nil {
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return json.Unmarshal([]byte(value.(string)), a)
	}

	return json.Unmarshal(bytes, a)
}

// IsComplete reports whether the analysis carries the fields a COMPLETED
// document is required to have.
func (a *AIAnalysis) IsComplete() bool {
	return a != nil && a.Summary != ""
}

type Document struct {
	ID       int64  `json:"id" gorm:"primaryKey;autoIncrement"`
	Filename string `json:"filename" gorm:"type:varchar(255);not null"`
	BlobKey  string `json:"blob_key" gorm:"type:varchar(512);not null"`
	SizeBytes *int64 `json:"size_bytes"`

	Status   DocumentStatus `json:"status" gorm:"type:varchar(20);not null;default:'PENDING';index:idx_documents_status_created,priority:1"`
	Progress int            `json:"progress" gorm:"not null;default:0"`
	Error    *string        `json:"error,omitempty" gorm:"type:text"`

	ExtractedText *string          `json:"extracted_text,omitempty" gorm:"type:text"`
	Analysis      *AIAnalysis      `json:"ai_analysis,omitempty" gorm:"column:ai_analysis;type:jsonb"`
	Keywords      datatypes.JSON   `json:"keywords" gorm:"type:jsonb;default:'[]'"`
	Metadata      datatypes.JSON   `json:"metadata" gorm:"type:jsonb;default:'{}'"`
	SearchVector  *pgvector.Vector `json:"-" gorm:"type:vector(1536)"`
	PreviewKey    *string          `json:"preview_key,omitempty" gorm:"type:varchar(512)"`

	CreatedAt   time.Time  `json:"created_at" gorm:"not null;default:now();index:idx_documents_status_created,priority:2"`
	UpdatedAt   time.Time  `json:"updated_at" gorm:"not null;default:now()"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`

	TaxonomyTerms []TaxonomyTerm `json:"taxonomy_terms,omitempty" gorm:"many2many:document_taxonomy_map;"`
}

func (Document) TableName() string {
	return "documents"
}

// HasEmbedding reports whether a non-empty search vector is present.
func (d *Document) HasEmbedding() bool {
	return d.SearchVector != nil && len(d.SearchVector.Slice()) > 0
}

// IsIncomplete reports a COMPLETED document missing derived content. Such
// documents are eligible for reprocessing.
func (d *Document) IsIncomplete() bool {
	if d.Status != DocumentStatusCompleted {
		return false
	}
	return d.ExtractedText == nil || !d.Analysis.IsComplete() || !d.HasEmbedding()
}

// KeywordList decodes the JSON keywords column.
func (d *Document) KeywordList() []string {
	if len(d.Keywords) == 0 {
		return nil
	}
	var keywords []string
	if err := json.Unmarshal(d.Keywords, &keywords); err != nil {
		return nil
	}
	return keywords
}

// LegalTransitions is the document lifecycle state machine. QUEUED re-entry
// from terminal states happens only through reset_for_reprocessing, which
// bypasses this table deliberately.
var LegalTransitions = map[DocumentStatus][]DocumentStatus{
	DocumentStatusPending:    {DocumentStatusQueued},
	DocumentStatusQueued:     {DocumentStatusProcessing, DocumentStatusQueued},
	DocumentStatusProcessing: {DocumentStatusCompleted, DocumentStatusFailed, DocumentStatusQueued},
	DocumentStatusCompleted:  {},
	DocumentStatusFailed:     {},
}

// CanTransition reports whether from→to is a legal lifecycle step.
func CanTransition(from, to DocumentStatus) bool {
	for _, next := range LegalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type DocumentSummary struct {
	ID       int64          `json:"id"`
	Filename string         `json:"filename"`
	Status   DocumentStatus `json:"status"`
}

type UploadResponse struct {
	Documents []DocumentSummary `json:"documents"`
}

type StatusResponse struct {
	Status   DocumentStatus `json:"status"`
	Progress int            `json:"progress"`
	Error    *string        `json:"error,omitempty"`
}

type DocumentFilter struct {
	Status          *DocumentStatus `json:"status,omitempty"`
	CanonicalTerm   string          `json:"canonical_term,omitempty"`
	PrimaryCategory string          `json:"primary_category,omitempty"`
	FreeText        string          `json:"free_text,omitempty"`
	SortBy          string          `json:"sort_by,omitempty"`
	SortDirection   string          `json:"sort_direction,omitempty"`
	Page            int             `json:"page"`
	PerPage         int             `json:"per_page"`
}

type DocumentListResponse struct {
	Documents []Document `json:"documents"`
	Total     int64      `json:"total"`
}
