// Command create_tables provisions the database schema: the pgvector
// extension, the document and taxonomy tables, the generated full-text
// column, and the search indexes. Idempotent; safe to re-run.
package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	_ "github.com/lib/pq"
)

var statements = []string{
	`CREATE EXTENSION IF NOT EXISTS vector`,

	`CREATE TABLE IF NOT EXISTS documents (
		id BIGSERIAL PRIMARY KEY,
		filename VARCHAR(255) NOT NULL,
		blob_key VARCHAR(512) NOT NULL,
		size_bytes BIGINT,
		status VARCHAR(20) NOT NULL DEFAULT 'PENDING',
		progress INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		extracted_text TEXT,
		ai_analysis JSONB,
		keywords JSONB DEFAULT '[]',
		metadata JSONB DEFAULT '{}',
		search_vector vector(1536),
		preview_key VARCHAR(512),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		processed_at TIMESTAMPTZ,
		full_text_index tsvector GENERATED ALWAYS AS (
			to_tsvector('english', coalesce(filename, '') || ' ' || coalesce(extracted_text, ''))
		) STORED
	)`,

	`CREATE TABLE IF NOT EXISTS taxonomy_terms (
		id BIGSERIAL PRIMARY KEY,
		term VARCHAR(255) NOT NULL UNIQUE,
		primary_category VARCHAR(255),
		subcategory VARCHAR(255),
		description TEXT NOT NULL DEFAULT '',
		parent_id BIGINT REFERENCES taxonomy_terms(id),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS taxonomy_synonyms (
		id BIGSERIAL PRIMARY KEY,
		term_id BIGINT NOT NULL REFERENCES taxonomy_terms(id) ON DELETE CASCADE,
		synonym VARCHAR(255) NOT NULL,
		UNIQUE (term_id, synonym)
	)`,

	`CREATE TABLE IF NOT EXISTS document_taxonomy_map (
		document_id BIGINT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		term_id BIGINT NOT NULL REFERENCES taxonomy_terms(id) ON DELETE CASCADE,
		PRIMARY KEY (document_id, term_id)
	)`,

	`CREATE TABLE IF NOT EXISTS search_queries (
		id BIGSERIAL PRIMARY KEY,
		query_text VARCHAR(512) NOT NULL,
		actor_id VARCHAR(64),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_documents_status_created
		ON documents (status, created_at)`,

	// The stuck-document sweep filters on status and updated_at.
	`CREATE INDEX IF NOT EXISTS idx_documents_status_updated
		ON documents (status, updated_at)`,

	// Recent listings and empty-query search order by newest first.
	`CREATE INDEX IF NOT EXISTS idx_documents_created_at
		ON documents (created_at DESC)`,

	`CREATE INDEX IF NOT EXISTS idx_documents_fulltext
		ON documents USING gin (full_text_index)`,

	`CREATE INDEX IF NOT EXISTS idx_documents_keywords
		ON documents USING gin (keywords)`,

	// HNSW over cosine distance. Build parameters follow the corpus-scale
	// guidance: m=32, ef_construction=128.
	`CREATE INDEX IF NOT EXISTS idx_documents_search_vector
		ON documents USING hnsw (search_vector vector_cosine_ops)
		WITH (m = 32, ef_construction = 128)`,

	`CREATE INDEX IF NOT EXISTS idx_taxonomy_terms_primary_category
		ON taxonomy_terms (primary_category)`,

	`CREATE INDEX IF NOT EXISTS idx_taxonomy_synonyms_synonym
		ON taxonomy_synonyms (synonym)`,

	`CREATE INDEX IF NOT EXISTS idx_search_queries_created_at
		ON search_queries (created_at)`,

	`CREATE INDEX IF NOT EXISTS idx_search_queries_query_text
		ON search_queries (query_text)`,
}

func main() {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		dsn = fmt.Sprintf(
			"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			envOr("DB_HOST", "localhost"),
			envOr("DB_PORT", "5432"),
			envOr("DB_USER", "catalog"),
			os.Getenv("DB_PASSWORD"),
			envOr("DB_NAME", "doc_catalog"),
			envOr("DB_SSL_MODE", "disable"),
		)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("failed to reach database: %v", err)
	}

	for i, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			log.Fatalf("statement %d failed: %v", i+1, err)
		}
	}

	log.Printf("schema ready: %d statements applied", len(statements))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
