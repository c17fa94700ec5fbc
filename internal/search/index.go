package search

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// Document is one email as stored in the search index.
type Document struct {
	EmailID     string
	ThreadID    string
	Subject     string
	Body        string
	FromAddress string
	RawBody     string
	ToAddresses []string
	SentAt      time.Time
}

// Hit is one search result.
type Hit struct {
	EmailID     string    `json:"emailId"`
	ThreadID    string    `json:"threadId"`
	Subject     string    `json:"subject"`
	Body        string    `json:"body"`
	FromAddress string    `json:"from"`
	RawBody     string    `json:"rawBody"`
	SentAt      time.Time `json:"sentAt"`
}

// Renderer converts an HTML email body to plain text.
type Renderer interface {
	Render(html string) (string, error)
}

// Indexer maintains the per-account search index: full-text over subject and
// rendered body, plus an embedding column for semantic retrieval.
type Indexer struct {
	pool      *pgxpool.Pool
	embedding *EmbeddingClient
	renderer  Renderer
}

// NewIndexer creates an Indexer backed by pool, using embedding to vectorize
// documents and renderer to turn HTML bodies into plain text.
func NewIndexer(pool *pgxpool.Pool, embedding *EmbeddingClient, renderer Renderer) *Indexer {
	return &Indexer{pool: pool, embedding: embedding, renderer: renderer}
}

// Feed renders, embeds and upserts one email into the account's index. The
// document is keyed by (account_id, email_id) so re-feeding the same email
// replaces its row.
func (ix *Indexer) Feed(ctx context.Context, accountID string, doc Document) error {
	body, err := ix.renderer.Render(doc.RawBody)
	if err != nil {
		return fmt.Errorf("failed to render body for email %s: %w", doc.EmailID, err)
	}
	if body == "" {
		body = doc.Body
	}

	text := doc.Subject + "\n" + body
	vec, err := ix.embedding.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("failed to embed email %s: %w", doc.EmailID, err)
	}

	_, err = ix.pool.Exec(ctx, `
		INSERT INTO email_index (account_id, email_id, thread_id, subject, body, from_address, raw_body, to_addresses, sent_at, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (account_id, email_id) DO UPDATE SET
			thread_id = EXCLUDED.thread_id,
			subject = EXCLUDED.subject,
			body = EXCLUDED.body,
			from_address = EXCLUDED.from_address,
			raw_body = EXCLUDED.raw_body,
			to_addresses = EXCLUDED.to_addresses,
			sent_at = EXCLUDED.sent_at,
			embedding = EXCLUDED.embedding
	`, accountID, doc.EmailID, doc.ThreadID, doc.Subject, body, doc.FromAddress,
		doc.RawBody, doc.ToAddresses, doc.SentAt, pgvector.NewVector(vec))
	if err != nil {
		return fmt.Errorf("failed to upsert index row for email %s: %w", doc.EmailID, err)
	}
	return nil
}

// TermSearch runs a full-text query over subject and body for one account.
func (ix *Indexer) TermSearch(ctx context.Context, accountID, term string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := ix.pool.Query(ctx, `
		SELECT email_id, thread_id, subject, body, from_address, raw_body, sent_at
		FROM email_index
		WHERE account_id = $1
		  AND to_tsvector('english', subject || ' ' || body) @@ websearch_to_tsquery('english', $2)
		ORDER BY sent_at DESC
		LIMIT $3
	`, accountID, term, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search index: %w", err)
	}
	defer rows.Close()
	return scanHits(rows)
}

// VectorSearch returns the documents closest to the prompt by cosine distance.
// A non-empty term additionally restricts results to full-text matches, making
// the query hybrid.
func (ix *Indexer) VectorSearch(ctx context.Context, accountID, prompt, term string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 8
	}
	vec, err := ix.embedding.Embed(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("failed to embed search prompt: %w", err)
	}

	query := `
		SELECT email_id, thread_id, subject, body, from_address, raw_body, sent_at
		FROM email_index
		WHERE account_id = $1`
	args := []any{accountID, pgvector.NewVector(vec)}
	if strings.TrimSpace(term) != "" {
		query += `
		  AND to_tsvector('english', subject || ' ' || body) @@ websearch_to_tsquery('english', $3)`
		args = append(args, term)
	}
	query += `
		ORDER BY embedding <=> $2
		LIMIT ` + fmt.Sprintf("%d", limit)

	rows, err := ix.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to run vector search: %w", err)
	}
	defer rows.Close()
	return scanHits(rows)
}

// DeleteAccount removes every index row for an account.
func (ix *Indexer) DeleteAccount(ctx context.Context, accountID string) error {
	_, err := ix.pool.Exec(ctx, `DELETE FROM email_index WHERE account_id = $1`, accountID)
	if err != nil {
		return fmt.Errorf("failed to delete index rows: %w", err)
	}
	return nil
}

type pgxRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanHits(rows pgxRows) ([]Hit, error) {
	var hits []Hit
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.EmailID, &h.ThreadID, &h.Subject, &h.Body, &h.FromAddress, &h.RawBody, &h.SentAt); err != nil {
			return nil, fmt.Errorf("failed to scan search hit: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read search hits: %w", err)
	}
	return hits, nil
}
