package db

import (
	"context"
	"fmt"

	"github.com/dvarga/mailpilot/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

// UpsertAttachment saves or updates an attachment, keyed by the provider's
// attachment id.
func UpsertAttachment(ctx context.Context, pool *pgxpool.Pool, att *models.EmailAttachment) error {
	_, err := pool.Exec(ctx, `
		INSERT INTO email_attachments (id, email_id, name, mime_type, size, inline, content_id, content, content_location)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			email_id = EXCLUDED.email_id,
			name = EXCLUDED.name,
			mime_type = EXCLUDED.mime_type,
			size = EXCLUDED.size,
			inline = EXCLUDED.inline,
			content_id = EXCLUDED.content_id,
			content = EXCLUDED.content,
			content_location = EXCLUDED.content_location
	`, att.ID, att.EmailID, att.Name, att.MimeType, att.Size, att.Inline,
		att.ContentID, att.Content, att.ContentLocation)

	if err != nil {
		return fmt.Errorf("failed to upsert attachment: %w", err)
	}

	return nil
}

func getAttachmentsForEmails(ctx context.Context, pool *pgxpool.Pool, emailIDs []string) ([]*models.EmailAttachment, error) {
	rows, err := pool.Query(ctx, `
		SELECT id, email_id, name, mime_type, size, inline, content_id, content, content_location
		FROM email_attachments
		WHERE email_id = ANY($1)
	`, emailIDs)

	if err != nil {
		return nil, fmt.Errorf("failed to get attachments: %w", err)
	}
	defer rows.Close()

	var attachments []*models.EmailAttachment
	for rows.Next() {
		var att models.EmailAttachment
		if err := rows.Scan(
			&att.ID,
			&att.EmailID,
			&att.Name,
			&att.MimeType,
			&att.Size,
			&att.Inline,
			&att.ContentID,
			&att.Content,
			&att.ContentLocation,
		); err != nil {
			return nil, fmt.Errorf("failed to scan attachment: %w", err)
		}
		attachments = append(attachments, &att)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating attachments: %w", err)
	}

	return attachments, nil
}
