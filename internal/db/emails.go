package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvarga/mailpilot/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrEmailNotFound is returned when a requested email cannot be found.
var ErrEmailNotFound = errors.New("email not found")

const emailColumns = `
	id, thread_id, created_time, last_modified_time, sent_at, received_at,
	internet_message_id, subject, sys_labels, keywords, sys_classifications,
	sensitivity, meeting_message_method, from_id, has_attachments, body,
	body_snippet, in_reply_to, references_header, thread_index,
	internet_headers, native_properties, folder_id, omitted, email_label`

// UpsertEmail saves or updates an email and replaces its recipient sets in one
// transaction. Reconciling the same provider message id again fully overwrites
// the row, so a message that moved folders or changed labels converges instead
// of duplicating.
func UpsertEmail(ctx context.Context, pool *pgxpool.Pool, email *models.Email) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO emails (
			id, thread_id, created_time, last_modified_time, sent_at, received_at,
			internet_message_id, subject, sys_labels, keywords, sys_classifications,
			sensitivity, meeting_message_method, from_id, has_attachments, body,
			body_snippet, in_reply_to, references_header, thread_index,
			internet_headers, native_properties, folder_id, omitted, email_label
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22, $23, $24, $25)
		ON CONFLICT (id) DO UPDATE SET
			thread_id = EXCLUDED.thread_id,
			created_time = EXCLUDED.created_time,
			last_modified_time = EXCLUDED.last_modified_time,
			sent_at = EXCLUDED.sent_at,
			received_at = EXCLUDED.received_at,
			internet_message_id = EXCLUDED.internet_message_id,
			subject = EXCLUDED.subject,
			sys_labels = EXCLUDED.sys_labels,
			keywords = EXCLUDED.keywords,
			sys_classifications = EXCLUDED.sys_classifications,
			sensitivity = EXCLUDED.sensitivity,
			meeting_message_method = EXCLUDED.meeting_message_method,
			from_id = EXCLUDED.from_id,
			has_attachments = EXCLUDED.has_attachments,
			body = EXCLUDED.body,
			body_snippet = EXCLUDED.body_snippet,
			in_reply_to = EXCLUDED.in_reply_to,
			references_header = EXCLUDED.references_header,
			thread_index = EXCLUDED.thread_index,
			internet_headers = EXCLUDED.internet_headers,
			native_properties = EXCLUDED.native_properties,
			folder_id = EXCLUDED.folder_id,
			omitted = EXCLUDED.omitted,
			email_label = EXCLUDED.email_label
	`, email.ID, email.ThreadID, email.CreatedTime, email.LastModifiedTime,
		email.SentAt, email.ReceivedAt, email.InternetMessageID, email.Subject,
		email.SysLabels, email.Keywords, email.SysClassifications,
		email.Sensitivity, email.MeetingMessageMethod, email.FromID,
		email.HasAttachments, email.Body, email.BodySnippet, email.InReplyTo,
		email.References, email.ThreadIndex, email.InternetHeaders,
		email.NativeProperties, email.FolderID, email.Omitted, email.EmailLabel)

	if err != nil {
		return fmt.Errorf("failed to upsert email: %w", err)
	}

	// Rebuild the recipient sets wholesale so removed recipients don't linger.
	if _, err := tx.Exec(ctx, `DELETE FROM email_recipients WHERE email_id = $1`, email.ID); err != nil {
		return fmt.Errorf("failed to clear email recipients: %w", err)
	}

	sets := []struct {
		kind string
		ids  []string
	}{
		{"to", email.ToIDs},
		{"cc", email.CcIDs},
		{"bcc", email.BccIDs},
		{"replyTo", email.ReplyToIDs},
	}
	for _, set := range sets {
		for _, addressID := range set.ids {
			if _, err := tx.Exec(ctx, `
				INSERT INTO email_recipients (email_id, address_id, kind)
				VALUES ($1, $2, $3)
				ON CONFLICT DO NOTHING
			`, email.ID, addressID, set.kind); err != nil {
				return fmt.Errorf("failed to insert %s recipient: %w", set.kind, err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit email upsert: %w", err)
	}

	return nil
}

// GetEmailByID returns an email with its from address and recipient sets.
func GetEmailByID(ctx context.Context, pool *pgxpool.Pool, emailID string) (*models.Email, error) {
	row := pool.QueryRow(ctx, `SELECT `+emailColumns+` FROM emails WHERE id = $1`, emailID)

	email, err := scanEmail(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrEmailNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get email: %w", err)
	}

	if err := enrichEmails(ctx, pool, []*models.Email{email}); err != nil {
		return nil, err
	}

	return email, nil
}

// GetEmailsForThread returns a thread's emails oldest first, with from
// addresses and recipient sets attached.
func GetEmailsForThread(ctx context.Context, pool *pgxpool.Pool, threadID string) ([]*models.Email, error) {
	return getEmailsForThreads(ctx, pool, []string{threadID})
}

func getEmailsForThreads(ctx context.Context, pool *pgxpool.Pool, threadIDs []string) ([]*models.Email, error) {
	rows, err := pool.Query(ctx, `
		SELECT `+emailColumns+`
		FROM emails
		WHERE thread_id = ANY($1)
		ORDER BY sent_at
	`, threadIDs)

	if err != nil {
		return nil, fmt.Errorf("failed to get emails: %w", err)
	}
	defer rows.Close()

	var emails []*models.Email
	for rows.Next() {
		email, err := scanEmail(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan email: %w", err)
		}
		emails = append(emails, email)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating emails: %w", err)
	}

	if err := enrichEmails(ctx, pool, emails); err != nil {
		return nil, err
	}

	return emails, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEmail(row rowScanner) (*models.Email, error) {
	var email models.Email
	err := row.Scan(
		&email.ID,
		&email.ThreadID,
		&email.CreatedTime,
		&email.LastModifiedTime,
		&email.SentAt,
		&email.ReceivedAt,
		&email.InternetMessageID,
		&email.Subject,
		&email.SysLabels,
		&email.Keywords,
		&email.SysClassifications,
		&email.Sensitivity,
		&email.MeetingMessageMethod,
		&email.FromID,
		&email.HasAttachments,
		&email.Body,
		&email.BodySnippet,
		&email.InReplyTo,
		&email.References,
		&email.ThreadIndex,
		&email.InternetHeaders,
		&email.NativeProperties,
		&email.FolderID,
		&email.Omitted,
		&email.EmailLabel,
	)
	if err != nil {
		return nil, err
	}
	return &email, nil
}

// enrichEmails attaches from addresses, recipient id sets and attachments to a
// batch of emails using one query per relation.
func enrichEmails(ctx context.Context, pool *pgxpool.Pool, emails []*models.Email) error {
	if len(emails) == 0 {
		return nil
	}

	emailIDMap := make(map[string]*models.Email, len(emails))
	emailIDs := make([]string, 0, len(emails))
	fromIDs := make([]string, 0, len(emails))
	for _, email := range emails {
		emailIDMap[email.ID] = email
		emailIDs = append(emailIDs, email.ID)
		fromIDs = append(fromIDs, email.FromID)
	}

	fromAddrs, err := GetEmailAddressesByIDs(ctx, pool, fromIDs)
	if err != nil {
		return err
	}
	fromByID := make(map[string]*models.EmailAddress, len(fromAddrs))
	for _, addr := range fromAddrs {
		fromByID[addr.ID] = addr
	}
	for _, email := range emails {
		email.From = fromByID[email.FromID]
	}

	rows, err := pool.Query(ctx, `
		SELECT email_id, address_id, kind
		FROM email_recipients
		WHERE email_id = ANY($1)
	`, emailIDs)
	if err != nil {
		return fmt.Errorf("failed to get email recipients: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var emailID, addressID, kind string
		if err := rows.Scan(&emailID, &addressID, &kind); err != nil {
			return fmt.Errorf("failed to scan email recipient: %w", err)
		}
		email, exists := emailIDMap[emailID]
		if !exists {
			continue
		}
		switch kind {
		case "to":
			email.ToIDs = append(email.ToIDs, addressID)
		case "cc":
			email.CcIDs = append(email.CcIDs, addressID)
		case "bcc":
			email.BccIDs = append(email.BccIDs, addressID)
		case "replyTo":
			email.ReplyToIDs = append(email.ReplyToIDs, addressID)
		}
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating email recipients: %w", err)
	}

	attachments, err := getAttachmentsForEmails(ctx, pool, emailIDs)
	if err != nil {
		return err
	}
	for _, att := range attachments {
		if email, exists := emailIDMap[att.EmailID]; exists {
			email.Attachments = append(email.Attachments, att)
		}
	}

	return nil
}
