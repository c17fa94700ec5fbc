package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvarga/mailpilot/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrThreadNotFound is returned when a requested thread cannot be found.
var ErrThreadNotFound = errors.New("thread not found")

// ErrUnknownTab is returned when a folder tab name is not one of inbox,
// drafts or sent.
var ErrUnknownTab = errors.New("unknown tab")

// UpsertThread saves or updates a thread. On first sight the folder status
// flags come from the triggering message; on update they are left alone (the
// rollup recomputes them), the participant set is unioned with the incoming
// one, subject and last message date take the incoming values, and the thread
// is reopened (done = false) because it has new activity.
func UpsertThread(ctx context.Context, pool *pgxpool.Pool, thread *models.Thread) error {
	_, err := pool.Exec(ctx, `
		INSERT INTO threads (id, account_id, subject, last_message_date, done, inbox_status, draft_status, sent_status, participant_ids)
		VALUES ($1, $2, $3, $4, false, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			subject = EXCLUDED.subject,
			last_message_date = EXCLUDED.last_message_date,
			done = false,
			participant_ids = ARRAY(
				SELECT DISTINCT unnest(threads.participant_ids || EXCLUDED.participant_ids)
			)
	`, thread.ID, thread.AccountID, thread.Subject, thread.LastMessageDate,
		thread.InboxStatus, thread.DraftStatus, thread.SentStatus, thread.ParticipantIDs)

	if err != nil {
		return fmt.Errorf("failed to upsert thread: %w", err)
	}

	return nil
}

// UpdateThreadRollup recomputes the thread's folder status flags from its
// current member emails, scanned oldest first. An inbox message anywhere in
// the thread wins; otherwise a draft wins over sent; a thread with only sent
// messages is a sent thread. Exactly one flag ends up true.
func UpdateThreadRollup(ctx context.Context, pool *pgxpool.Pool, threadID string) error {
	rows, err := pool.Query(ctx, `
		SELECT email_label
		FROM emails
		WHERE thread_id = $1
		ORDER BY received_at
	`, threadID)

	if err != nil {
		return fmt.Errorf("failed to load thread emails for rollup: %w", err)
	}
	defer rows.Close()

	folder := models.LabelSent
	for rows.Next() {
		var label models.EmailLabel
		if err := rows.Scan(&label); err != nil {
			return fmt.Errorf("failed to scan email label: %w", err)
		}
		if label == models.LabelInbox {
			folder = models.LabelInbox
			break
		}
		if label == models.LabelDraft {
			folder = models.LabelDraft
		}
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating email labels: %w", err)
	}

	_, err = pool.Exec(ctx, `
		UPDATE threads
		SET inbox_status = $2, draft_status = $3, sent_status = $4
		WHERE id = $1
	`, threadID,
		folder == models.LabelInbox,
		folder == models.LabelDraft,
		folder == models.LabelSent)

	if err != nil {
		return fmt.Errorf("failed to update thread rollup: %w", err)
	}

	return nil
}

// GetThreadByID returns a thread by id, scoped to the given account.
func GetThreadByID(ctx context.Context, pool *pgxpool.Pool, accountID, threadID string) (*models.Thread, error) {
	var thread models.Thread

	err := pool.QueryRow(ctx, `
		SELECT id, account_id, subject, last_message_date, done, inbox_status, draft_status, sent_status, participant_ids
		FROM threads
		WHERE id = $1 AND account_id = $2
	`, threadID, accountID).Scan(
		&thread.ID,
		&thread.AccountID,
		&thread.Subject,
		&thread.LastMessageDate,
		&thread.Done,
		&thread.InboxStatus,
		&thread.DraftStatus,
		&thread.SentStatus,
		&thread.ParticipantIDs,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrThreadNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get thread: %w", err)
	}

	return &thread, nil
}

// tabFilter maps a folder tab name to its status column.
func tabFilter(tab string) (string, error) {
	switch tab {
	case "inbox":
		return "inbox_status", nil
	case "drafts":
		return "draft_status", nil
	case "sent":
		return "sent_status", nil
	default:
		return "", fmt.Errorf("%w %q", ErrUnknownTab, tab)
	}
}

// GetThreadsForTab returns the newest threads for one folder tab, filtered by
// done state, with their emails attached oldest first.
func GetThreadsForTab(ctx context.Context, pool *pgxpool.Pool, accountID, tab string, done bool, limit int) ([]*models.Thread, error) {
	column, err := tabFilter(tab)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 15
	}

	rows, err := pool.Query(ctx, `
		SELECT id, account_id, subject, last_message_date, done, inbox_status, draft_status, sent_status, participant_ids
		FROM threads
		WHERE account_id = $1 AND `+column+` = true AND done = $2
		ORDER BY last_message_date DESC
		LIMIT $3
	`, accountID, done, limit)

	if err != nil {
		return nil, fmt.Errorf("failed to get threads: %w", err)
	}
	defer rows.Close()

	var threads []*models.Thread
	for rows.Next() {
		var thread models.Thread
		if err := rows.Scan(
			&thread.ID,
			&thread.AccountID,
			&thread.Subject,
			&thread.LastMessageDate,
			&thread.Done,
			&thread.InboxStatus,
			&thread.DraftStatus,
			&thread.SentStatus,
			&thread.ParticipantIDs,
		); err != nil {
			return nil, fmt.Errorf("failed to scan thread: %w", err)
		}
		threads = append(threads, &thread)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating threads: %w", err)
	}

	if err := attachEmails(ctx, pool, threads); err != nil {
		return nil, err
	}

	return threads, nil
}

// CountThreadsForTab returns the number of not-done threads in one folder tab.
func CountThreadsForTab(ctx context.Context, pool *pgxpool.Pool, accountID, tab string) (int, error) {
	column, err := tabFilter(tab)
	if err != nil {
		return 0, err
	}

	var count int
	err = pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM threads
		WHERE account_id = $1 AND `+column+` = true AND done = false
	`, accountID).Scan(&count)

	if err != nil {
		return 0, fmt.Errorf("failed to count threads: %w", err)
	}

	return count, nil
}

// SetThreadDone marks a thread done or not done, scoped to the given account.
func SetThreadDone(ctx context.Context, pool *pgxpool.Pool, accountID, threadID string, done bool) error {
	tag, err := pool.Exec(ctx, `
		UPDATE threads
		SET done = $3
		WHERE id = $1 AND account_id = $2
	`, threadID, accountID, done)

	if err != nil {
		return fmt.Errorf("failed to set thread done: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrThreadNotFound
	}

	return nil
}

// attachEmails loads the member emails for a batch of threads in one query.
func attachEmails(ctx context.Context, pool *pgxpool.Pool, threads []*models.Thread) error {
	if len(threads) == 0 {
		return nil
	}

	threadIDMap := make(map[string]*models.Thread, len(threads))
	threadIDs := make([]string, 0, len(threads))
	for _, thread := range threads {
		threadIDMap[thread.ID] = thread
		threadIDs = append(threadIDs, thread.ID)
	}

	emails, err := getEmailsForThreads(ctx, pool, threadIDs)
	if err != nil {
		return err
	}

	for _, email := range emails {
		if thread, exists := threadIDMap[email.ThreadID]; exists {
			thread.Emails = append(thread.Emails, email)
		}
	}

	return nil
}
