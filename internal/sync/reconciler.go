package sync

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/dvarga/mailpilot/internal/db"
	"github.com/dvarga/mailpilot/internal/models"
	"github.com/dvarga/mailpilot/internal/provider"
	"github.com/dvarga/mailpilot/internal/search"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Feeder pushes reconciled emails into the search index. A failing feeder
// degrades search, not sync, so its errors are logged and swallowed.
type Feeder interface {
	Feed(ctx context.Context, accountID string, doc search.Document) error
}

// BatchStats summarizes one reconciled page of messages.
type BatchStats struct {
	Reconciled int
	Skipped    int
	SkippedIDs []string
}

// Reconciler writes provider messages into the store. Messages are processed
// sequentially; every write is an idempotent upsert, so reconciling the same
// message twice converges instead of duplicating.
type Reconciler struct {
	pool   *pgxpool.Pool
	feeder Feeder
}

// NewReconciler creates a Reconciler. feeder may be nil, which disables index
// feeding entirely.
func NewReconciler(pool *pgxpool.Pool, feeder Feeder) *Reconciler {
	return &Reconciler{pool: pool, feeder: feeder}
}

// ReconcileBatch reconciles one page of changed messages for an account.
// A message that cannot be reconciled is logged and skipped; the batch
// continues. Only a canceled context aborts the whole batch.
func (r *Reconciler) ReconcileBatch(ctx context.Context, accountID string, messages []provider.Message) (*BatchStats, error) {
	stats := &BatchStats{}

	for i := range messages {
		msg := &messages[i]

		if err := ctx.Err(); err != nil {
			return stats, err
		}

		if err := r.reconcileMessage(ctx, accountID, msg); err != nil {
			log.Printf("Warning: Skipping message %s: %v", msg.ID, err)
			stats.Skipped++
			stats.SkippedIDs = append(stats.SkippedIDs, msg.ID)
			continue
		}
		stats.Reconciled++
	}

	return stats, nil
}

// classifyLabel derives the folder label from a message's system labels.
// Inbox (or important) wins over draft, draft over sent, defaulting to inbox.
func classifyLabel(sysLabels []string) models.EmailLabel {
	has := func(want string) bool {
		for _, l := range sysLabels {
			if l == want {
				return true
			}
		}
		return false
	}

	switch {
	case has("inbox") || has("important"):
		return models.LabelInbox
	case has("draft"):
		return models.LabelDraft
	case has("sent"):
		return models.LabelSent
	default:
		return models.LabelInbox
	}
}

func (r *Reconciler) reconcileMessage(ctx context.Context, accountID string, msg *provider.Message) error {
	if msg.From.Address == "" {
		return fmt.Errorf("message has no from address")
	}

	label := classifyLabel(msg.SysLabels)

	// Index feeding happens before the store writes; a degraded index never
	// blocks reconciliation.
	r.feedIndex(ctx, accountID, msg)

	addressByAddr, err := r.upsertParticipants(ctx, accountID, msg)
	if err != nil {
		return err
	}

	from, ok := addressByAddr[msg.From.Address]
	if !ok {
		return fmt.Errorf("from address %s was not upserted", msg.From.Address)
	}

	toIDs := resolveIDs(addressByAddr, msg.To)
	ccIDs := resolveIDs(addressByAddr, msg.Cc)
	bccIDs := resolveIDs(addressByAddr, msg.Bcc)
	replyToIDs := resolveIDs(addressByAddr, msg.ReplyTo)

	// Participants are everyone on the envelope except the replyTo set.
	participantIDs := dedupIDs(append(append(append([]string{from.ID}, toIDs...), ccIDs...), bccIDs...))

	thread := &models.Thread{
		ID:              msg.ThreadID,
		AccountID:       accountID,
		Subject:         msg.Subject,
		LastMessageDate: msg.SentAt,
		InboxStatus:     label == models.LabelInbox,
		DraftStatus:     label == models.LabelDraft,
		SentStatus:      label == models.LabelSent,
		ParticipantIDs:  participantIDs,
	}
	if err := db.UpsertThread(ctx, r.pool, thread); err != nil {
		return err
	}

	email := &models.Email{
		ID:                   msg.ID,
		ThreadID:             msg.ThreadID,
		CreatedTime:          msg.CreatedTime,
		LastModifiedTime:     time.Now(),
		SentAt:               msg.SentAt,
		ReceivedAt:           msg.ReceivedAt,
		InternetMessageID:    msg.InternetMessageID,
		Subject:              msg.Subject,
		SysLabels:            orEmpty(msg.SysLabels),
		Keywords:             orEmpty(msg.Keywords),
		SysClassifications:   orEmpty(msg.SysClassifications),
		Sensitivity:          msg.Sensitivity,
		MeetingMessageMethod: msg.MeetingMessageMethod,
		FromID:               from.ID,
		ToIDs:                toIDs,
		CcIDs:                ccIDs,
		BccIDs:               bccIDs,
		ReplyToIDs:           replyToIDs,
		HasAttachments:       msg.HasAttachments,
		Body:                 msg.Body,
		BodySnippet:          msg.BodySnippet,
		InReplyTo:            msg.InReplyTo,
		References:           msg.References,
		ThreadIndex:          msg.ThreadIndex,
		InternetHeaders:      msg.InternetHeaders,
		NativeProperties:     msg.NativeProperties,
		FolderID:             msg.FolderID,
		Omitted:              orEmpty(msg.Omitted),
		EmailLabel:           label,
	}
	if email.Sensitivity == "" {
		email.Sensitivity = "normal"
	}
	if err := db.UpsertEmail(ctx, r.pool, email); err != nil {
		return err
	}

	if err := db.UpdateThreadRollup(ctx, r.pool, msg.ThreadID); err != nil {
		return err
	}

	for i := range msg.Attachments {
		att := &msg.Attachments[i]
		if err := db.UpsertAttachment(ctx, r.pool, &models.EmailAttachment{
			ID:              att.ID,
			EmailID:         msg.ID,
			Name:            att.Name,
			MimeType:        att.MimeType,
			Size:            att.Size,
			Inline:          att.Inline,
			ContentID:       att.ContentID,
			Content:         att.Content,
			ContentLocation: att.ContentLocation,
		}); err != nil {
			return err
		}
	}

	return nil
}

// upsertParticipants upserts every address on the message exactly once, even
// when the same address appears in several recipient sets.
func (r *Reconciler) upsertParticipants(ctx context.Context, accountID string, msg *provider.Message) (map[string]*models.EmailAddress, error) {
	seen := make(map[string]provider.EmailAddress)
	all := make([]provider.EmailAddress, 0, 1+len(msg.To)+len(msg.Cc)+len(msg.Bcc)+len(msg.ReplyTo))
	all = append(all, msg.From)
	all = append(all, msg.To...)
	all = append(all, msg.Cc...)
	all = append(all, msg.Bcc...)
	all = append(all, msg.ReplyTo...)
	for _, addr := range all {
		if addr.Address == "" {
			continue
		}
		seen[addr.Address] = addr
	}

	saved := make(map[string]*models.EmailAddress, len(seen))
	for _, addr := range seen {
		row, err := db.UpsertEmailAddress(ctx, r.pool, &models.EmailAddress{
			AccountID: accountID,
			Address:   addr.Address,
			Name:      addr.Name,
			Raw:       addr.Raw,
		})
		if err != nil {
			return nil, err
		}
		saved[row.Address] = row
	}

	return saved, nil
}

func (r *Reconciler) feedIndex(ctx context.Context, accountID string, msg *provider.Message) {
	if r.feeder == nil {
		return
	}

	body := ""
	if msg.Body != nil {
		body = *msg.Body
	} else if msg.BodySnippet != nil {
		body = *msg.BodySnippet
	}
	snippet := ""
	if msg.BodySnippet != nil {
		snippet = *msg.BodySnippet
	}
	toAddresses := make([]string, 0, len(msg.To))
	for _, addr := range msg.To {
		toAddresses = append(toAddresses, addr.Address)
	}

	doc := search.Document{
		EmailID:     msg.ID,
		ThreadID:    msg.ThreadID,
		Subject:     msg.Subject,
		RawBody:     body,
		Body:        snippet,
		FromAddress: msg.From.Address,
		ToAddresses: toAddresses,
		SentAt:      msg.SentAt,
	}
	if err := r.feeder.Feed(ctx, accountID, doc); err != nil {
		log.Printf("Warning: Search index degraded for email %s: %v", msg.ID, err)
	}
}

func resolveIDs(addressByAddr map[string]*models.EmailAddress, addrs []provider.EmailAddress) []string {
	var ids []string
	for _, addr := range addrs {
		if saved, ok := addressByAddr[addr.Address]; ok {
			ids = append(ids, saved.ID)
		}
	}
	return ids
}

func dedupIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
