package models

import (
	"encoding/json"
	"time"
)

// User represents a Mailpilot user. A user can link multiple provider accounts.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EmailLabel is the folder classification derived from a message's system labels.
type EmailLabel string

const (
	LabelInbox EmailLabel = "inbox"
	LabelSent  EmailLabel = "sent"
	LabelDraft EmailLabel = "draft"
)

// Account is a linked provider mailbox. NextDeltaToken is nil until the first
// successful sync; it is the cursor for the next incremental sync.
type Account struct {
	ID                   string    `json:"id"`
	UserID               string    `json:"user_id"`
	Name                 string    `json:"name"`
	EmailAddress         string    `json:"email_address"`
	EncryptedAccessToken []byte    `json:"-"`
	NextDeltaToken       *string   `json:"-"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// EmailAddress is a participant, deduplicated per account by address.
type EmailAddress struct {
	ID        string `json:"id"`
	AccountID string `json:"account_id"`
	Address   string `json:"address"`
	Name      string `json:"name"`
	Raw       string `json:"raw"`
}

// Thread is a conversation. The three folder status flags are recomputed from
// the current set of member emails on every reconciled message (rollup), with
// inbox taking precedence over draft and draft over sent.
type Thread struct {
	ID              string    `json:"id"`
	AccountID       string    `json:"account_id"`
	Subject         string    `json:"subject"`
	LastMessageDate time.Time `json:"last_message_date"`
	Done            bool      `json:"done"`
	InboxStatus     bool      `json:"inbox_status"`
	DraftStatus     bool      `json:"draft_status"`
	SentStatus      bool      `json:"sent_status"`
	ParticipantIDs  []string  `json:"participant_ids"`
	Emails          []*Email  `json:"emails,omitempty"`
}

// Email is a single message belonging to a thread. Re-reconciling the same
// provider message id overwrites the row rather than duplicating it.
type Email struct {
	ID                   string             `json:"id"`
	ThreadID             string             `json:"thread_id"`
	CreatedTime          time.Time          `json:"created_time"`
	LastModifiedTime     time.Time          `json:"last_modified_time"`
	SentAt               time.Time          `json:"sent_at"`
	ReceivedAt           time.Time          `json:"received_at"`
	InternetMessageID    string             `json:"internet_message_id"`
	Subject              string             `json:"subject"`
	SysLabels            []string           `json:"sys_labels"`
	Keywords             []string           `json:"keywords"`
	SysClassifications   []string           `json:"sys_classifications"`
	Sensitivity          string             `json:"sensitivity"`
	MeetingMessageMethod *string            `json:"meeting_message_method,omitempty"`
	FromID               string             `json:"from_id"`
	From                 *EmailAddress      `json:"from,omitempty"`
	ToIDs                []string           `json:"to_ids"`
	CcIDs                []string           `json:"cc_ids"`
	BccIDs               []string           `json:"bcc_ids"`
	ReplyToIDs           []string           `json:"reply_to_ids"`
	HasAttachments       bool               `json:"has_attachments"`
	Body                 *string            `json:"body,omitempty"`
	BodySnippet          *string            `json:"body_snippet,omitempty"`
	InReplyTo            *string            `json:"in_reply_to,omitempty"`
	References           *string            `json:"references,omitempty"`
	ThreadIndex          *string            `json:"thread_index,omitempty"`
	InternetHeaders      json.RawMessage    `json:"internet_headers,omitempty"`
	NativeProperties     json.RawMessage    `json:"native_properties,omitempty"`
	FolderID             *string            `json:"folder_id,omitempty"`
	Omitted              []string           `json:"omitted"`
	EmailLabel           EmailLabel         `json:"email_label"`
	Attachments          []*EmailAttachment `json:"attachments,omitempty"`
}

// EmailAttachment belongs to exactly one email, keyed by the provider's
// attachment id.
type EmailAttachment struct {
	ID              string  `json:"id"`
	EmailID         string  `json:"email_id"`
	Name            string  `json:"name"`
	MimeType        string  `json:"mime_type"`
	Size            int64   `json:"size"`
	Inline          bool    `json:"inline"`
	ContentID       *string `json:"content_id,omitempty"`
	Content         *string `json:"content,omitempty"`
	ContentLocation *string `json:"content_location,omitempty"`
}
