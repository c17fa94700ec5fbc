package provider

import (
	"encoding/json"
	"fmt"
	"time"
)

// EmailAddress is a participant as it appears on the wire.
type EmailAddress struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Raw     string `json:"raw,omitempty"`
}

// Attachment is a message attachment as returned by the provider.
type Attachment struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	MimeType        string  `json:"mimeType"`
	Size            int64   `json:"size"`
	Inline          bool    `json:"inline"`
	ContentID       *string `json:"contentId,omitempty"`
	Content         *string `json:"content,omitempty"`
	ContentLocation *string `json:"contentLocation,omitempty"`
}

// Message is a changed message delivered by the provider's delta stream.
type Message struct {
	ID                   string          `json:"id"`
	ThreadID             string          `json:"threadId"`
	CreatedTime          time.Time       `json:"createdTime"`
	LastModifiedTime     time.Time       `json:"lastModifiedTime"`
	SentAt               time.Time       `json:"sentAt"`
	ReceivedAt           time.Time       `json:"receivedAt"`
	InternetMessageID    string          `json:"internetMessageId"`
	Subject              string          `json:"subject"`
	SysLabels            []string        `json:"sysLabels"`
	Keywords             []string        `json:"keywords"`
	SysClassifications   []string        `json:"sysClassifications"`
	Sensitivity          string          `json:"sensitivity"`
	MeetingMessageMethod *string         `json:"meetingMessageMethod,omitempty"`
	From                 EmailAddress    `json:"from"`
	To                   []EmailAddress  `json:"to"`
	Cc                   []EmailAddress  `json:"cc"`
	Bcc                  []EmailAddress  `json:"bcc"`
	ReplyTo              []EmailAddress  `json:"replyTo"`
	HasAttachments       bool            `json:"hasAttachments"`
	Body                 *string         `json:"body,omitempty"`
	BodySnippet          *string         `json:"bodySnippet,omitempty"`
	Attachments          []Attachment    `json:"attachments"`
	InReplyTo            *string         `json:"inReplyTo,omitempty"`
	References           *string         `json:"references,omitempty"`
	ThreadIndex          *string         `json:"threadIndex,omitempty"`
	InternetHeaders      json.RawMessage `json:"internetHeaders,omitempty"`
	NativeProperties     json.RawMessage `json:"nativeProperties,omitempty"`
	FolderID             *string         `json:"folderId,omitempty"`
	Omitted              []string        `json:"omitted"`
}

// SyncResponse is the result of starting (or polling) a server-side sync job.
// Ready=false means the job is still being prepared.
type SyncResponse struct {
	Ready            bool   `json:"ready"`
	SyncUpdatedToken string `json:"syncUpdatedToken"`
}

// SyncUpdatedResponse is one page of changed messages. A present NextPageToken
// means more pages follow for the current query; a present NextDeltaToken is
// the cursor for the next sync epoch.
type SyncUpdatedResponse struct {
	NextPageToken  string    `json:"nextPageToken,omitempty"`
	NextDeltaToken string    `json:"nextDeltaToken,omitempty"`
	Records        []Message `json:"records"`
}

// UpdatedQuery selects the cursor for a GetUpdated call. Exactly one of the
// two tokens drives continuation; PageToken wins when both are set.
type UpdatedQuery struct {
	DeltaToken string
	PageToken  string
}

// OutgoingMessage is the payload for sending mail through the provider.
type OutgoingMessage struct {
	From       EmailAddress   `json:"from"`
	Subject    string         `json:"subject"`
	Body       string         `json:"body"`
	InReplyTo  string         `json:"inReplyTo,omitempty"`
	References string         `json:"references,omitempty"`
	ThreadID   string         `json:"threadId,omitempty"`
	To         []EmailAddress `json:"to"`
	Cc         []EmailAddress `json:"cc,omitempty"`
	Bcc        []EmailAddress `json:"bcc,omitempty"`
	ReplyTo    []EmailAddress `json:"replyTo,omitempty"`
}

// SendResult carries the provider-assigned ids of a sent message.
type SendResult struct {
	ID       string `json:"id"`
	ThreadID string `json:"threadId"`
}

// TokenResponse is the result of exchanging an authorization code.
type TokenResponse struct {
	AccountID   string `json:"accountId"`
	AccessToken string `json:"accessToken"`
	UserID      string `json:"userId"`
	UserSession string `json:"userSession"`
}

// AccountDetails describes the mailbox behind an access token.
type AccountDetails struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Error is a non-2xx response from the provider. The client never retries;
// retry decisions belong to the sync engine.
type Error struct {
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider returned status %d: %s", e.StatusCode, e.Body)
}
