package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/dvarga/mailpilot/internal/crypto"
	"github.com/dvarga/mailpilot/internal/db"
	"github.com/dvarga/mailpilot/internal/models"
	"github.com/dvarga/mailpilot/internal/provider"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ComposeHandler handles compose-related API requests: recipient suggestions,
// reply prefill details and sending.
type ComposeHandler struct {
	pool      *pgxpool.Pool
	encryptor *crypto.Encryptor
	client    *provider.Client
}

// NewComposeHandler creates a new ComposeHandler instance.
func NewComposeHandler(pool *pgxpool.Pool, encryptor *crypto.Encryptor, client *provider.Client) *ComposeHandler {
	return &ComposeHandler{pool: pool, encryptor: encryptor, client: client}
}

// GetSuggestions returns every address seen on the account, for autocomplete.
func (h *ComposeHandler) GetSuggestions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserIDFromContext(ctx, w, h.pool)
	if !ok {
		return
	}
	account, ok := RequireAccount(ctx, w, r, h.pool, userID)
	if !ok {
		return
	}

	addrs, err := db.GetEmailAddressesForAccount(ctx, h.pool, account.ID)
	if err != nil {
		log.Printf("ComposeHandler: Failed to get suggestions: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	suggestions := make([]provider.EmailAddress, 0, len(addrs))
	for _, a := range addrs {
		suggestions = append(suggestions, provider.EmailAddress{Name: a.Name, Address: a.Address})
	}

	WriteJSONResponse(w, map[string]any{"suggestions": suggestions})
}

// replyDetails is the prefill payload for a reply composer.
type replyDetails struct {
	Subject string                  `json:"subject"`
	To      []provider.EmailAddress `json:"to"`
	Cc      []provider.EmailAddress `json:"cc"`
	From    provider.EmailAddress   `json:"from"`
	ID      string                  `json:"id"`
}

// GetReplyDetails returns recipients and subject for replying to a thread,
// derived from the latest message not sent by the account owner.
func (h *ComposeHandler) GetReplyDetails(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserIDFromContext(ctx, w, h.pool)
	if !ok {
		return
	}
	account, ok := RequireAccount(ctx, w, r, h.pool, userID)
	if !ok {
		return
	}

	threadID := r.URL.Query().Get("thread_id")
	if threadID == "" {
		http.Error(w, "thread_id query parameter is required", http.StatusBadRequest)
		return
	}

	if _, err := db.GetThreadByID(ctx, h.pool, account.ID, threadID); err != nil {
		if errors.Is(err, db.ErrThreadNotFound) {
			http.Error(w, "Thread not found", http.StatusNotFound)
			return
		}
		log.Printf("ComposeHandler: Failed to load thread: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	emails, err := db.GetEmailsForThread(ctx, h.pool, threadID)
	if err != nil {
		log.Printf("ComposeHandler: Failed to load thread emails: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	// The latest message from someone else is what a reply answers.
	var last *models.Email
	for i := len(emails) - 1; i >= 0; i-- {
		if emails[i].From != nil && !strings.EqualFold(emails[i].From.Address, account.EmailAddress) {
			last = emails[i]
			break
		}
	}
	if last == nil {
		http.Error(w, "No external email found in thread", http.StatusNotFound)
		return
	}

	toAddrs, err := db.GetEmailAddressesByIDs(ctx, h.pool, last.ToIDs)
	if err != nil {
		log.Printf("ComposeHandler: Failed to load to addresses: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	ccAddrs, err := db.GetEmailAddressesByIDs(ctx, h.pool, last.CcIDs)
	if err != nil {
		log.Printf("ComposeHandler: Failed to load cc addresses: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	details := replyDetails{
		Subject: last.Subject,
		To:      []provider.EmailAddress{{Name: last.From.Name, Address: last.From.Address}},
		Cc:      []provider.EmailAddress{},
		From:    provider.EmailAddress{Name: account.Name, Address: account.EmailAddress},
		ID:      last.InternetMessageID,
	}
	for _, a := range toAddrs {
		if strings.EqualFold(a.Address, account.EmailAddress) {
			continue
		}
		details.To = append(details.To, provider.EmailAddress{Name: a.Name, Address: a.Address})
	}
	for _, a := range ccAddrs {
		if strings.EqualFold(a.Address, account.EmailAddress) {
			continue
		}
		details.Cc = append(details.Cc, provider.EmailAddress{Name: a.Name, Address: a.Address})
	}

	WriteJSONResponse(w, details)
}

// sendRequest is the compose payload. ReplyTo is deliberately loose: clients
// send a bare string, a single address object, or an array of them.
type sendRequest struct {
	AccountID string                  `json:"accountId"`
	Subject   string                  `json:"subject"`
	Body      string                  `json:"body"`
	From      provider.EmailAddress   `json:"from"`
	To        []provider.EmailAddress `json:"to"`
	Cc        []provider.EmailAddress `json:"cc"`
	Bcc       []provider.EmailAddress `json:"bcc"`
	ReplyTo   json.RawMessage         `json:"replyTo"`
	InReplyTo string                  `json:"inReplyTo"`
	ThreadID  string                  `json:"threadId"`
}

// SendEmail sends a composed message through the provider.
func (h *ComposeHandler) SendEmail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserIDFromContext(ctx, w, h.pool)
	if !ok {
		return
	}

	var req sendRequest
	if !DecodeJSONBody(w, r, &req) {
		return
	}
	if req.AccountID == "" {
		http.Error(w, "accountId is required", http.StatusBadRequest)
		return
	}
	if len(req.To) == 0 {
		http.Error(w, "to is required", http.StatusBadRequest)
		return
	}

	account, err := db.GetAccountForUser(ctx, h.pool, req.AccountID, userID)
	if err != nil {
		if errors.Is(err, db.ErrAccountNotFound) {
			http.Error(w, "Account not found", http.StatusNotFound)
			return
		}
		log.Printf("ComposeHandler: Failed to load account: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	replyTo, err := normalizeReplyTo(req.ReplyTo)
	if err != nil {
		http.Error(w, "Invalid replyTo value", http.StatusBadRequest)
		return
	}
	if len(replyTo) == 0 {
		replyTo = []provider.EmailAddress{req.From}
	}

	accessToken, err := h.encryptor.Decrypt(account.EncryptedAccessToken)
	if err != nil {
		log.Printf("ComposeHandler: Failed to decrypt access token: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	result, err := h.client.SendMessage(ctx, accessToken, &provider.OutgoingMessage{
		From:       req.From,
		Subject:    req.Subject,
		Body:       req.Body,
		InReplyTo:  req.InReplyTo,
		References: req.InReplyTo,
		ThreadID:   req.ThreadID,
		To:         req.To,
		Cc:         req.Cc,
		Bcc:        req.Bcc,
		ReplyTo:    replyTo,
	})
	if err != nil {
		log.Printf("ComposeHandler: Failed to send message: %v", err)
		http.Error(w, "Failed to send message", http.StatusBadGateway)
		return
	}

	WriteJSONResponse(w, result)
}

// normalizeReplyTo accepts the three reply-to shapes clients produce and
// returns a flat address list.
func normalizeReplyTo(raw json.RawMessage) ([]provider.EmailAddress, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return nil, nil
		}
		return []provider.EmailAddress{{Address: s}}, nil
	}

	var one provider.EmailAddress
	if err := json.Unmarshal(raw, &one); err == nil && one.Address != "" {
		return []provider.EmailAddress{one}, nil
	}

	var many []provider.EmailAddress
	if err := json.Unmarshal(raw, &many); err == nil {
		return many, nil
	}

	return nil, errors.New("unrecognized replyTo shape")
}
