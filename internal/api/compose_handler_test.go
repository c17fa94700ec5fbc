package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dvarga/mailpilot/internal/db"
	"github.com/dvarga/mailpilot/internal/models"
	"github.com/dvarga/mailpilot/internal/provider"
	"github.com/dvarga/mailpilot/internal/testutil"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newComposeHandler(t *testing.T) (*ComposeHandler, *pgxpool.Pool, *testutil.FakeProvider) {
	t.Helper()

	pool := testutil.NewTestDB(t)
	t.Cleanup(pool.Close)

	fake := testutil.NewFakeProvider(t)
	client := provider.NewClient(provider.Config{
		BaseURL:      fake.URL(),
		ClientID:     "client-id",
		ClientSecret: "client-secret",
	})
	h := NewComposeHandler(pool, testutil.GetTestEncryptor(t), client)
	return h, pool, fake
}

func upsertAddr(t *testing.T, pool *pgxpool.Pool, accountID, address, name string) *models.EmailAddress {
	t.Helper()
	addr, err := db.UpsertEmailAddress(context.Background(), pool, &models.EmailAddress{
		AccountID: accountID,
		Address:   address,
		Name:      name,
	})
	require.NoError(t, err)
	return addr
}

func TestComposeHandler_GetSuggestions(t *testing.T) {
	h, pool, _ := newComposeHandler(t)

	VerifyAuthCheck(t, h.GetSuggestions, "GET", "/api/v1/suggestions?account_id=acct-sugg")

	setupLinkedAccount(t, pool, "owner@example.com", "acct-sugg")
	upsertAddr(t, pool, "acct-sugg", "alice@example.com", "Alice")
	upsertAddr(t, pool, "acct-sugg", "bob@example.com", "Bob")

	req := createRequestWithUser("GET", "/api/v1/suggestions?account_id=acct-sugg", "owner@example.com", nil)
	rr := httptest.NewRecorder()
	h.GetSuggestions(rr, req)

	require.Equal(t, 200, rr.Code)

	var resp struct {
		Suggestions []provider.EmailAddress `json:"suggestions"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	require.Len(t, resp.Suggestions, 2)

	seen := map[string]string{}
	for _, s := range resp.Suggestions {
		seen[s.Address] = s.Name
	}
	assert.Equal(t, "Alice", seen["alice@example.com"])
	assert.Equal(t, "Bob", seen["bob@example.com"])
}

func TestComposeHandler_GetReplyDetails(t *testing.T) {
	h, pool, _ := newComposeHandler(t)

	VerifyAuthCheck(t, h.GetReplyDetails, "GET", "/api/v1/reply-details?account_id=acct-reply&thread_id=thread-r")

	setupLinkedAccount(t, pool, "me@example.com", "acct-reply")
	me := upsertAddr(t, pool, "acct-reply", "me@example.com", "Me")
	alice := upsertAddr(t, pool, "acct-reply", "alice@example.com", "Alice")
	carol := upsertAddr(t, pool, "acct-reply", "carol@example.com", "Carol")

	ctx := context.Background()
	base := time.Date(2026, 5, 2, 8, 0, 0, 0, time.UTC)
	require.NoError(t, db.UpsertThread(ctx, pool, &models.Thread{
		ID:              "thread-r",
		AccountID:       "acct-reply",
		Subject:         "Quarterly numbers",
		LastMessageDate: base.Add(2 * time.Hour),
		InboxStatus:     true,
		ParticipantIDs:  []string{me.ID, alice.ID, carol.ID},
	}))

	newMsg := func(id, fromID string, sentAt time.Time, toIDs, ccIDs []string) *models.Email {
		return &models.Email{
			ID:                 id,
			ThreadID:           "thread-r",
			CreatedTime:        sentAt,
			LastModifiedTime:   sentAt,
			SentAt:             sentAt,
			ReceivedAt:         sentAt,
			InternetMessageID:  "<" + id + "@example.com>",
			Subject:            "Quarterly numbers",
			SysLabels:          []string{"inbox"},
			Keywords:           []string{},
			SysClassifications: []string{},
			Sensitivity:        "normal",
			FromID:             fromID,
			ToIDs:              toIDs,
			CcIDs:              ccIDs,
			Omitted:            []string{},
			EmailLabel:         models.LabelInbox,
		}
	}

	// Alice wrote first, the owner replied, Alice answered again. The reply
	// prefill must target Alice's latest message, not the owner's.
	require.NoError(t, db.UpsertEmail(ctx, pool, newMsg("msg-1", alice.ID, base, []string{me.ID}, nil)))
	require.NoError(t, db.UpsertEmail(ctx, pool, newMsg("msg-2", me.ID, base.Add(time.Hour), []string{alice.ID}, nil)))
	require.NoError(t, db.UpsertEmail(ctx, pool, newMsg("msg-3", alice.ID, base.Add(2*time.Hour), []string{me.ID}, []string{carol.ID})))

	t.Run("targets the latest external email", func(t *testing.T) {
		req := createRequestWithUser("GET", "/api/v1/reply-details?account_id=acct-reply&thread_id=thread-r", "me@example.com", nil)
		rr := httptest.NewRecorder()
		h.GetReplyDetails(rr, req)

		require.Equal(t, 200, rr.Code)

		var details replyDetails
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&details))
		assert.Equal(t, "Quarterly numbers", details.Subject)
		assert.Equal(t, "<msg-3@example.com>", details.ID)
		assert.Equal(t, "me@example.com", details.From.Address)

		// Alice is the sender being replied to; the owner's own address
		// must not appear among the recipients.
		require.Len(t, details.To, 1)
		assert.Equal(t, "alice@example.com", details.To[0].Address)
		require.Len(t, details.Cc, 1)
		assert.Equal(t, "carol@example.com", details.Cc[0].Address)
	})

	t.Run("requires thread_id", func(t *testing.T) {
		req := createRequestWithUser("GET", "/api/v1/reply-details?account_id=acct-reply", "me@example.com", nil)
		rr := httptest.NewRecorder()
		h.GetReplyDetails(rr, req)

		assert.Equal(t, 400, rr.Code)
	})

	t.Run("returns 404 for unknown thread", func(t *testing.T) {
		req := createRequestWithUser("GET", "/api/v1/reply-details?account_id=acct-reply&thread_id=nope", "me@example.com", nil)
		rr := httptest.NewRecorder()
		h.GetReplyDetails(rr, req)

		assert.Equal(t, 404, rr.Code)
	})
}

func TestComposeHandler_SendEmail(t *testing.T) {
	h, pool, fake := newComposeHandler(t)

	VerifyAuthCheck(t, h.SendEmail, "POST", "/api/v1/send")

	setupLinkedAccount(t, pool, "sender@example.com", "acct-send")

	send := func(t *testing.T, payload string) *httptest.ResponseRecorder {
		t.Helper()
		req := createRequestWithUser("POST", "/api/v1/send", "sender@example.com", bytes.NewBufferString(payload))
		rr := httptest.NewRecorder()
		h.SendEmail(rr, req)
		return rr
	}

	t.Run("sends through the provider", func(t *testing.T) {
		rr := send(t, `{
			"accountId": "acct-send",
			"subject": "Hi there",
			"body": "<p>Hello</p>",
			"from": {"name": "Sender", "address": "sender@example.com"},
			"to": [{"address": "alice@example.com"}],
			"inReplyTo": "<orig@example.com>",
			"threadId": "thread-s"
		}`)
		require.Equal(t, 200, rr.Code)

		var result provider.SendResult
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&result))
		assert.Equal(t, "sent-1", result.ID)
		assert.Equal(t, "thread-s", result.ThreadID)

		require.Len(t, fake.Sent, 1)
		sent := fake.Sent[0]
		assert.Equal(t, "Hi there", sent.Subject)
		assert.Equal(t, "sender@example.com", sent.From.Address)
		assert.Equal(t, "<orig@example.com>", sent.InReplyTo)
		assert.Equal(t, "<orig@example.com>", sent.References)
		require.Len(t, sent.To, 1)
		assert.Equal(t, "alice@example.com", sent.To[0].Address)

		// Absent replyTo defaults to the from address.
		require.Len(t, sent.ReplyTo, 1)
		assert.Equal(t, "sender@example.com", sent.ReplyTo[0].Address)
	})

	t.Run("accepts replyTo as a bare string", func(t *testing.T) {
		fake.Sent = nil
		rr := send(t, `{
			"accountId": "acct-send",
			"subject": "Hi",
			"body": "b",
			"from": {"address": "sender@example.com"},
			"to": [{"address": "alice@example.com"}],
			"replyTo": "noreply@example.com"
		}`)
		require.Equal(t, 200, rr.Code)
		require.Len(t, fake.Sent, 1)
		require.Len(t, fake.Sent[0].ReplyTo, 1)
		assert.Equal(t, "noreply@example.com", fake.Sent[0].ReplyTo[0].Address)
	})

	t.Run("requires recipients", func(t *testing.T) {
		rr := send(t, `{
			"accountId": "acct-send",
			"subject": "Hi",
			"body": "b",
			"from": {"address": "sender@example.com"},
			"to": []
		}`)
		assert.Equal(t, 400, rr.Code)
	})

	t.Run("rejects accounts owned by someone else", func(t *testing.T) {
		req := createRequestWithUser("POST", "/api/v1/send", "intruder@example.com", bytes.NewBufferString(`{
			"accountId": "acct-send",
			"from": {"address": "intruder@example.com"},
			"to": [{"address": "alice@example.com"}]
		}`))
		rr := httptest.NewRecorder()
		h.SendEmail(rr, req)

		assert.Equal(t, 404, rr.Code)
	})
}

func TestNormalizeReplyTo(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    []provider.EmailAddress
		wantErr bool
	}{
		{name: "absent", raw: "", want: nil},
		{name: "null", raw: "null", want: nil},
		{name: "empty string", raw: `""`, want: nil},
		{name: "bare string", raw: `"a@b.com"`, want: []provider.EmailAddress{{Address: "a@b.com"}}},
		{name: "single object", raw: `{"name":"A","address":"a@b.com"}`, want: []provider.EmailAddress{{Name: "A", Address: "a@b.com"}}},
		{name: "array", raw: `[{"address":"a@b.com"},{"address":"c@d.com"}]`, want: []provider.EmailAddress{{Address: "a@b.com"}, {Address: "c@d.com"}}},
		{name: "number", raw: `42`, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := normalizeReplyTo(json.RawMessage(tc.raw))
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
