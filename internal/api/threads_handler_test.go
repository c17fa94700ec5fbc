package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dvarga/mailpilot/internal/db"
	"github.com/dvarga/mailpilot/internal/models"
	"github.com/dvarga/mailpilot/internal/testutil"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedThread creates a thread with one email in the given folder.
func seedThread(t *testing.T, pool *pgxpool.Pool, accountID, threadID string, label models.EmailLabel, sentAt time.Time) {
	t.Helper()

	ctx := context.Background()
	addr, err := db.UpsertEmailAddress(ctx, pool, &models.EmailAddress{
		AccountID: accountID,
		Address:   "correspondent@example.com",
		Name:      "Correspondent",
	})
	if err != nil {
		t.Fatalf("Failed to upsert address: %v", err)
	}

	thread := &models.Thread{
		ID:              threadID,
		AccountID:       accountID,
		Subject:         "Subject of " + threadID,
		LastMessageDate: sentAt,
		InboxStatus:     label == models.LabelInbox,
		DraftStatus:     label == models.LabelDraft,
		SentStatus:      label == models.LabelSent,
		ParticipantIDs:  []string{addr.ID},
	}
	if err := db.UpsertThread(ctx, pool, thread); err != nil {
		t.Fatalf("Failed to upsert thread: %v", err)
	}

	email := &models.Email{
		ID:                 threadID + "-msg-1",
		ThreadID:           threadID,
		CreatedTime:        sentAt,
		LastModifiedTime:   sentAt,
		SentAt:             sentAt,
		ReceivedAt:         sentAt,
		Subject:            thread.Subject,
		SysLabels:          []string{string(label)},
		Keywords:           []string{},
		SysClassifications: []string{},
		Sensitivity:        "normal",
		FromID:             addr.ID,
		Omitted:            []string{},
		EmailLabel:         label,
	}
	if err := db.UpsertEmail(ctx, pool, email); err != nil {
		t.Fatalf("Failed to upsert email: %v", err)
	}
}

func TestThreadsHandler_GetThreads(t *testing.T) {
	pool := testutil.NewTestDB(t)
	t.Cleanup(pool.Close)

	h := NewThreadsHandler(pool, nil)

	VerifyAuthCheck(t, h.GetThreads, "GET", "/api/v1/threads?account_id=acct-list")

	setupLinkedAccount(t, pool, "lister@example.com", "acct-list")
	base := time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)
	seedThread(t, pool, "acct-list", "thread-old", models.LabelInbox, base)
	seedThread(t, pool, "acct-list", "thread-new", models.LabelInbox, base.Add(2*time.Hour))
	seedThread(t, pool, "acct-list", "thread-sent", models.LabelSent, base.Add(time.Hour))

	t.Run("returns inbox threads newest first", func(t *testing.T) {
		req := createRequestWithUser("GET", "/api/v1/threads?account_id=acct-list", "lister@example.com", nil)
		rr := httptest.NewRecorder()
		h.GetThreads(rr, req)

		require.Equal(t, 200, rr.Code)

		var resp struct {
			Threads []*models.Thread `json:"threads"`
		}
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		require.Len(t, resp.Threads, 2)
		assert.Equal(t, "thread-new", resp.Threads[0].ID)
		assert.Equal(t, "thread-old", resp.Threads[1].ID)
		require.Len(t, resp.Threads[0].Emails, 1)
		assert.Equal(t, "thread-new-msg-1", resp.Threads[0].Emails[0].ID)
	})

	t.Run("filters by tab", func(t *testing.T) {
		req := createRequestWithUser("GET", "/api/v1/threads?account_id=acct-list&tab=sent", "lister@example.com", nil)
		rr := httptest.NewRecorder()
		h.GetThreads(rr, req)

		require.Equal(t, 200, rr.Code)

		var resp struct {
			Threads []*models.Thread `json:"threads"`
		}
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		require.Len(t, resp.Threads, 1)
		assert.Equal(t, "thread-sent", resp.Threads[0].ID)
	})

	t.Run("rejects unknown tab", func(t *testing.T) {
		req := createRequestWithUser("GET", "/api/v1/threads?account_id=acct-list&tab=spam", "lister@example.com", nil)
		rr := httptest.NewRecorder()
		h.GetThreads(rr, req)

		assert.Equal(t, 400, rr.Code)
	})

	t.Run("rejects account not owned by user", func(t *testing.T) {
		req := createRequestWithUser("GET", "/api/v1/threads?account_id=acct-list", "stranger@example.com", nil)
		rr := httptest.NewRecorder()
		h.GetThreads(rr, req)

		assert.Equal(t, 404, rr.Code)
	})

	t.Run("returns empty list for account with no threads", func(t *testing.T) {
		setupLinkedAccount(t, pool, "empty@example.com", "acct-empty")

		req := createRequestWithUser("GET", "/api/v1/threads?account_id=acct-empty", "empty@example.com", nil)
		rr := httptest.NewRecorder()
		h.GetThreads(rr, req)

		require.Equal(t, 200, rr.Code)
		assert.JSONEq(t, `{"threads":[]}`, rr.Body.String())
	})
}

func TestThreadsHandler_GetThreadCount(t *testing.T) {
	pool := testutil.NewTestDB(t)
	t.Cleanup(pool.Close)

	h := NewThreadsHandler(pool, nil)

	VerifyAuthCheck(t, h.GetThreadCount, "GET", "/api/v1/threads/count?account_id=acct-count")

	setupLinkedAccount(t, pool, "counter@example.com", "acct-count")
	base := time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		seedThread(t, pool, "acct-count", fmt.Sprintf("thread-c%d", i), models.LabelInbox, base.Add(time.Duration(i)*time.Minute))
	}
	seedThread(t, pool, "acct-count", "thread-draft", models.LabelDraft, base)

	t.Run("counts open threads per tab", func(t *testing.T) {
		for tab, want := range map[string]int{"inbox": 3, "drafts": 1, "sent": 0} {
			req := createRequestWithUser("GET", "/api/v1/threads/count?account_id=acct-count&tab="+tab, "counter@example.com", nil)
			rr := httptest.NewRecorder()
			h.GetThreadCount(rr, req)

			require.Equal(t, 200, rr.Code)
			assert.JSONEq(t, fmt.Sprintf(`{"count":%d}`, want), rr.Body.String(), "tab %s", tab)
		}
	})

	t.Run("done threads drop out of the count", func(t *testing.T) {
		err := db.SetThreadDone(context.Background(), pool, "acct-count", "thread-c0", true)
		require.NoError(t, err)

		req := createRequestWithUser("GET", "/api/v1/threads/count?account_id=acct-count", "counter@example.com", nil)
		rr := httptest.NewRecorder()
		h.GetThreadCount(rr, req)

		require.Equal(t, 200, rr.Code)
		assert.JSONEq(t, `{"count":2}`, rr.Body.String())
	})

	t.Run("rejects unknown tab", func(t *testing.T) {
		req := createRequestWithUser("GET", "/api/v1/threads/count?account_id=acct-count&tab=archive", "counter@example.com", nil)
		rr := httptest.NewRecorder()
		h.GetThreadCount(rr, req)

		assert.Equal(t, 400, rr.Code)
	})
}

func TestThreadsHandler_SetThreadDone(t *testing.T) {
	pool := testutil.NewTestDB(t)
	t.Cleanup(pool.Close)

	h := NewThreadsHandler(pool, nil)

	VerifyAuthCheck(t, h.SetThreadDone, "POST", "/api/v1/thread/thread-d1/done?account_id=acct-done")

	setupLinkedAccount(t, pool, "doner@example.com", "acct-done")
	base := time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)
	seedThread(t, pool, "acct-done", "thread-d1", models.LabelInbox, base)

	t.Run("marks thread done and back", func(t *testing.T) {
		req := createRequestWithUser("POST", "/api/v1/thread/thread-d1/done?account_id=acct-done",
			"doner@example.com", bytes.NewBufferString(`{"done":true}`))
		rr := httptest.NewRecorder()
		h.SetThreadDone(rr, req)

		require.Equal(t, 200, rr.Code)
		assert.JSONEq(t, `{"threadId":"thread-d1","done":true}`, rr.Body.String())

		thread, err := db.GetThreadByID(context.Background(), pool, "acct-done", "thread-d1")
		require.NoError(t, err)
		assert.True(t, thread.Done)

		req = createRequestWithUser("POST", "/api/v1/thread/thread-d1/done?account_id=acct-done",
			"doner@example.com", bytes.NewBufferString(`{"done":false}`))
		rr = httptest.NewRecorder()
		h.SetThreadDone(rr, req)

		require.Equal(t, 200, rr.Code)

		thread, err = db.GetThreadByID(context.Background(), pool, "acct-done", "thread-d1")
		require.NoError(t, err)
		assert.False(t, thread.Done)
	})

	t.Run("defaults to done when body omits the flag", func(t *testing.T) {
		req := createRequestWithUser("POST", "/api/v1/thread/thread-d1/done?account_id=acct-done",
			"doner@example.com", bytes.NewBufferString(`{}`))
		rr := httptest.NewRecorder()
		h.SetThreadDone(rr, req)

		require.Equal(t, 200, rr.Code)

		thread, err := db.GetThreadByID(context.Background(), pool, "acct-done", "thread-d1")
		require.NoError(t, err)
		assert.True(t, thread.Done)
	})

	t.Run("returns 404 for unknown thread", func(t *testing.T) {
		req := createRequestWithUser("POST", "/api/v1/thread/no-such-thread/done?account_id=acct-done",
			"doner@example.com", bytes.NewBufferString(`{"done":true}`))
		rr := httptest.NewRecorder()
		h.SetThreadDone(rr, req)

		assert.Equal(t, 404, rr.Code)
	})
}
