package api

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dvarga/mailpilot/internal/db"
	"github.com/dvarga/mailpilot/internal/provider"
	"github.com/dvarga/mailpilot/internal/sync"
	"github.com/dvarga/mailpilot/internal/testutil"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dbTokenStore persists delta tokens the way the server wires it.
type dbTokenStore struct {
	pool *pgxpool.Pool
}

func (s dbTokenStore) UpdateDeltaToken(ctx context.Context, accountID, deltaToken string) error {
	return db.UpdateDeltaToken(ctx, s.pool, accountID, deltaToken)
}

func TestSyncHandler_TriggerSync(t *testing.T) {
	pool := testutil.NewTestDB(t)
	t.Cleanup(pool.Close)

	fake := testutil.NewFakeProvider(t)
	sentAt := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	body := "<p>Welcome aboard.</p>"
	fake.Pages = []provider.SyncUpdatedResponse{
		{
			NextDeltaToken: "delta-final",
			Records: []provider.Message{
				{
					ID:                 "msg-sync-1",
					ThreadID:           "thread-sync-1",
					CreatedTime:        sentAt,
					LastModifiedTime:   sentAt,
					SentAt:             sentAt,
					ReceivedAt:         sentAt,
					InternetMessageID:  "<msg-sync-1@example.com>",
					Subject:            "Welcome",
					SysLabels:          []string{"inbox"},
					Keywords:           []string{},
					SysClassifications: []string{},
					Sensitivity:        "normal",
					From:               provider.EmailAddress{Name: "Greeter", Address: "greeter@example.com"},
					To:                 []provider.EmailAddress{{Address: "synced@example.com"}},
					Body:               &body,
					Omitted:            []string{},
				},
			},
		},
	}

	client := provider.NewClient(provider.Config{
		BaseURL:      fake.URL(),
		ClientID:     "client-id",
		ClientSecret: "client-secret",
	})
	encryptor := testutil.GetTestEncryptor(t)
	reconciler := sync.NewReconciler(pool, nil)
	engine := sync.NewEngine(client, dbTokenStore{pool: pool}, reconciler, 2)
	syncSvc := sync.NewService(pool, encryptor, engine, nil)

	h := NewSyncHandler(pool, syncSvc)

	VerifyAuthCheck(t, h.TriggerSync, "POST", "/api/v1/accounts/acct-trigger/sync")

	setupLinkedAccount(t, pool, "synced@example.com", "acct-trigger")

	t.Run("returns 404 for accounts the user does not own", func(t *testing.T) {
		req := createRequestWithUser("POST", "/api/v1/accounts/acct-trigger/sync", "outsider@example.com", nil)
		rr := httptest.NewRecorder()
		h.TriggerSync(rr, req)

		assert.Equal(t, 404, rr.Code)
	})

	t.Run("rejects malformed paths", func(t *testing.T) {
		req := createRequestWithUser("POST", "/api/v1/accounts//sync", "synced@example.com", nil)
		rr := httptest.NewRecorder()
		h.TriggerSync(rr, req)

		assert.Equal(t, 400, rr.Code)
	})

	t.Run("runs a full sync in the background", func(t *testing.T) {
		req := createRequestWithUser("POST", "/api/v1/accounts/acct-trigger/sync", "synced@example.com", nil)
		rr := httptest.NewRecorder()
		h.TriggerSync(rr, req)

		require.Equal(t, 202, rr.Code)
		assert.JSONEq(t, `{"accountId":"acct-trigger","started":true}`, rr.Body.String())

		// The sync runs detached; wait for its results to land.
		ctx := context.Background()
		deadline := time.Now().Add(10 * time.Second)
		for {
			account, err := db.GetAccount(ctx, pool, "acct-trigger")
			require.NoError(t, err)
			if account.NextDeltaToken != nil {
				assert.Equal(t, "delta-final", *account.NextDeltaToken)
				break
			}
			if time.Now().After(deadline) {
				t.Fatal("Sync did not persist a delta token within timeout")
			}
			time.Sleep(25 * time.Millisecond)
		}

		thread, err := db.GetThreadByID(ctx, pool, "acct-trigger", "thread-sync-1")
		require.NoError(t, err)
		assert.Equal(t, "Welcome", thread.Subject)
		assert.True(t, thread.InboxStatus)

		emails, err := db.GetEmailsForThread(ctx, pool, "thread-sync-1")
		require.NoError(t, err)
		require.Len(t, emails, 1)
		assert.Equal(t, "msg-sync-1", emails[0].ID)
		require.NotNil(t, emails[0].From)
		assert.Equal(t, "greeter@example.com", emails[0].From.Address)
	})
}
