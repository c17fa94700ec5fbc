package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dvarga/mailpilot/internal/db"
	"github.com/dvarga/mailpilot/internal/provider"
	"github.com/dvarga/mailpilot/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAccountsHandler(t *testing.T, fake *testutil.FakeProvider) (*AccountsHandler, *testutil.FakeProvider) {
	t.Helper()

	pool := testutil.NewTestDB(t)
	t.Cleanup(pool.Close)

	if fake == nil {
		fake = testutil.NewFakeProvider(t)
	}
	client := provider.NewClient(provider.Config{
		BaseURL:      fake.URL(),
		ClientID:     "client-id",
		ClientSecret: "client-secret",
	})
	encryptor := testutil.GetTestEncryptor(t)

	h := NewAccountsHandler(pool, encryptor, client, nil, "http://localhost:8080")
	return h, fake
}

func TestAccountsHandler_LinkStart(t *testing.T) {
	h, _ := newAccountsHandler(t, nil)

	VerifyAuthCheck(t, h.LinkStart, "GET", "/api/v1/link/start")

	t.Run("returns consent URL for default service", func(t *testing.T) {
		req := createRequestWithUser("GET", "/api/v1/link/start", "linker@example.com", nil)
		rr := httptest.NewRecorder()
		h.LinkStart(rr, req)

		require.Equal(t, http.StatusOK, rr.Code)

		var resp map[string]string
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		assert.Contains(t, resp["url"], "/auth/authorize")
		assert.Contains(t, resp["url"], "serviceType=Google")
		assert.Contains(t, resp["url"], "link%2Fcallback")
	})

	t.Run("rejects unknown service", func(t *testing.T) {
		req := createRequestWithUser("GET", "/api/v1/link/start?service=Yahoo", "linker@example.com", nil)
		rr := httptest.NewRecorder()
		h.LinkStart(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestAccountsHandler_LinkCallback(t *testing.T) {
	h, fake := newAccountsHandler(t, nil)

	VerifyAuthCheck(t, h.LinkCallback, "GET", "/api/v1/link/callback?code=abc")

	t.Run("requires code", func(t *testing.T) {
		req := createRequestWithUser("GET", "/api/v1/link/callback", "callback@example.com", nil)
		rr := httptest.NewRecorder()
		h.LinkCallback(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("rejects failed consent", func(t *testing.T) {
		req := createRequestWithUser("GET", "/api/v1/link/callback?status=denied&code=abc", "callback@example.com", nil)
		rr := httptest.NewRecorder()
		h.LinkCallback(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("exchanges code and stores account with encrypted token", func(t *testing.T) {
		req := createRequestWithUser("GET", "/api/v1/link/callback?status=success&code=abc", "callback@example.com", nil)
		rr := httptest.NewRecorder()
		h.LinkCallback(rr, req)

		require.Equal(t, http.StatusCreated, rr.Code)

		var resp map[string]any
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		assert.Equal(t, fake.AccountID, resp["accountId"])
		assert.Equal(t, fake.Email, resp["email"])

		account, err := db.GetAccount(req.Context(), h.pool, fake.AccountID)
		require.NoError(t, err)
		assert.Equal(t, fake.Email, account.EmailAddress)

		plaintext, err := h.encryptor.Decrypt(account.EncryptedAccessToken)
		require.NoError(t, err)
		assert.Equal(t, fake.AccessToken, plaintext)
	})
}

func TestAccountsHandler_ListAccounts(t *testing.T) {
	h, _ := newAccountsHandler(t, nil)

	VerifyAuthCheck(t, h.ListAccounts, "GET", "/api/v1/accounts")

	t.Run("returns empty list for fresh user", func(t *testing.T) {
		req := createRequestWithUser("GET", "/api/v1/accounts", "fresh@example.com", nil)
		rr := httptest.NewRecorder()
		h.ListAccounts(rr, req)

		require.Equal(t, http.StatusOK, rr.Code)

		var resp struct {
			Accounts []json.RawMessage `json:"accounts"`
		}
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		assert.Empty(t, resp.Accounts)
	})

	t.Run("returns linked accounts without token material", func(t *testing.T) {
		setupLinkedAccount(t, h.pool, "lister@example.com", "acct-list")

		req := createRequestWithUser("GET", "/api/v1/accounts", "lister@example.com", nil)
		rr := httptest.NewRecorder()
		h.ListAccounts(rr, req)

		require.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), "acct-list")
		assert.NotContains(t, rr.Body.String(), "encrypted")
		assert.NotContains(t, rr.Body.String(), "fake-access-token")
	})
}
