package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dvarga/mailpilot/internal/render"
	"github.com/dvarga/mailpilot/internal/search"
	"github.com/dvarga/mailpilot/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newFlatEmbedder serves the same valid embedding for every text. Good enough
// for handlers that only exercise full-text search.
func newFlatEmbedder(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		vec := make([]float32, search.EmbeddingDim)
		vec[0] = 1
		json.NewEncoder(w).Encode(map[string]any{"embedding": vec})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSearchHandler_Search(t *testing.T) {
	pool := testutil.NewTestDB(t)
	t.Cleanup(pool.Close)

	embedder := newFlatEmbedder(t)
	indexer := search.NewIndexer(pool, search.NewEmbeddingClient(embedder.URL), render.NewHTMLRenderer())
	h := NewSearchHandler(pool, indexer)

	VerifyAuthCheck(t, h.Search, "GET", "/api/v1/search?account_id=acct-search&q=budget")

	setupLinkedAccount(t, pool, "searcher@example.com", "acct-search")
	err := indexer.Feed(context.Background(), "acct-search", search.Document{
		EmailID:     "email-1",
		ThreadID:    "thread-1",
		Subject:     "Budget review notes",
		RawBody:     "<p>The budget looks fine.</p>",
		FromAddress: "cfo@example.com",
		SentAt:      time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	t.Run("returns matching hits", func(t *testing.T) {
		req := createRequestWithUser("GET", "/api/v1/search?account_id=acct-search&q=budget", "searcher@example.com", nil)
		rr := httptest.NewRecorder()
		h.Search(rr, req)

		require.Equal(t, 200, rr.Code)

		var resp struct {
			Hits []search.Hit `json:"hits"`
		}
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		require.Len(t, resp.Hits, 1)
		assert.Equal(t, "email-1", resp.Hits[0].EmailID)
		assert.Equal(t, "Budget review notes", resp.Hits[0].Subject)
	})

	t.Run("requires a query", func(t *testing.T) {
		req := createRequestWithUser("GET", "/api/v1/search?account_id=acct-search", "searcher@example.com", nil)
		rr := httptest.NewRecorder()
		h.Search(rr, req)

		assert.Equal(t, 400, rr.Code)
	})

	t.Run("returns empty hits for no matches", func(t *testing.T) {
		req := createRequestWithUser("GET", "/api/v1/search?account_id=acct-search&q=zeppelin", "searcher@example.com", nil)
		rr := httptest.NewRecorder()
		h.Search(rr, req)

		require.Equal(t, 200, rr.Code)
		assert.JSONEq(t, `{"hits":[]}`, rr.Body.String())
	})
}
