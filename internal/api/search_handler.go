package api

import (
	"log"
	"net/http"

	"github.com/dvarga/mailpilot/internal/search"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SearchHandler handles full-text search over the email index.
type SearchHandler struct {
	pool    *pgxpool.Pool
	indexer *search.Indexer
}

// NewSearchHandler creates a new SearchHandler instance.
func NewSearchHandler(pool *pgxpool.Pool, indexer *search.Indexer) *SearchHandler {
	return &SearchHandler{pool: pool, indexer: indexer}
}

// Search handles search requests.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserIDFromContext(ctx, w, h.pool)
	if !ok {
		return
	}
	account, ok := RequireAccount(ctx, w, r, h.pool, userID)
	if !ok {
		return
	}

	query := r.URL.Query().Get("q")
	if query == "" {
		http.Error(w, "q query parameter is required", http.StatusBadRequest)
		return
	}

	hits, err := h.indexer.TermSearch(ctx, account.ID, query, 20)
	if err != nil {
		log.Printf("SearchHandler: Failed to search: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if hits == nil {
		hits = []search.Hit{}
	}

	WriteJSONResponse(w, map[string]any{"hits": hits})
}
