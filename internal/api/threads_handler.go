package api

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/dvarga/mailpilot/internal/db"
	"github.com/dvarga/mailpilot/internal/models"
	"github.com/dvarga/mailpilot/internal/sync"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ThreadsHandler handles thread-list-related API requests.
type ThreadsHandler struct {
	pool    *pgxpool.Pool
	syncSvc *sync.Service
}

// NewThreadsHandler creates a new ThreadsHandler instance.
func NewThreadsHandler(pool *pgxpool.Pool, syncSvc *sync.Service) *ThreadsHandler {
	return &ThreadsHandler{pool: pool, syncSvc: syncSvc}
}

// GetThreads returns the threads for one folder tab. Listing also kicks off a
// background incremental sync so the view the user is staring at converges on
// fresh provider state; the response itself is served from the store.
func (h *ThreadsHandler) GetThreads(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserIDFromContext(ctx, w, h.pool)
	if !ok {
		return
	}
	account, ok := RequireAccount(ctx, w, r, h.pool, userID)
	if !ok {
		return
	}

	tab := r.URL.Query().Get("tab")
	if tab == "" {
		tab = "inbox"
	}
	done := r.URL.Query().Get("done") == "true"

	if h.syncSvc != nil {
		h.syncSvc.KickoffIncremental(account.ID, userID)
	}

	threads, err := db.GetThreadsForTab(ctx, h.pool, account.ID, tab, done, 0)
	if err != nil {
		if errors.Is(err, db.ErrUnknownTab) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.Printf("ThreadsHandler: Failed to get threads: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if threads == nil {
		threads = []*models.Thread{}
	}

	WriteJSONResponse(w, map[string]any{"threads": threads})
}

// GetThreadCount returns the number of open threads in one folder tab.
func (h *ThreadsHandler) GetThreadCount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserIDFromContext(ctx, w, h.pool)
	if !ok {
		return
	}
	account, ok := RequireAccount(ctx, w, r, h.pool, userID)
	if !ok {
		return
	}

	tab := r.URL.Query().Get("tab")
	if tab == "" {
		tab = "inbox"
	}

	count, err := db.CountThreadsForTab(ctx, h.pool, account.ID, tab)
	if err != nil {
		if errors.Is(err, db.ErrUnknownTab) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.Printf("ThreadsHandler: Failed to count threads: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	WriteJSONResponse(w, map[string]int{"count": count})
}

// SetThreadDone marks the thread in the path (/api/v1/thread/{id}/done) done
// or not done.
func (h *ThreadsHandler) SetThreadDone(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserIDFromContext(ctx, w, h.pool)
	if !ok {
		return
	}
	account, ok := RequireAccount(ctx, w, r, h.pool, userID)
	if !ok {
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/v1/thread/")
	threadID := strings.TrimSuffix(path, "/done")
	if threadID == "" || threadID == path {
		http.Error(w, "thread id is required", http.StatusBadRequest)
		return
	}

	var body struct {
		Done *bool `json:"done"`
	}
	if !DecodeJSONBody(w, r, &body) {
		return
	}
	done := true
	if body.Done != nil {
		done = *body.Done
	}

	if err := db.SetThreadDone(ctx, h.pool, account.ID, threadID, done); err != nil {
		if errors.Is(err, db.ErrThreadNotFound) {
			http.Error(w, "Thread not found", http.StatusNotFound)
			return
		}
		log.Printf("ThreadsHandler: Failed to set thread done: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	WriteJSONResponse(w, map[string]any{"threadId": threadID, "done": done})
}
