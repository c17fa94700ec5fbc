package api

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/dvarga/mailpilot/internal/db"
	"github.com/dvarga/mailpilot/internal/sync"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SyncHandler triggers full syncs for linked accounts.
type SyncHandler struct {
	pool    *pgxpool.Pool
	syncSvc *sync.Service
}

// NewSyncHandler creates a new SyncHandler instance.
func NewSyncHandler(pool *pgxpool.Pool, syncSvc *sync.Service) *SyncHandler {
	return &SyncHandler{pool: pool, syncSvc: syncSvc}
}

// TriggerSync starts a full sync for the account in the path
// (/api/v1/accounts/{account_id}/sync). The sync runs in the background;
// completion is pushed over the user's websocket connections.
func (h *SyncHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserIDFromContext(ctx, w, h.pool)
	if !ok {
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/v1/accounts/")
	accountID := strings.TrimSuffix(path, "/sync")
	if accountID == "" || accountID == path {
		http.Error(w, "account id is required", http.StatusBadRequest)
		return
	}

	if _, err := db.GetAccountForUser(ctx, h.pool, accountID, userID); err != nil {
		if errors.Is(err, db.ErrAccountNotFound) {
			http.Error(w, "Account not found", http.StatusNotFound)
			return
		}
		log.Printf("SyncHandler: Failed to load account: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	started := h.syncSvc.KickoffInitial(accountID, userID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	WriteJSONResponse(w, map[string]any{
		"accountId": accountID,
		"started":   started,
	})
}
