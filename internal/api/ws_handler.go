package api

import (
	"context"
	"log"
	"net/http"
	"strings"

	"github.com/dvarga/mailpilot/internal/auth"
	"github.com/dvarga/mailpilot/internal/db"
	"github.com/dvarga/mailpilot/internal/sync"
	ws "github.com/dvarga/mailpilot/internal/websocket"
	"github.com/gorilla/websocket"
	"github.com/jackc/pgx/v5/pgxpool"
)

// WebSocketHandler handles the /api/v1/ws endpoint for real-time sync events.
type WebSocketHandler struct {
	pool    *pgxpool.Pool
	syncSvc *sync.Service
	hub     *ws.Hub
}

// NewWebSocketHandler creates a new WebSocketHandler instance.
func NewWebSocketHandler(pool *pgxpool.Pool, syncSvc *sync.Service, hub *ws.Hub) *WebSocketHandler {
	return &WebSocketHandler{pool: pool, syncSvc: syncSvc, hub: hub}
}

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins; this server sits behind a reverse proxy in a
		// trusted environment.
		return true
	},
}

// Handle upgrades the HTTP connection to a WebSocket and registers it with the Hub.
// Authentication is handled via query parameter (?token=...) since WebSocket connections
// cannot set custom headers in browsers. The token is validated using the same ValidateToken
// function used by the RequireAuth middleware.
func (h *WebSocketHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	token := r.URL.Query().Get("token")
	if token == "" {
		// Fallback to the Authorization header for tools that can set it.
		authHeader := r.Header.Get("Authorization")
		if authHeader != "" {
			fields := strings.Fields(authHeader)
			if len(fields) >= 2 && strings.EqualFold(fields[0], "Bearer") {
				token = strings.TrimSpace(strings.Join(fields[1:], " "))
			}
		}
	}

	if token == "" {
		log.Printf("WebSocketHandler: No token provided")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	userEmail, err := auth.ValidateToken(token)
	if err != nil {
		log.Printf("WebSocketHandler: Token validation failed: %v", err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	userID, err := db.GetOrCreateUser(ctx, h.pool, userEmail)
	if err != nil {
		log.Printf("WebSocketHandler: Failed to get/create user: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocketHandler: failed to upgrade connection for user %s: %v", userID, err)
		return
	}

	// First connection for this user means the client was away; catch up on
	// provider changes for every linked account.
	isFirstConnection := h.hub.ActiveConnections(userID) == 0

	client := h.hub.Register(userID, conn)
	if client == nil {
		log.Printf("WebSocketHandler: Connection rejected for user %s (max connections exceeded)", userID)
		return
	}

	if isFirstConnection && h.syncSvc != nil {
		go h.catchUp(userID)
	}

	go h.readLoop(userID, client)
}

// catchUp kicks an incremental sync for each of the user's accounts.
func (h *WebSocketHandler) catchUp(userID string) {
	accounts, err := db.GetAccountsForUser(context.Background(), h.pool, userID)
	if err != nil {
		log.Printf("WebSocketHandler: Failed to list accounts for catch-up: %v", err)
		return
	}
	for _, account := range accounts {
		h.syncSvc.KickoffIncremental(account.ID, userID)
	}
}

// readLoop reads messages from the WebSocket until the connection is closed,
// then unregisters the client.
func (h *WebSocketHandler) readLoop(userID string, client *ws.Client) {
	conn := client.Conn()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.hub.Unregister(userID, client)
}
