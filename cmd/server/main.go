package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/dvarga/mailpilot/internal/api"
	"github.com/dvarga/mailpilot/internal/auth"
	"github.com/dvarga/mailpilot/internal/config"
	"github.com/dvarga/mailpilot/internal/crypto"
	"github.com/dvarga/mailpilot/internal/db"
	"github.com/dvarga/mailpilot/internal/provider"
	"github.com/dvarga/mailpilot/internal/render"
	"github.com/dvarga/mailpilot/internal/search"
	"github.com/dvarga/mailpilot/internal/sync"
	ws "github.com/dvarga/mailpilot/internal/websocket"
	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()
	pool, err := db.NewConnection(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.CloseConnection(pool)

	log.Printf("Successfully connected to database")

	server := NewServer(cfg, pool)

	address := ":" + cfg.Port
	log.Printf("Mailpilot backend server starting on %s (environment: %s)", address, cfg.Environment)

	if err := http.ListenAndServe(address, server); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}

// NewServer creates and returns a new HTTP handler for the Mailpilot API server.
func NewServer(cfg *config.Config, dbPool *pgxpool.Pool) http.Handler {
	encryptor, err := crypto.NewEncryptor(cfg.EncryptionKeyBase64)
	if err != nil {
		log.Fatalf("Failed to create encryptor: %v", err)
	}

	providerClient := provider.NewClient(provider.Config{
		BaseURL:      cfg.ProviderBaseURL,
		ClientID:     cfg.ProviderClientID,
		ClientSecret: cfg.ProviderClientSecret,
	})

	embeddingClient := search.NewEmbeddingClient(cfg.EmbeddingURL)
	indexer := search.NewIndexer(dbPool, embeddingClient, render.NewHTMLRenderer())

	wsHub := ws.NewHub(10)

	reconciler := sync.NewReconciler(dbPool, indexer)
	engine := sync.NewEngine(providerClient, tokenStore{pool: dbPool}, reconciler, cfg.ProviderDaysWithin)
	syncService := sync.NewService(dbPool, encryptor, engine, wsHub)

	accountsHandler := api.NewAccountsHandler(dbPool, encryptor, providerClient, syncService, cfg.AppBaseURL)
	syncHandler := api.NewSyncHandler(dbPool, syncService)
	threadsHandler := api.NewThreadsHandler(dbPool, syncService)
	composeHandler := api.NewComposeHandler(dbPool, encryptor, providerClient)
	searchHandler := api.NewSearchHandler(dbPool, indexer)
	chatHandler := api.NewChatHandler(dbPool, indexer, cfg.GenerationURL)
	wsHandler := api.NewWebSocketHandler(dbPool, syncService, wsHub)

	mux := http.NewServeMux()

	mux.HandleFunc("/", handleRoot)

	mux.Handle("/api/v1/accounts", auth.RequireAuth(http.HandlerFunc(accountsHandler.ListAccounts)))
	mux.Handle("/api/v1/link/start", auth.RequireAuth(http.HandlerFunc(accountsHandler.LinkStart)))
	mux.Handle("/api/v1/link/callback", auth.RequireAuth(http.HandlerFunc(accountsHandler.LinkCallback)))
	mux.Handle("/api/v1/threads", auth.RequireAuth(http.HandlerFunc(threadsHandler.GetThreads)))
	mux.Handle("/api/v1/threads/count", auth.RequireAuth(http.HandlerFunc(threadsHandler.GetThreadCount)))
	mux.Handle("/api/v1/suggestions", auth.RequireAuth(http.HandlerFunc(composeHandler.GetSuggestions)))
	mux.Handle("/api/v1/reply-details", auth.RequireAuth(http.HandlerFunc(composeHandler.GetReplyDetails)))
	mux.Handle("/api/v1/send", auth.RequireAuth(http.HandlerFunc(composeHandler.SendEmail)))
	mux.Handle("/api/v1/search", auth.RequireAuth(http.HandlerFunc(searchHandler.Search)))
	mux.Handle("/api/v1/chat", auth.RequireAuth(http.HandlerFunc(chatHandler.Chat)))
	// WebSocket handler handles its own authentication via query parameter
	// (since browsers can't set headers on WebSocket connections).
	mux.Handle("/api/v1/ws", http.HandlerFunc(wsHandler.Handle))

	// Handle /api/v1/accounts/{account_id}/sync
	mux.Handle("/api/v1/accounts/", auth.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/sync") {
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		syncHandler.TriggerSync(w, r)
	})))

	// Handle /api/v1/thread/{thread_id}/done
	mux.Handle("/api/v1/thread/", auth.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/done") {
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		threadsHandler.SetThreadDone(w, r)
	})))

	return mux
}

// tokenStore adapts the accounts table to the engine's TokenStore.
type tokenStore struct {
	pool *pgxpool.Pool
}

func (s tokenStore) UpdateDeltaToken(ctx context.Context, accountID, deltaToken string) error {
	return db.UpdateDeltaToken(ctx, s.pool, accountID, deltaToken)
}

func handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Mailpilot API is running")
}
