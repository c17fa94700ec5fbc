package api

import (
	"log"
	"net/http"

	"github.com/dvarga/mailpilot/internal/crypto"
	"github.com/dvarga/mailpilot/internal/db"
	"github.com/dvarga/mailpilot/internal/models"
	"github.com/dvarga/mailpilot/internal/provider"
	"github.com/dvarga/mailpilot/internal/sync"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AccountsHandler handles account linking and listing.
type AccountsHandler struct {
	pool       *pgxpool.Pool
	encryptor  *crypto.Encryptor
	client     *provider.Client
	syncSvc    *sync.Service
	appBaseURL string
}

// NewAccountsHandler creates a new AccountsHandler instance.
func NewAccountsHandler(pool *pgxpool.Pool, encryptor *crypto.Encryptor, client *provider.Client, syncSvc *sync.Service, appBaseURL string) *AccountsHandler {
	return &AccountsHandler{
		pool:       pool,
		encryptor:  encryptor,
		client:     client,
		syncSvc:    syncSvc,
		appBaseURL: appBaseURL,
	}
}

// ListAccounts returns the user's linked provider accounts.
func (h *AccountsHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserIDFromContext(ctx, w, h.pool)
	if !ok {
		return
	}

	accounts, err := db.GetAccountsForUser(ctx, h.pool, userID)
	if err != nil {
		log.Printf("AccountsHandler: Failed to list accounts: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if accounts == nil {
		accounts = []*models.Account{}
	}

	WriteJSONResponse(w, map[string]any{"accounts": accounts})
}

// LinkStart returns the provider consent-screen URL for linking a mailbox.
func (h *AccountsHandler) LinkStart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if _, ok := GetUserIDFromContext(ctx, w, h.pool); !ok {
		return
	}

	service := r.URL.Query().Get("service")
	if service == "" {
		service = "Google"
	}

	authURL, err := h.client.AuthURL(service, h.appBaseURL+"/api/v1/link/callback")
	if err != nil {
		log.Printf("AccountsHandler: Failed to build auth URL: %v", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	WriteJSONResponse(w, map[string]string{"url": authURL})
}

// LinkCallback finishes the linking flow: it exchanges the authorization code
// for an access token, fetches the mailbox details, stores the account with
// the token encrypted, and kicks off the first sync in the background.
func (h *AccountsHandler) LinkCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserIDFromContext(ctx, w, h.pool)
	if !ok {
		return
	}

	if status := r.URL.Query().Get("status"); status != "" && status != "success" {
		http.Error(w, "Account linking was not approved", http.StatusBadRequest)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "code query parameter is required", http.StatusBadRequest)
		return
	}

	token, err := h.client.ExchangeCode(ctx, code)
	if err != nil {
		log.Printf("AccountsHandler: Code exchange failed: %v", err)
		http.Error(w, "Failed to exchange authorization code", http.StatusBadGateway)
		return
	}

	details, err := h.client.GetAccountDetails(ctx, token.AccessToken)
	if err != nil {
		log.Printf("AccountsHandler: Failed to fetch account details: %v", err)
		http.Error(w, "Failed to fetch account details", http.StatusBadGateway)
		return
	}

	encryptedToken, err := h.encryptor.Encrypt(token.AccessToken)
	if err != nil {
		log.Printf("AccountsHandler: Failed to encrypt access token: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	account := &models.Account{
		ID:                   token.AccountID,
		UserID:               userID,
		Name:                 details.Name,
		EmailAddress:         details.Email,
		EncryptedAccessToken: encryptedToken,
	}
	if err := db.SaveAccount(ctx, h.pool, account); err != nil {
		log.Printf("AccountsHandler: Failed to save account: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	started := false
	if h.syncSvc != nil {
		started = h.syncSvc.KickoffInitial(account.ID, userID)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	WriteJSONResponse(w, map[string]any{
		"accountId":   account.ID,
		"email":       account.EmailAddress,
		"syncStarted": started,
	})
}
