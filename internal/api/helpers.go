package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/dvarga/mailpilot/internal/auth"
	"github.com/dvarga/mailpilot/internal/db"
	"github.com/dvarga/mailpilot/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

// GetUserIDFromContext extracts the user's email from context, resolves/creates the DB user,
// and writes appropriate HTTP errors when it fails. Returns (userID, true) on success.
func GetUserIDFromContext(ctx context.Context, w http.ResponseWriter, pool *pgxpool.Pool) (string, bool) {
	email, ok := auth.GetUserEmailFromContext(ctx)
	if !ok {
		log.Println("API: No user email in context")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return "", false
	}

	userID, err := db.GetOrCreateUser(ctx, pool, email)
	if err != nil {
		log.Printf("API: Failed to get/create user: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return "", false
	}

	return userID, true
}

// RequireAccount loads the account from the account_id query parameter and
// verifies it belongs to the user, writing the appropriate HTTP error when it
// doesn't. Returns (account, true) on success.
func RequireAccount(ctx context.Context, w http.ResponseWriter, r *http.Request, pool *pgxpool.Pool, userID string) (*models.Account, bool) {
	accountID := r.URL.Query().Get("account_id")
	if accountID == "" {
		http.Error(w, "account_id query parameter is required", http.StatusBadRequest)
		return nil, false
	}

	account, err := db.GetAccountForUser(ctx, pool, accountID, userID)
	if errors.Is(err, db.ErrAccountNotFound) {
		http.Error(w, "Account not found", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		log.Printf("API: Failed to load account: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return nil, false
	}

	return account, true
}

// WriteJSONResponse serializes v as JSON to w. Returns false if encoding
// failed after the header was already written.
func WriteJSONResponse(w http.ResponseWriter, v any) bool {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("API: Failed to encode response: %v", err)
		return false
	}
	return true
}

// DecodeJSONBody decodes the request body into v, writing a 400 on failure.
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return false
	}
	return true
}
