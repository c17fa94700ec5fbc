package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dvarga/mailpilot/internal/auth"
	"github.com/dvarga/mailpilot/internal/db"
	"github.com/dvarga/mailpilot/internal/models"
	"github.com/dvarga/mailpilot/internal/testutil"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
)

// createRequestWithUser creates an HTTP request with user email in context.
func createRequestWithUser(method, url, email string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, url, body)
	ctx := context.WithValue(req.Context(), auth.UserEmailKey, email)
	return req.WithContext(ctx)
}

// setupLinkedAccount creates a user and a linked account for them. Returns the
// user id.
func setupLinkedAccount(t *testing.T, pool *pgxpool.Pool, email, accountID string) string {
	t.Helper()

	ctx := context.Background()
	userID, err := db.GetOrCreateUser(ctx, pool, email)
	if err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}

	encryptor := testutil.GetTestEncryptor(t)
	encryptedToken, err := encryptor.Encrypt("fake-access-token")
	if err != nil {
		t.Fatalf("Failed to encrypt token: %v", err)
	}

	account := &models.Account{
		ID:                   accountID,
		UserID:               userID,
		Name:                 "Owner",
		EmailAddress:         email,
		EncryptedAccessToken: encryptedToken,
	}
	if err := db.SaveAccount(ctx, pool, account); err != nil {
		t.Fatalf("Failed to save account: %v", err)
	}
	return userID
}

// VerifyAuthCheck verifies that the handler returns 401 Unauthorized when no user is in context.
func VerifyAuthCheck(t *testing.T, handlerFunc http.HandlerFunc, method, url string) {
	t.Helper()
	req := httptest.NewRequest(method, url, nil)
	rr := httptest.NewRecorder()
	handlerFunc(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code, "Expected status 401 when no user email in context")
}
