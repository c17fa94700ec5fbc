package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/dvarga/mailpilot/internal/provider"
)

// FakeProvider is an in-process stand-in for the mail provider API, covering
// the endpoints the client calls: code exchange, account details, sync start,
// change pagination and send.
type FakeProvider struct {
	Server *httptest.Server

	mu sync.Mutex
	// AccountID and AccessToken are returned from the code exchange.
	AccountID   string
	AccessToken string
	Email       string
	Name        string

	// NotReadyPolls is how many StartSync calls answer ready=false before the
	// job becomes ready.
	NotReadyPolls int
	startCalls    int

	// Pages are served in order; the first GetUpdated call gets Pages[0].
	Pages     []provider.SyncUpdatedResponse
	pageCalls int

	// Sent collects messages posted to the send endpoint.
	Sent []provider.OutgoingMessage
}

// NewFakeProvider starts a fake provider server. The server is shut down when
// the test finishes.
func NewFakeProvider(t *testing.T) *FakeProvider {
	t.Helper()

	f := &FakeProvider{
		AccountID:   "acct-fake",
		AccessToken: "fake-access-token",
		Email:       "owner@example.com",
		Name:        "Owner",
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.Server.Close)
	return f
}

// URL returns the fake provider's base URL.
func (f *FakeProvider) URL() string {
	return f.Server.URL
}

// StartCalls returns how many times the sync start endpoint was hit.
func (f *FakeProvider) StartCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.startCalls
}

func (f *FakeProvider) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case strings.HasPrefix(r.URL.Path, "/auth/token/"):
		json.NewEncoder(w).Encode(provider.TokenResponse{
			AccountID:   f.AccountID,
			AccessToken: f.AccessToken,
			UserID:      "user-fake",
		})

	case r.URL.Path == "/account":
		json.NewEncoder(w).Encode(provider.AccountDetails{Email: f.Email, Name: f.Name})

	case r.URL.Path == "/email/sync":
		f.startCalls++
		ready := f.startCalls > f.NotReadyPolls
		resp := provider.SyncResponse{Ready: ready}
		if ready {
			resp.SyncUpdatedToken = "delta-initial"
		}
		json.NewEncoder(w).Encode(resp)

	case r.URL.Path == "/email/sync/updated":
		if f.pageCalls >= len(f.Pages) {
			json.NewEncoder(w).Encode(provider.SyncUpdatedResponse{Records: []provider.Message{}})
			return
		}
		page := f.Pages[f.pageCalls]
		f.pageCalls++
		json.NewEncoder(w).Encode(page)

	case r.URL.Path == "/email/messages":
		var msg provider.OutgoingMessage
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			http.Error(w, "bad payload", http.StatusBadRequest)
			return
		}
		f.Sent = append(f.Sent, msg)
		json.NewEncoder(w).Encode(provider.SendResult{ID: "sent-1", ThreadID: msg.ThreadID})

	default:
		http.NotFound(w, r)
	}
}
