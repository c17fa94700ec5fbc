package sync

import (
	"context"
	"fmt"
	"log"
	gosync "sync"
	"time"

	"github.com/dvarga/mailpilot/internal/crypto"
	"github.com/dvarga/mailpilot/internal/db"
	"github.com/dvarga/mailpilot/internal/models"
	"github.com/dvarga/mailpilot/internal/websocket"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Service runs syncs for stored accounts: it loads the account, decrypts its
// access token, drives the engine, and pushes progress events to the owner's
// open websocket connections. At most one sync per account runs at a time.
type Service struct {
	pool      *pgxpool.Pool
	encryptor *crypto.Encryptor
	engine    *Engine
	hub       *websocket.Hub

	mu      gosync.Mutex
	running map[string]bool
}

// NewService creates a sync Service. hub may be nil, which disables progress
// events.
func NewService(pool *pgxpool.Pool, encryptor *crypto.Encryptor, engine *Engine, hub *websocket.Hub) *Service {
	return &Service{
		pool:      pool,
		encryptor: encryptor,
		engine:    engine,
		hub:       hub,
		running:   make(map[string]bool),
	}
}

// RunInitial performs a full first sync for the account, synchronously.
func (s *Service) RunInitial(ctx context.Context, accountID string) (*Result, error) {
	account, token, err := s.loadAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return s.engine.InitialSync(ctx, account.ID, token, account.NextDeltaToken)
}

// RunIncremental pulls changes since the account's stored delta token,
// synchronously. An account that never finished an initial sync yields an
// empty result.
func (s *Service) RunIncremental(ctx context.Context, accountID string) (*Result, error) {
	account, token, err := s.loadAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return s.engine.IncrementalSync(ctx, account.ID, token, account.NextDeltaToken)
}

// KickoffInitial starts a full sync in the background. Returns false when a
// sync for this account is already in flight.
func (s *Service) KickoffInitial(accountID, userID string) bool {
	return s.kickoff(accountID, userID, s.RunInitial)
}

// KickoffIncremental starts an incremental sync in the background. Returns
// false when a sync for this account is already in flight.
func (s *Service) KickoffIncremental(accountID, userID string) bool {
	return s.kickoff(accountID, userID, s.RunIncremental)
}

func (s *Service) kickoff(accountID, userID string, runFn func(context.Context, string) (*Result, error)) bool {
	s.mu.Lock()
	if s.running[accountID] {
		s.mu.Unlock()
		return false
	}
	s.running[accountID] = true
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.running, accountID)
			s.mu.Unlock()
		}()

		// Detached from the request context: the sync should finish even if
		// the triggering request goes away.
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()

		s.notify(userID, websocket.Event{Type: websocket.EventSyncStarted, AccountID: accountID})

		result, err := runFn(ctx, accountID)
		if err != nil {
			log.Printf("Sync failed for account %s: %v", accountID, err)
			s.notify(userID, websocket.Event{Type: websocket.EventSyncFailed, AccountID: accountID, Detail: err.Error()})
			return
		}

		s.notify(userID, websocket.Event{
			Type:      websocket.EventSyncCompleted,
			AccountID: accountID,
			Detail:    fmt.Sprintf("%d messages", result.Reconciled),
		})
	}()

	return true
}

func (s *Service) notify(userID string, event websocket.Event) {
	if s.hub == nil || userID == "" {
		return
	}
	s.hub.SendEvent(userID, event)
}

func (s *Service) loadAccount(ctx context.Context, accountID string) (account *models.Account, accessToken string, err error) {
	acct, err := db.GetAccount(ctx, s.pool, accountID)
	if err != nil {
		return nil, "", err
	}
	token, err := s.encryptor.Decrypt(acct.EncryptedAccessToken)
	if err != nil {
		return nil, "", fmt.Errorf("failed to decrypt access token: %w", err)
	}
	return acct, token, nil
}
