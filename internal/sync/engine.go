package sync

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/dvarga/mailpilot/internal/provider"
	"github.com/google/uuid"
)

// State names one phase of a sync run.
type State string

const (
	StateIdle       State = "idle"
	StateStarting   State = "starting"
	StateWaiting    State = "waiting"
	StatePaginating State = "paginating"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// ProviderSyncAPI is the slice of the provider client the engine needs.
type ProviderSyncAPI interface {
	StartSync(ctx context.Context, accessToken string, daysWithin int) (*provider.SyncResponse, error)
	GetUpdated(ctx context.Context, accessToken string, query provider.UpdatedQuery) (*provider.SyncUpdatedResponse, error)
}

// TokenStore persists the delta token an account should resume from.
type TokenStore interface {
	UpdateDeltaToken(ctx context.Context, accountID, deltaToken string) error
}

// BatchReconciler writes one page of messages into the store.
type BatchReconciler interface {
	ReconcileBatch(ctx context.Context, accountID string, messages []provider.Message) (*BatchStats, error)
}

// Result summarizes one sync run.
type Result struct {
	RunID      string
	State      State
	DeltaToken string
	Pages      int
	Reconciled int
	Skipped    int
	SkippedIDs []string
}

// Engine drives initial and incremental syncs: it starts the provider-side
// job, waits for readiness, pages through changed messages reconciling each
// page as it arrives, and persists the final delta token.
type Engine struct {
	api        ProviderSyncAPI
	store      TokenStore
	reconciler BatchReconciler
	daysWithin int

	pollAttempts int
	pollInterval time.Duration
}

// NewEngine creates a sync engine. daysWithin bounds how far back an initial
// sync reaches.
func NewEngine(api ProviderSyncAPI, store TokenStore, reconciler BatchReconciler, daysWithin int) *Engine {
	return &Engine{
		api:          api,
		store:        store,
		reconciler:   reconciler,
		daysWithin:   daysWithin,
		pollAttempts: 30,
		pollInterval: time.Second,
	}
}

// run tracks the state of one sync run. Transitions are logged so a stuck run
// can be located in the logs by its id.
type run struct {
	id        string
	accountID string
	state     State
}

func (r *run) transition(next State) {
	log.Printf("Sync run %s (account %s): %s -> %s", r.id, r.accountID, r.state, next)
	r.state = next
}

// InitialSync performs a full first sync for an account. The provider may need
// time to prepare the job; readiness is polled. A job that never becomes ready
// is a soft failure: the run ends failed but returns a structured empty result
// without error, and keeps priorDeltaToken so nothing is lost.
func (e *Engine) InitialSync(ctx context.Context, accountID, accessToken string, priorDeltaToken *string) (*Result, error) {
	r := &run{id: uuid.New().String(), accountID: accountID, state: StateIdle}
	r.transition(StateStarting)

	resp, err := e.api.StartSync(ctx, accessToken, e.daysWithin)
	if err != nil {
		r.transition(StateFailed)
		return nil, fmt.Errorf("failed to start sync: %w", err)
	}

	r.transition(StateWaiting)
	attempts := 0
	for !resp.Ready {
		attempts++
		if attempts >= e.pollAttempts {
			log.Printf("Warning: Sync run %s (account %s): provider not ready after %d attempts, giving up for now", r.id, accountID, attempts)
			r.transition(StateFailed)
			result := &Result{RunID: r.id, State: StateFailed}
			if priorDeltaToken != nil {
				result.DeltaToken = *priorDeltaToken
			}
			return result, nil
		}
		select {
		case <-ctx.Done():
			r.transition(StateFailed)
			return nil, ctx.Err()
		case <-time.After(e.pollInterval):
		}
		resp, err = e.api.StartSync(ctx, accessToken, e.daysWithin)
		if err != nil {
			r.transition(StateFailed)
			return nil, fmt.Errorf("failed to poll sync readiness: %w", err)
		}
	}

	return e.paginate(ctx, r, accessToken, resp.SyncUpdatedToken)
}

// IncrementalSync pulls changes since the account's stored delta token. A nil
// token means the account has never completed an initial sync; that yields an
// empty result without touching the provider.
func (e *Engine) IncrementalSync(ctx context.Context, accountID, accessToken string, deltaToken *string) (*Result, error) {
	r := &run{id: uuid.New().String(), accountID: accountID, state: StateIdle}

	if deltaToken == nil || *deltaToken == "" {
		log.Printf("Warning: Sync run %s (account %s): no delta token, skipping incremental sync", r.id, accountID)
		r.transition(StateCompleted)
		return &Result{RunID: r.id, State: StateCompleted}, nil
	}

	return e.paginate(ctx, r, accessToken, *deltaToken)
}

// paginate walks the provider's change pages, reconciling each page as it
// arrives. The delta token for the next run is the last nextDeltaToken seen
// across all pages. On a mid-pagination provider error the already-reconciled
// rows stay (upserts are idempotent) but the stored delta token does not
// advance, so the next run replays from the old cursor.
func (e *Engine) paginate(ctx context.Context, r *run, accessToken, deltaToken string) (*Result, error) {
	r.transition(StatePaginating)

	result := &Result{RunID: r.id}
	query := provider.UpdatedQuery{DeltaToken: deltaToken}

	for {
		page, err := e.api.GetUpdated(ctx, accessToken, query)
		if err != nil {
			r.transition(StateFailed)
			result.State = StateFailed
			return nil, fmt.Errorf("failed to fetch updated messages: %w", err)
		}
		result.Pages++

		if len(page.Records) > 0 {
			stats, err := e.reconciler.ReconcileBatch(ctx, r.accountID, page.Records)
			if stats != nil {
				result.Reconciled += stats.Reconciled
				result.Skipped += stats.Skipped
				result.SkippedIDs = append(result.SkippedIDs, stats.SkippedIDs...)
			}
			if err != nil {
				r.transition(StateFailed)
				result.State = StateFailed
				return nil, fmt.Errorf("failed to reconcile batch: %w", err)
			}
		}

		// Every page may carry a fresher delta token; the last one wins.
		if page.NextDeltaToken != "" {
			result.DeltaToken = page.NextDeltaToken
		}

		if page.NextPageToken == "" {
			break
		}
		query = provider.UpdatedQuery{PageToken: page.NextPageToken}
	}

	if result.DeltaToken != "" {
		if err := e.store.UpdateDeltaToken(ctx, r.accountID, result.DeltaToken); err != nil {
			r.transition(StateFailed)
			result.State = StateFailed
			return nil, fmt.Errorf("failed to persist delta token: %w", err)
		}
	}

	r.transition(StateCompleted)
	result.State = StateCompleted
	if result.Skipped > 0 {
		log.Printf("Sync run %s (account %s): reconciled %d messages, skipped %d: %v",
			r.id, r.accountID, result.Reconciled, result.Skipped, result.SkippedIDs)
	}
	return result, nil
}
