package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvarga/mailpilot/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrAccountNotFound is returned when a requested account cannot be found.
var ErrAccountNotFound = errors.New("account not found")

// SaveAccount saves or updates a linked provider account. Re-linking the same
// mailbox replaces the stored access token but keeps the delta token, so the
// next sync stays incremental.
func SaveAccount(ctx context.Context, pool *pgxpool.Pool, account *models.Account) error {
	_, err := pool.Exec(ctx, `
		INSERT INTO accounts (id, user_id, name, email_address, encrypted_access_token)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			name = EXCLUDED.name,
			email_address = EXCLUDED.email_address,
			encrypted_access_token = EXCLUDED.encrypted_access_token,
			updated_at = now()
	`, account.ID, account.UserID, account.Name, account.EmailAddress, account.EncryptedAccessToken)

	if err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}

	return nil
}

// GetAccount returns an account by its provider-assigned id.
func GetAccount(ctx context.Context, pool *pgxpool.Pool, accountID string) (*models.Account, error) {
	var account models.Account

	err := pool.QueryRow(ctx, `
		SELECT id, user_id, name, email_address, encrypted_access_token, next_delta_token, created_at, updated_at
		FROM accounts
		WHERE id = $1
	`, accountID).Scan(
		&account.ID,
		&account.UserID,
		&account.Name,
		&account.EmailAddress,
		&account.EncryptedAccessToken,
		&account.NextDeltaToken,
		&account.CreatedAt,
		&account.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAccountNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	return &account, nil
}

// GetAccountForUser returns an account only if it belongs to the given user.
func GetAccountForUser(ctx context.Context, pool *pgxpool.Pool, accountID, userID string) (*models.Account, error) {
	account, err := GetAccount(ctx, pool, accountID)
	if err != nil {
		return nil, err
	}
	if account.UserID != userID {
		return nil, ErrAccountNotFound
	}
	return account, nil
}

// GetAccountsForUser returns all accounts linked by the given user.
func GetAccountsForUser(ctx context.Context, pool *pgxpool.Pool, userID string) ([]*models.Account, error) {
	rows, err := pool.Query(ctx, `
		SELECT id, user_id, name, email_address, encrypted_access_token, next_delta_token, created_at, updated_at
		FROM accounts
		WHERE user_id = $1
		ORDER BY created_at
	`, userID)

	if err != nil {
		return nil, fmt.Errorf("failed to get accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*models.Account
	for rows.Next() {
		var account models.Account
		if err := rows.Scan(
			&account.ID,
			&account.UserID,
			&account.Name,
			&account.EmailAddress,
			&account.EncryptedAccessToken,
			&account.NextDeltaToken,
			&account.CreatedAt,
			&account.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, &account)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}

	return accounts, nil
}

// UpdateDeltaToken stores the delta token to use for the account's next
// incremental sync.
func UpdateDeltaToken(ctx context.Context, pool *pgxpool.Pool, accountID, deltaToken string) error {
	tag, err := pool.Exec(ctx, `
		UPDATE accounts
		SET next_delta_token = $2, updated_at = now()
		WHERE id = $1
	`, accountID, deltaToken)

	if err != nil {
		return fmt.Errorf("failed to update delta token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}

	return nil
}
