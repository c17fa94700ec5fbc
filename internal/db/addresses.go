package db

import (
	"context"
	"fmt"

	"github.com/dvarga/mailpilot/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

// UpsertEmailAddress saves or updates a participant address for an account and
// returns its row. Addresses are unique per (account, address); a later
// sighting with a display name fills in a previously empty one.
func UpsertEmailAddress(ctx context.Context, pool *pgxpool.Pool, addr *models.EmailAddress) (*models.EmailAddress, error) {
	var saved models.EmailAddress

	err := pool.QueryRow(ctx, `
		INSERT INTO email_addresses (account_id, address, name, raw)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_id, address) DO UPDATE SET
			name = COALESCE(NULLIF(EXCLUDED.name, ''), email_addresses.name),
			raw = COALESCE(NULLIF(EXCLUDED.raw, ''), email_addresses.raw)
		RETURNING id, account_id, address, name, raw
	`, addr.AccountID, addr.Address, addr.Name, addr.Raw).Scan(
		&saved.ID,
		&saved.AccountID,
		&saved.Address,
		&saved.Name,
		&saved.Raw,
	)

	if err != nil {
		return nil, fmt.Errorf("failed to upsert email address: %w", err)
	}

	return &saved, nil
}

// GetEmailAddressesForAccount returns every participant address seen on an
// account, for compose autocomplete.
func GetEmailAddressesForAccount(ctx context.Context, pool *pgxpool.Pool, accountID string) ([]*models.EmailAddress, error) {
	rows, err := pool.Query(ctx, `
		SELECT id, account_id, address, name, raw
		FROM email_addresses
		WHERE account_id = $1
		ORDER BY address
	`, accountID)

	if err != nil {
		return nil, fmt.Errorf("failed to get email addresses: %w", err)
	}
	defer rows.Close()

	var addrs []*models.EmailAddress
	for rows.Next() {
		var a models.EmailAddress
		if err := rows.Scan(&a.ID, &a.AccountID, &a.Address, &a.Name, &a.Raw); err != nil {
			return nil, fmt.Errorf("failed to scan email address: %w", err)
		}
		addrs = append(addrs, &a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating email addresses: %w", err)
	}

	return addrs, nil
}

// GetEmailAddressesByIDs returns the addresses with the given ids.
func GetEmailAddressesByIDs(ctx context.Context, pool *pgxpool.Pool, ids []string) ([]*models.EmailAddress, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := pool.Query(ctx, `
		SELECT id, account_id, address, name, raw
		FROM email_addresses
		WHERE id = ANY($1)
	`, ids)

	if err != nil {
		return nil, fmt.Errorf("failed to get email addresses: %w", err)
	}
	defer rows.Close()

	var addrs []*models.EmailAddress
	for rows.Next() {
		var a models.EmailAddress
		if err := rows.Scan(&a.ID, &a.AccountID, &a.Address, &a.Name, &a.Raw); err != nil {
			return nil, fmt.Errorf("failed to scan email address: %w", err)
		}
		addrs = append(addrs, &a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating email addresses: %w", err)
	}

	return addrs, nil
}
