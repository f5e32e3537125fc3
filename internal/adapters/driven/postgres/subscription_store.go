package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/sercha-poller/internal/core/domain"
	"github.com/custodia-labs/sercha-poller/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.SubscriptionStore = (*SubscriptionStore)(nil)

const subscriptionColumns = `
	id, name, application_id, connector_key, provider_type, enabled,
	settings, authorization_override, next_poll_at, last_poll_at,
	last_poll_error, last_poll_stats, created_at, updated_at`

// SubscriptionStore implements driven.SubscriptionStore using PostgreSQL.
// Settings and authorization overrides are stored AES-GCM encrypted.
type SubscriptionStore struct {
	db        *DB
	encryptor *SecretEncryptor
}

// NewSubscriptionStore creates a new SubscriptionStore
func NewSubscriptionStore(db *DB, encryptor *SecretEncryptor) *SubscriptionStore {
	return &SubscriptionStore{db: db, encryptor: encryptor}
}

// Save creates or updates a subscription
func (s *SubscriptionStore) Save(ctx context.Context, sub *domain.Subscription) error {
	settings, err := s.encryptor.sealCredentials(sub.ID, columnSettings, &sub.Settings)
	if err != nil {
		return fmt.Errorf("encrypt settings: %w", err)
	}
	override, err := s.encryptor.sealCredentials(sub.ID, columnAuthorization, sub.Authorization)
	if err != nil {
		return fmt.Errorf("encrypt authorization: %w", err)
	}
	stats, err := json.Marshal(sub.LastPollStats)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO subscriptions (` + subscriptionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			connector_key = EXCLUDED.connector_key,
			provider_type = EXCLUDED.provider_type,
			enabled = EXCLUDED.enabled,
			settings = EXCLUDED.settings,
			authorization_override = EXCLUDED.authorization_override,
			next_poll_at = EXCLUDED.next_poll_at,
			updated_at = EXCLUDED.updated_at
	`

	_, err = s.db.ExecContext(ctx, query,
		sub.ID,
		sub.Name,
		sub.ApplicationID,
		sub.ConnectorKey,
		string(sub.ProviderType),
		sub.Enabled,
		settings,
		override,
		NullTime(sub.NextPollAt),
		NullTime(sub.LastPollAt),
		sub.LastPollError,
		stats,
		sub.CreatedAt,
		sub.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: connector %q for application %q", domain.ErrAlreadyExists, sub.ConnectorKey, sub.ApplicationID)
	}
	return err
}

// Get retrieves a subscription by ID
func (s *SubscriptionStore) Get(ctx context.Context, id string) (*domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1`

	sub, err := s.scan(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return sub, err
}

// List retrieves all subscriptions
func (s *SubscriptionStore) List(ctx context.Context) ([]*domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions ORDER BY created_at DESC`
	return s.query(ctx, query)
}

// GetDue returns enabled subscriptions that have never been scheduled or whose
// next poll time has passed, oldest first.
func (s *SubscriptionStore) GetDue(ctx context.Context, now time.Time) ([]*domain.Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE enabled = true
		  AND (next_poll_at IS NULL OR next_poll_at <= $1)
		ORDER BY next_poll_at ASC NULLS FIRST
	`
	return s.query(ctx, query, now)
}

// Delete removes a subscription. Watermarks cascade.
func (s *SubscriptionStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(result)
}

// UpdateSettings replaces the stored settings and clears the authorization override
func (s *SubscriptionStore) UpdateSettings(ctx context.Context, id string, settings domain.Credentials) error {
	blob, err := s.encryptor.sealCredentials(id, columnSettings, &settings)
	if err != nil {
		return fmt.Errorf("encrypt settings: %w", err)
	}

	query := `
		UPDATE subscriptions
		SET settings = $2, authorization_override = NULL, updated_at = $3
		WHERE id = $1
	`
	result, err := s.db.ExecContext(ctx, query, id, blob, time.Now())
	if err != nil {
		return err
	}
	return requireRow(result)
}

// DelayTill sets the earliest time the subscription may be polled again
func (s *SubscriptionStore) DelayTill(ctx context.Context, id string, t time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET next_poll_at = $2 WHERE id = $1`,
		id, t,
	)
	if err != nil {
		return err
	}
	return requireRow(result)
}

// ClaimDue is a conditional DelayTill. A poll that already rescheduled the
// subscription past now keeps its own next_poll_at.
func (s *SubscriptionStore) ClaimDue(ctx context.Context, id string, now, until time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE subscriptions SET next_poll_at = $3
		WHERE id = $1 AND (next_poll_at IS NULL OR next_poll_at <= $2)`,
		id, now, until,
	)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// RecordPoll stores the outcome of the latest poll
func (s *SubscriptionStore) RecordPoll(ctx context.Context, id string, result *domain.PollResult) error {
	stats, err := json.Marshal(result.Stats)
	if err != nil {
		return err
	}

	query := `
		UPDATE subscriptions
		SET last_poll_at = $2, last_poll_error = $3, last_poll_stats = $4
		WHERE id = $1
	`
	res, err := s.db.ExecContext(ctx, query, id, time.Now(), result.Error, stats)
	if err != nil {
		return err
	}
	return requireRow(res)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SubscriptionStore) scan(row rowScanner) (*domain.Subscription, error) {
	var sub domain.Subscription
	var settings, override, stats []byte
	var nextPollAt, lastPollAt sql.NullTime

	err := row.Scan(
		&sub.ID,
		&sub.Name,
		&sub.ApplicationID,
		&sub.ConnectorKey,
		&sub.ProviderType,
		&sub.Enabled,
		&settings,
		&override,
		&nextPollAt,
		&lastPollAt,
		&sub.LastPollError,
		&stats,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	creds, err := s.encryptor.openCredentials(sub.ID, columnSettings, settings)
	if err != nil {
		return nil, fmt.Errorf("decrypt settings for subscription %s: %w", sub.ID, err)
	}
	if creds != nil {
		sub.Settings = *creds
	}
	if sub.Authorization, err = s.encryptor.openCredentials(sub.ID, columnAuthorization, override); err != nil {
		return nil, fmt.Errorf("decrypt authorization for subscription %s: %w", sub.ID, err)
	}
	if len(stats) > 0 {
		if err := json.Unmarshal(stats, &sub.LastPollStats); err != nil {
			return nil, err
		}
	}
	sub.NextPollAt = TimePtr(nextPollAt)
	sub.LastPollAt = TimePtr(lastPollAt)

	return &sub, nil
}

func (s *SubscriptionStore) query(ctx context.Context, query string, args ...any) ([]*domain.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []*domain.Subscription
	for rows.Next() {
		sub, err := s.scan(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// requireRow maps an update that touched nothing to domain.ErrNotFound.
func requireRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
