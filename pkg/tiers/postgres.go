package tiers

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// PostgresStore implements Store over the tier_limits table
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgresStore
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// GetTierLimit retrieves the limit row for a tier
func (s *PostgresStore) GetTierLimit(ctx context.Context, tier Tier) (*Limit, error) {
	query := `
		SELECT tier, max_requests_per_window, window_duration_seconds, feature_flags
		FROM tier_limits
		WHERE tier = $1
	`
	limit, err := scanLimit(s.db.QueryRowContext(ctx, query, tier))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tier limit: %w", err)
	}
	return limit, nil
}

// ListTierLimits retrieves all configured limit rows
func (s *PostgresStore) ListTierLimits(ctx context.Context) ([]*Limit, error) {
	query := `
		SELECT tier, max_requests_per_window, window_duration_seconds, feature_flags
		FROM tier_limits
		ORDER BY tier
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list tier limits: %w", err)
	}
	defer rows.Close()

	var limits []*Limit
	for rows.Next() {
		limit, err := scanLimit(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tier limit: %w", err)
		}
		limits = append(limits, limit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tier limits: %w", err)
	}
	return limits, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanLimit(row rowScanner) (*Limit, error) {
	var (
		limit         Limit
		windowSeconds int
		flagsJSON     []byte
	)
	if err := row.Scan(&limit.Tier, &limit.MaxRequestsPerWindow, &windowSeconds, &flagsJSON); err != nil {
		return nil, err
	}
	limit.WindowDuration = time.Duration(windowSeconds) * time.Second
	if len(flagsJSON) > 0 {
		if err := json.Unmarshal(flagsJSON, &limit.FeatureFlags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal feature flags: %w", err)
		}
	}
	return &limit, nil
}
