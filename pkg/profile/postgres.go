package profile

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/tierguard/tierguard/pkg/auth"
	"github.com/tierguard/tierguard/pkg/tiers"
)

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a new PostgresRepository
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Get retrieves a profile by identity subject
func (r *PostgresRepository) Get(ctx context.Context, subject string) (*auth.Profile, error) {
	query := `
		SELECT id, email, tier, created_at, metadata
		FROM profiles
		WHERE id = $1
	`
	p := &auth.Profile{}
	var metadataJSON []byte
	err := r.db.QueryRowContext(ctx, query, subject).Scan(
		&p.ID, &p.Email, &p.Tier, &p.CreatedAt, &metadataJSON,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get profile: %v", ErrUnavailable, err)
	}

	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &p.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal profile metadata: %w", err)
		}
	}
	return p, nil
}

// GetOrCreate returns the existing profile for the identity or creates one
// at the default tier.
//
// The insert uses ON CONFLICT DO NOTHING against the primary key, so two
// concurrent first-time requests race harmlessly: one insert wins, the
// other becomes a no-op, and both read back the same row. An existing
// profile is returned unchanged; in particular its tier is never touched
// here.
func (r *PostgresRepository) GetOrCreate(ctx context.Context, ident *auth.Identity) (*auth.Profile, error) {
	p, err := r.Get(ctx, ident.Subject)
	if err != nil {
		return nil, err
	}
	if p != nil {
		return p, nil
	}

	insert := `
		INSERT INTO profiles (id, email, tier, metadata)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`
	if _, err := r.db.ExecContext(ctx, insert, ident.Subject, ident.Email, tiers.DefaultTier, []byte("{}")); err != nil {
		return nil, fmt.Errorf("%w: failed to create profile: %v", ErrUnavailable, err)
	}

	p, err = r.Get(ctx, ident.Subject)
	if err != nil {
		return nil, err
	}
	if p == nil {
		// Row visible to neither insert nor read; treat as a store fault
		return nil, fmt.Errorf("%w: profile missing after create", ErrUnavailable)
	}
	return p, nil
}
