package campaigns

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/tavernkeep/loremaster/pkg/config"
)

// PostgresRegistry implements Registry over the shared metadata
// database.
type PostgresRegistry struct {
	db *sql.DB
}

func NewPostgresRegistry(cfg config.MetadataConfig) (*PostgresRegistry, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return &PostgresRegistry{db: db}, nil
}

// Ping verifies connectivity at startup.
func (r *PostgresRegistry) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *PostgresRegistry) GetCampaign(ctx context.Context, uuid string) (*Campaign, error) {
	const query = `
		SELECT uuid, name, COALESCE(description, ''), owner_id,
		       graph_label, vector_collection, deleted_at
		FROM campaigns
		WHERE uuid = $1`

	var c Campaign
	err := r.db.QueryRowContext(ctx, query, uuid).Scan(
		&c.UUID, &c.Name, &c.Description, &c.OwnerID,
		&c.GraphLabel, &c.VectorCollection, &c.DeletedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, uuid)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load campaign %s: %w", uuid, err)
	}

	if c.DeletedAt != nil {
		return nil, fmt.Errorf("%w: %s is deleted", ErrNotFound, uuid)
	}

	// Labels are sanitized at campaign creation; a raw one here means
	// the registry was tampered with, and it must never reach Cypher.
	if !IsSafeLabel(c.GraphLabel) {
		return nil, fmt.Errorf("campaign %s has unsafe graph label %q", uuid, c.GraphLabel)
	}

	return &c, nil
}

func (r *PostgresRegistry) IsNoteInCampaign(ctx context.Context, campaignUUID, noteUUID string) (bool, error) {
	const query = `
		SELECT EXISTS (
			SELECT 1 FROM notes
			WHERE uuid = $1 AND campaign_uuid = $2 AND deleted_at IS NULL
		)`

	var exists bool
	if err := r.db.QueryRowContext(ctx, query, noteUUID, campaignUUID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check note membership: %w", err)
	}
	return exists, nil
}

func (r *PostgresRegistry) Close() error {
	return r.db.Close()
}

var _ Registry = (*PostgresRegistry)(nil)
