package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aristath/signals-bridge/internal/ingress"
)

// InsertProvider registers a new signal provider.
func (s *Store) InsertProvider(ctx context.Context, p *ingress.Provider) error {
	_, err := s.db.Conn().ExecContext(ctx, `
		INSERT INTO providers (id, name, api_key_hash, webhook_secret, ingest_format, is_active)
		VALUES (?,?,?,?,?,?)`,
		p.ID, p.Name, nullString(p.APIKeyHash), p.WebhookSecret, p.IngestFormat, p.Active,
	)
	if err != nil {
		return fmt.Errorf("insert provider: %w", err)
	}
	return nil
}

// GetProviderByAPIKeyHash implements ingress.ProviderStore: resolves an
// active provider by the sha256 hash of its API key.
func (s *Store) GetProviderByAPIKeyHash(ctx context.Context, hash string) (*ingress.Provider, error) {
	row := s.db.Conn().QueryRowContext(ctx, providerColumns+` WHERE api_key_hash = ? AND is_active = 1`, hash)
	return scanProvider(row)
}

// GetProviderByName implements ingress.ProviderStore: resolves an
// active provider by its display name.
func (s *Store) GetProviderByName(ctx context.Context, name string) (*ingress.Provider, error) {
	row := s.db.Conn().QueryRowContext(ctx, providerColumns+` WHERE name = ? AND is_active = 1`, name)
	return scanProvider(row)
}

// EnsureDefaultProvider implements ingress.ProviderStore: returns the
// oldest active provider, auto-creating one named "default" if none
// exists yet. Mirrors the upstream ingest endpoint's fallback.
func (s *Store) EnsureDefaultProvider(ctx context.Context) (*ingress.Provider, error) {
	row := s.db.Conn().QueryRowContext(ctx, providerColumns+` WHERE is_active = 1 ORDER BY created_at ASC LIMIT 1`)
	p, err := scanProvider(row)
	if err == nil {
		return p, nil
	}

	p = &ingress.Provider{ID: "prov_" + uuid.NewString(), Name: "default", IngestFormat: "structured", Active: true}
	if insertErr := s.InsertProvider(ctx, p); insertErr != nil {
		return nil, fmt.Errorf("auto-create default provider: %w", insertErr)
	}
	return p, nil
}

// ListProvidersHandlerView implements ingress.ProviderStore: returns
// every registered provider for the operator-facing listing route.
func (s *Store) ListProvidersHandlerView(ctx context.Context) ([]*ingress.Provider, error) {
	rows, err := s.db.Conn().QueryContext(ctx, providerColumns+` ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	defer rows.Close()

	var out []*ingress.Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, fmt.Errorf("scan provider: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

const providerColumns = `
	SELECT id, name, api_key_hash, webhook_secret, ingest_format, is_active, created_at FROM providers`

func scanProvider(row scanner) (*ingress.Provider, error) {
	var p ingress.Provider
	var apiKeyHash sql.NullString
	var createdAt time.Time
	if err := row.Scan(&p.ID, &p.Name, &apiKeyHash, &p.WebhookSecret, &p.IngestFormat, &p.Active, &createdAt); err != nil {
		return nil, fmt.Errorf("scan provider: %w", err)
	}
	p.APIKeyHash = apiKeyHash.String
	return &p, nil
}
