// Copyright 2025 Ceramic Network
//
// Metadata Store (C4) - persistent store of per-stream genesis-header
// fields (controllers, model, family, schema, tags), stored as JSONB.

package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ceramicnetwork/cas-anchor/pkg/cas"
)

// MetadataStore handles stream metadata persistence.
type MetadataStore struct {
	client *Client
}

// NewMetadataStore creates a new metadata store.
func NewMetadataStore(client *Client) *MetadataStore {
	return &MetadataStore{client: client}
}

// Put upserts a stream's metadata.
func (s *MetadataStore) Put(ctx context.Context, m *cas.StreamMetadata) error {
	controllers, err := json.Marshal(m.Controllers)
	if err != nil {
		return fmt.Errorf("database: marshal controllers: %w", err)
	}
	tags, err := json.Marshal(m.Tags)
	if err != nil {
		return fmt.Errorf("database: marshal tags: %w", err)
	}
	usedAt := m.UsedAt
	if usedAt.IsZero() {
		usedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO metadata (stream_id, controllers, model, family, schema, tags, used_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (stream_id) DO UPDATE SET
			controllers = EXCLUDED.controllers,
			model = EXCLUDED.model,
			family = EXCLUDED.family,
			schema = EXCLUDED.schema,
			tags = EXCLUDED.tags,
			used_at = EXCLUDED.used_at`
	_, err = s.client.ExecContext(ctx, query, m.StreamID, controllers, m.Model, m.Family, m.Schema, tags, usedAt)
	if err != nil {
		return fmt.Errorf("database: put metadata: %w", err)
	}
	return nil
}

// FindByStreamID retrieves one stream's metadata.
func (s *MetadataStore) FindByStreamID(ctx context.Context, streamID string) (*cas.StreamMetadata, error) {
	query := `SELECT stream_id, controllers, model, family, schema, tags, used_at FROM metadata WHERE stream_id = $1`
	m, err := scanMetadata(s.client.QueryRowContext(ctx, query, streamID))
	if err == sql.ErrNoRows {
		return nil, ErrMetadataNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("database: find metadata: %w", err)
	}
	return m, nil
}

// FindByStreamIDs batch-retrieves metadata for a set of streams.
func (s *MetadataStore) FindByStreamIDs(ctx context.Context, streamIDs []string) (map[string]*cas.StreamMetadata, error) {
	if len(streamIDs) == 0 {
		return nil, nil
	}
	query := `SELECT stream_id, controllers, model, family, schema, tags, used_at FROM metadata WHERE stream_id = ANY($1)`
	rows, err := s.client.QueryContext(ctx, query, pqStringArray(streamIDs))
	if err != nil {
		return nil, fmt.Errorf("database: find metadata by stream ids: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*cas.StreamMetadata, len(streamIDs))
	for rows.Next() {
		m, err := scanMetadata(rows)
		if err != nil {
			return nil, fmt.Errorf("database: scan metadata: %w", err)
		}
		out[m.StreamID] = m
	}
	return out, rows.Err()
}

func scanMetadata(row interface{ Scan(...interface{}) error }) (*cas.StreamMetadata, error) {
	var (
		m                    cas.StreamMetadata
		controllers, tags    []byte
		usedAt               time.Time
	)
	if err := row.Scan(&m.StreamID, &controllers, &m.Model, &m.Family, &m.Schema, &tags, &usedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(controllers, &m.Controllers); err != nil {
		return nil, fmt.Errorf("database: unmarshal controllers: %w", err)
	}
	if err := json.Unmarshal(tags, &m.Tags); err != nil {
		return nil, fmt.Errorf("database: unmarshal tags: %w", err)
	}
	m.UsedAt = usedAt.UTC()
	return &m, nil
}
